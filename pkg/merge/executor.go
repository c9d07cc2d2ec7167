package merge

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/resolve"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Executor performs the irreversible consolidation of duplicate accounts.
// It is the only component that mutates account or dependent-record storage,
// and serializes jobs touching overlapping accounts through sorted
// entity-level locks.
type Executor struct {
	logger      ectologger.Logger
	accounts    AccountStore
	dependents  DependentStore
	ledger      LedgerStore
	resolver    *resolve.Resolver
	locks       *LockManager
	invalidator Invalidator
	lockWait    time.Duration
}

// NewExecutor creates a new merge executor. invalidator may be nil when no
// cluster cache is wired.
func NewExecutor(
	logger ectologger.Logger,
	accounts AccountStore,
	dependents DependentStore,
	ledger LedgerStore,
	invalidator Invalidator,
	lockWait time.Duration,
) *Executor {
	return &Executor{
		logger:      logger,
		accounts:    accounts,
		dependents:  dependents,
		ledger:      ledger,
		resolver:    resolve.NewResolver(),
		locks:       NewLockManager(),
		invalidator: invalidator,
		lockWait:    lockWait,
	}
}

// Execute runs a merge job to completion. All mutations succeed together or
// none are visible. A replay with a previously committed idempotency key
// returns the stored result without touching storage.
func (e *Executor) Execute(ctx context.Context, job models.MergeJob) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Executor.Execute")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":      job.PrimaryID,
		"secondary_count": len(job.SecondaryIDs),
		"idempotency_key": job.IdempotencyKey,
	})

	if err := validateJob(job); err != nil {
		return nil, err
	}

	// Completed-key replay check before taking any locks
	if prior, err := e.completedResult(ctx, job); err != nil || prior != nil {
		if prior != nil {
			log.Debug("Replaying previously committed merge result")
		}
		return prior, err
	}

	lockIDs := append([]string{job.PrimaryID}, job.SecondaryIDs...)
	release, err := e.locks.AcquireAll(ctx, lockIDs, e.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	// A concurrent submission with the same key may have committed while we
	// waited on locks
	if prior, err := e.completedResult(ctx, job); err != nil || prior != nil {
		return prior, err
	}

	primary, err := e.accounts.Get(ctx, job.PrimaryID)
	if err != nil {
		return nil, WrapError(CodeStorageFailure, err, "loading primary account")
	}
	if primary == nil {
		return nil, NewError(CodePrimaryGone, "primary account %s no longer exists", job.PrimaryID)
	}

	// Secondaries consumed by an earlier merge are silently dropped
	secondaries, err := e.accounts.GetByIDs(ctx, job.SecondaryIDs)
	if err != nil {
		return nil, WrapError(CodeStorageFailure, err, "loading secondary accounts")
	}

	result, err := e.commit(ctx, job, *primary, secondaries, log)
	if err != nil {
		return nil, err
	}

	if e.invalidator != nil {
		for _, id := range lockIDs {
			e.invalidator.Invalidate(id)
		}
	}

	log.WithFields(map[string]any{
		"accounts_removed":      result.AccountsRemoved,
		"relationships_moved":   result.RelationshipsMoved,
		"relationships_deduped": result.RelationshipsDeduped,
	}).Info("Merge committed")

	return result, nil
}

// commit runs the mutation sequence, wrapped in a single transaction when
// the account store supports one
func (e *Executor) commit(
	ctx context.Context,
	job models.MergeJob,
	primary models.Account,
	secondaries []models.Account,
	log ectologger.Logger,
) (*models.MergeResult, error) {
	if beginner, ok := e.accounts.(TxBeginner); ok {
		ctxTx, tx, err := beginner.GetTx(ctx, &sql.TxOptions{})
		if err != nil {
			return nil, WrapError(CodeStorageFailure, err, "beginning merge transaction")
		}
		defer tx.Rollback(ctxTx)

		result, err := e.mutate(ctxTx, job, primary, secondaries, log)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctxTx); err != nil {
			return nil, WrapError(CodeStorageFailure, err, "committing merge transaction")
		}
		return result, nil
	}

	return e.mutate(ctx, job, primary, secondaries, log)
}

func (e *Executor) mutate(
	ctx context.Context,
	job models.MergeJob,
	primary models.Account,
	secondaries []models.Account,
	log ectologger.Logger,
) (*models.MergeResult, error) {
	merged, err := e.resolver.Preview(primary, secondaries, job.Decisions)
	if err != nil {
		return nil, WrapError(CodeValidationFailed, err, "resolving field decisions")
	}

	if err := e.accounts.Update(ctx, &merged); err != nil {
		return nil, WrapError(CodeStorageFailure, err, "applying resolved fields to primary")
	}

	secondaryIDs := make([]string, 0, len(secondaries))
	for _, s := range secondaries {
		secondaryIDs = append(secondaryIDs, s.ID)
	}

	moved, deduped, err := e.consolidateDependents(ctx, primary.ID, secondaryIDs)
	if err != nil {
		return nil, err
	}

	for _, id := range secondaryIDs {
		if err := e.accounts.Delete(ctx, id); err != nil {
			return nil, WrapError(CodeStorageFailure, err, "deleting secondary account %s", id)
		}
	}

	result := &models.MergeResult{
		IdempotencyKey:        job.IdempotencyKey,
		PrimaryID:             primary.ID,
		RequestedSecondaryIDs: sortedCopy(job.SecondaryIDs),
		MergedAccountIDs:      secondaryIDs,
		RelationshipsMoved:    moved,
		RelationshipsDeduped:  deduped,
		AccountsRemoved:       len(secondaryIDs),
		CompletedAt:           time.Now().UTC(),
	}

	if err := e.ledger.Record(ctx, job.IdempotencyKey, result); err != nil {
		return nil, WrapError(CodeStorageFailure, err, "recording idempotency key")
	}

	return result, nil
}

// consolidateDependents reassigns every dependent record owned by a
// secondary onto the primary, then removes natural-key collisions, keeping
// the record with the most recent activity (ties to the lowest ID)
func (e *Executor) consolidateDependents(ctx context.Context, primaryID string, secondaryIDs []string) (moved, deduped int, err error) {
	if len(secondaryIDs) == 0 {
		return 0, 0, nil
	}

	incoming, err := e.dependents.ListByAccounts(ctx, secondaryIDs)
	if err != nil {
		return 0, 0, WrapError(CodeStorageFailure, err, "listing secondary dependent records")
	}
	existing, err := e.dependents.ListByAccount(ctx, primaryID)
	if err != nil {
		return 0, 0, WrapError(CodeStorageFailure, err, "listing primary dependent records")
	}

	all := make([]models.DependentRecord, 0, len(incoming)+len(existing))
	all = append(all, existing...)
	all = append(all, incoming...)

	winners := pickWinners(all)

	for _, record := range all {
		if winners[record.NaturalKey] == record.ID {
			if record.AccountID != primaryID {
				if err := e.dependents.ReassignOwner(ctx, record.ID, primaryID); err != nil {
					return 0, 0, WrapError(CodeStorageFailure, err, "reassigning dependent record %s", record.ID)
				}
				moved++
			}
			continue
		}
		if err := e.dependents.Delete(ctx, record.ID); err != nil {
			return 0, 0, WrapError(CodeStorageFailure, err, "removing duplicate dependent record %s", record.ID)
		}
		deduped++
	}

	return moved, deduped, nil
}

// pickWinners maps each natural key to the surviving record's ID
func pickWinners(records []models.DependentRecord) map[string]string {
	byKey := make(map[string][]models.DependentRecord)
	for _, r := range records {
		byKey[r.NaturalKey] = append(byKey[r.NaturalKey], r)
	}

	winners := make(map[string]string, len(byKey))
	for key, group := range byKey {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].LastActivityAt.Equal(group[j].LastActivityAt) {
				return group[i].LastActivityAt.After(group[j].LastActivityAt)
			}
			return group[i].ID < group[j].ID
		})
		winners[key] = group[0].ID
	}
	return winners
}

// completedResult loads a previously committed result for the job's
// idempotency key, rejecting a key reused for a different job. The committed
// job shape is the primary plus the requested secondary set, so a replay with
// a different secondary list under the same key fails instead of silently
// returning the old result
func (e *Executor) completedResult(ctx context.Context, job models.MergeJob) (*models.MergeResult, error) {
	prior, err := e.ledger.Get(ctx, job.IdempotencyKey)
	if err != nil {
		return nil, WrapError(CodeStorageFailure, err, "reading idempotency ledger")
	}
	if prior == nil {
		return nil, nil
	}
	if prior.PrimaryID != job.PrimaryID || !sameIDSet(prior.RequestedSecondaryIDs, job.SecondaryIDs) {
		return nil, NewError(CodeValidationFailed, "idempotency key %s was committed for a different job", job.IdempotencyKey)
	}
	return prior, nil
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sb := sortedCopy(b)
	for i, id := range sortedCopy(a) {
		if id != sb[i] {
			return false
		}
	}
	return true
}

func validateJob(job models.MergeJob) error {
	if job.IdempotencyKey == "" {
		return NewError(CodeValidationFailed, "idempotency key is required")
	}
	if job.PrimaryID == "" {
		return NewError(CodeValidationFailed, "primary account ID is required")
	}
	if len(job.SecondaryIDs) == 0 {
		return NewError(CodeValidationFailed, "at least one secondary account ID is required")
	}

	seen := make(map[string]bool, len(job.SecondaryIDs))
	for _, id := range job.SecondaryIDs {
		if id == "" {
			return NewError(CodeValidationFailed, "secondary account ID must not be empty")
		}
		if id == job.PrimaryID {
			return NewError(CodeValidationFailed, "secondary %s duplicates the primary", id)
		}
		if seen[id] {
			return NewError(CodeValidationFailed, "secondary %s appears twice", id)
		}
		seen[id] = true
	}

	for _, d := range job.Decisions {
		if d.SourceAccountID == "" && d.Value == nil {
			return NewError(CodeValidationFailed, "decision for field %q names no source and no value", d.Field)
		}
	}

	return nil
}
