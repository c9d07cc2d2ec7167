// Package engine exposes the duplicate detection and merge operations as a
// single facade consumed by the HTTP routes and the Kafka handler.
package engine

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/cleanup"
	"github.com/Ramsey-B/aster/pkg/events"
	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/merge"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/registry"
	"github.com/Ramsey-B/aster/pkg/resolve"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

type Engine struct {
	logger   ectologger.Logger
	registry *registry.Registry
	executor *merge.Executor
	resolver *resolve.Resolver
	policy   *cleanup.Policy
	accounts merge.AccountStore
	emitter  *events.Emitter
}

// New creates the engine facade. emitter may be nil when event emission is
// not wired.
func New(
	logger ectologger.Logger,
	reg *registry.Registry,
	executor *merge.Executor,
	policy *cleanup.Policy,
	accounts merge.AccountStore,
	emitter *events.Emitter,
) *Engine {
	return &Engine{
		logger:   logger,
		registry: reg,
		executor: executor,
		resolver: resolve.NewResolver(),
		policy:   policy,
		accounts: accounts,
		emitter:  emitter,
	}
}

// GetDuplicateClusters returns the cached duplicate clusters
func (e *Engine) GetDuplicateClusters(ctx context.Context) ([]models.DuplicateCluster, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.GetDuplicateClusters")
	defer span.End()

	return e.registry.ListClusters(ctx)
}

// RefreshClusters recomputes the duplicate registry from current accounts
func (e *Engine) RefreshClusters(ctx context.Context) ([]models.DuplicateCluster, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.RefreshClusters")
	defer span.End()

	if err := e.registry.Refresh(ctx); err != nil {
		return nil, err
	}

	clusters, err := e.registry.ListClusters(ctx)
	if err != nil {
		return nil, err
	}

	if e.emitter != nil {
		if err := e.emitter.EmitClustersRefreshed(ctx, len(clusters)); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Cluster refresh event not published")
		}
	}

	return clusters, nil
}

// PreviewMerge computes the post-merge primary and its field conflicts
// without mutating anything
func (e *Engine) PreviewMerge(ctx context.Context, req models.PreviewMergeRequest) (*models.PreviewMergeResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.PreviewMerge")
	defer span.End()

	primary, err := e.accounts.Get(ctx, req.PrimaryID)
	if err != nil {
		return nil, merge.WrapError(merge.CodeStorageFailure, err, "loading primary account")
	}
	if primary == nil {
		return nil, merge.NewError(merge.CodePrimaryGone, "primary account %s no longer exists", req.PrimaryID)
	}

	secondaries, err := e.accounts.GetByIDs(ctx, req.SecondaryIDs)
	if err != nil {
		return nil, merge.WrapError(merge.CodeStorageFailure, err, "loading secondary accounts")
	}

	merged, err := e.resolver.Preview(*primary, secondaries, req.Decisions)
	if err != nil {
		return nil, merge.WrapError(merge.CodeValidationFailed, err, "resolving field decisions")
	}

	return &models.PreviewMergeResponse{
		Account:   merged,
		Conflicts: e.resolver.Diff(*primary, secondaries),
	}, nil
}

// SubmitMerge executes a merge job and publishes the resulting events
func (e *Engine) SubmitMerge(ctx context.Context, job models.MergeJob) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.SubmitMerge")
	defer span.End()

	result, err := e.executor.Execute(ctx, job)
	if err != nil {
		return nil, err
	}

	e.publishMerge(ctx, result)
	return result, nil
}

// RunAutoCleanup merges every cluster at or above the confidence threshold
func (e *Engine) RunAutoCleanup(ctx context.Context) ([]models.CleanupOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.RunAutoCleanup")
	defer span.End()

	outcomes, err := e.policy.Run(ctx)
	if err != nil {
		return nil, err
	}

	for _, outcome := range outcomes {
		if outcome.Merged {
			e.publishMerge(ctx, outcome.Result)
		}
	}

	return outcomes, nil
}

// HandleAccountChange invalidates cached clusters for a changed account.
// Wired as the Kafka consumer's message handler.
func (e *Engine) HandleAccountChange(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.HandleAccountChange")
	defer span.End()

	if msg.Change == nil || msg.Change.AccountID == "" {
		return nil
	}

	e.registry.Invalidate(msg.Change.AccountID)

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": msg.Change.AccountID,
		"operation":  msg.Change.Operation,
	}).Debug("Invalidated clusters for changed account")

	return nil
}

// publishMerge emits merge events best-effort; the merge itself has already
// committed
func (e *Engine) publishMerge(ctx context.Context, result *models.MergeResult) {
	if e.emitter == nil || result == nil {
		return
	}

	log := e.logger.WithContext(ctx)
	if err := e.emitter.EmitAccountMerged(ctx, result); err != nil {
		log.WithError(err).Warn("Merge event not published")
	}
	if err := e.emitter.EmitAccountsDeleted(ctx, result.MergedAccountIDs, result.PrimaryID); err != nil {
		log.WithError(err).Warn("Delete events not published")
	}
}
