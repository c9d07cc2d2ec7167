package mergeledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Repository persists committed merge results keyed by idempotency key.
// Rows double as the audit trail of every merge the system has applied.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge ledger repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type ledgerRow struct {
	IdempotencyKey string                    `db:"idempotency_key"`
	PrimaryID      string                    `db:"primary_id"`
	Result         database.JSONB[ledgerDoc] `db:"result"`
	CompletedAt    time.Time                 `db:"completed_at"`
}

type ledgerDoc struct {
	RequestedSecondaryIDs []string `json:"requested_secondary_ids"`
	MergedAccountIDs      []string `json:"merged_account_ids"`
	RelationshipsMoved    int      `json:"relationships_moved"`
	RelationshipsDeduped  int      `json:"relationships_deduped"`
	AccountsRemoved       int      `json:"accounts_removed"`
}

// Get retrieves a committed result by idempotency key. Returns nil when the
// key has never been committed.
func (r *Repository) Get(ctx context.Context, key string) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeledger.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("idempotency_key", "primary_id", "result", "completed_at")
	sb.From("merge_ledger")
	sb.Where(sb.Equal("idempotency_key", key))

	query, args := sb.Build()
	var row ledgerRow
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge ledger entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge ledger entry")
	}

	doc := row.Result.GetValue()
	return &models.MergeResult{
		IdempotencyKey:        row.IdempotencyKey,
		PrimaryID:             row.PrimaryID,
		RequestedSecondaryIDs: doc.RequestedSecondaryIDs,
		MergedAccountIDs:      doc.MergedAccountIDs,
		RelationshipsMoved:    doc.RelationshipsMoved,
		RelationshipsDeduped:  doc.RelationshipsDeduped,
		AccountsRemoved:       doc.AccountsRemoved,
		CompletedAt:           row.CompletedAt,
	}, nil
}

// Record stores a committed result. A replayed key is left untouched so the
// first committed result stays authoritative.
func (r *Repository) Record(ctx context.Context, key string, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "mergeledger.Repository.Record")
	defer span.End()

	doc, err := json.Marshal(ledgerDoc{
		RequestedSecondaryIDs: result.RequestedSecondaryIDs,
		MergedAccountIDs:      result.MergedAccountIDs,
		RelationshipsMoved:    result.RelationshipsMoved,
		RelationshipsDeduped:  result.RelationshipsDeduped,
		AccountsRemoved:       result.AccountsRemoved,
	})
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge result")
	}

	sb := database.NewInsertBuilder()
	sb.InsertInto("merge_ledger")
	sb.Cols("idempotency_key", "primary_id", "result", "completed_at")
	sb.Values(key, result.PrimaryID, doc, result.CompletedAt)
	sb.OnConflictDoNothing()

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to record merge ledger entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge ledger entry")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"idempotency_key": key,
		"primary_id":      result.PrimaryID,
	}).Info("Recorded merge in ledger")

	return nil
}

// List returns the most recent merges, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeledger.Repository.List")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("idempotency_key", "primary_id", "result", "completed_at")
	sb.From("merge_ledger")
	sb.OrderBy("completed_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []ledgerRow
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge ledger entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge ledger entries")
	}

	results := make([]models.MergeResult, 0, len(rows))
	for _, row := range rows {
		doc := row.Result.GetValue()
		results = append(results, models.MergeResult{
			IdempotencyKey:        row.IdempotencyKey,
			PrimaryID:             row.PrimaryID,
			RequestedSecondaryIDs: doc.RequestedSecondaryIDs,
			MergedAccountIDs:      doc.MergedAccountIDs,
			RelationshipsMoved:    doc.RelationshipsMoved,
			RelationshipsDeduped:  doc.RelationshipsDeduped,
			AccountsRemoved:       doc.AccountsRemoved,
			CompletedAt:           row.CompletedAt,
		})
	}

	return results, nil
}
