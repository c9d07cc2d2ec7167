package dependent

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/aster/pkg/database"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

var dependentColumns = []string{
	"id", "account_id", "kind", "natural_key", "data", "last_activity_at",
	"created_at", "updated_at",
}

// Repository handles dependent record persistence for contacts, deals, and
// activities hanging off accounts
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new dependent record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new dependent record
func (r *Repository) Create(ctx context.Context, record *models.DependentRecord) (*models.DependentRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "dependent.Repository.Create")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("dependent_records")
	sb.Cols(dependentColumns...)
	sb.Values(
		record.ID, record.AccountID, record.Kind, record.NaturalKey,
		record.Data, record.LastActivityAt, record.CreatedAt, record.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create dependent record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create dependent record")
	}

	return record, nil
}

// Get retrieves a dependent record by ID. Returns nil when none exists.
func (r *Repository) Get(ctx context.Context, id string) (*models.DependentRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "dependent.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(dependentColumns...)
	sb.From("dependent_records")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var record models.DependentRecord
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &record, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get dependent record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get dependent record")
	}

	return &record, nil
}

// ListByAccount retrieves the records owned by one account
func (r *Repository) ListByAccount(ctx context.Context, accountID string) ([]models.DependentRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "dependent.Repository.ListByAccount")
	defer span.End()

	return r.list(ctx, []string{accountID})
}

// ListByAccounts retrieves the records owned by any of the given accounts
func (r *Repository) ListByAccounts(ctx context.Context, accountIDs []string) ([]models.DependentRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "dependent.Repository.ListByAccounts")
	defer span.End()

	if len(accountIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx, accountIDs)
}

func (r *Repository) list(ctx context.Context, accountIDs []string) ([]models.DependentRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(dependentColumns...)
	sb.From("dependent_records")
	sb.Where(sb.In("account_id", sqlbuilder.Flatten(accountIDs)...))
	sb.OrderBy("id")

	query, args := sb.Build()
	var records []models.DependentRecord
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list dependent records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list dependent records")
	}

	return records, nil
}

// ReassignOwner moves a record to a new owning account
func (r *Repository) ReassignOwner(ctx context.Context, recordID string, accountID string) error {
	ctx, span := tracing.StartSpan(ctx, "dependent.Repository.ReassignOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("dependent_records")
	sb.Set(
		sb.Assign("account_id", accountID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", recordID))

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reassign dependent record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign dependent record")
	}

	return nil
}

// Delete removes a dependent record permanently
func (r *Repository) Delete(ctx context.Context, recordID string) error {
	ctx, span := tracing.StartSpan(ctx, "dependent.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("dependent_records")
	sb.Where(sb.Equal("id", recordID))

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete dependent record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete dependent record")
	}

	return nil
}
