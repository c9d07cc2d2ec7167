package account

import (
	"context"
	"database/sql"
	"fmt"
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

var accountColumns = []string{
	"id", "name", "domain", "industry", "company_size", "annual_revenue",
	"website", "phone", "description", "address", "tags", "owner_id",
	"health_score", "created_at", "updated_at",
}

// Repository handles account persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new account repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetTx opens a transaction carried on the returned context. Repository
// calls made with that context run inside it.
func (r *Repository) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return r.db.GetTx(ctx, opts)
}

// Create creates a new account
func (r *Repository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Create")
	defer span.End()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("accounts")
	sb.Cols(accountColumns...)
	sb.Values(
		account.ID, account.Name, account.Domain, account.Industry,
		account.CompanySize, account.AnnualRevenue, account.Website,
		account.Phone, account.Description, account.Address, account.Tags,
		account.OwnerID, account.HealthScore, account.CreatedAt,
		account.UpdatedAt,
	)

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create account")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": account.ID}).Info("Created account")
	return account, nil
}

// Get retrieves an account by ID. Returns nil when no account exists.
func (r *Repository) Get(ctx context.Context, id string) (*models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(accountColumns...)
	sb.From("accounts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var account models.Account
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &account, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get account")
	}

	return &account, nil
}

// GetByIDs retrieves the accounts that still exist among the given IDs
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(accountColumns...)
	sb.From("accounts")
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))
	sb.OrderBy("id")

	query, args := sb.Build()
	var accounts []models.Account
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &accounts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get accounts by IDs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get accounts")
	}

	return accounts, nil
}

// List retrieves all accounts ordered by creation time
func (r *Repository) List(ctx context.Context) ([]models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(accountColumns...)
	sb.From("accounts")
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var accounts []models.Account
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &accounts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list accounts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list accounts")
	}

	return accounts, nil
}

// ListByOwner retrieves the accounts assigned to an owner
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.ListByOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(accountColumns...)
	sb.From("accounts")
	sb.Where(sb.Equal("owner_id", ownerID))
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var accounts []models.Account
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &accounts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list accounts by owner")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list accounts")
	}

	return accounts, nil
}

// Update replaces the account's mutable fields
func (r *Repository) Update(ctx context.Context, account *models.Account) error {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Update")
	defer span.End()

	account.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("accounts")
	sb.Set(
		sb.Assign("name", account.Name),
		sb.Assign("domain", account.Domain),
		sb.Assign("industry", account.Industry),
		sb.Assign("company_size", account.CompanySize),
		sb.Assign("annual_revenue", account.AnnualRevenue),
		sb.Assign("website", account.Website),
		sb.Assign("phone", account.Phone),
		sb.Assign("description", account.Description),
		sb.Assign("address", account.Address),
		sb.Assign("tags", account.Tags),
		sb.Assign("owner_id", account.OwnerID),
		sb.Assign("health_score", account.HealthScore),
		sb.Assign("updated_at", account.UpdatedAt),
	)
	sb.Where(sb.Equal("id", account.ID))

	query, args := sb.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update account")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update account")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("account %s not found", account.ID))
	}

	return nil
}

// Delete removes an account permanently
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "account.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("accounts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete account")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete account")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted account")
	return nil
}
