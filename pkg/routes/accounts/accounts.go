package accounts

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

var validate = validator.New()

// AccountStore is the account persistence surface the handlers use
type AccountStore interface {
	List(ctx context.Context) ([]models.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Account, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
}

// DependentStore lists the records owned by an account
type DependentStore interface {
	ListByAccount(ctx context.Context, accountID string) ([]models.DependentRecord, error)
}

// Invalidator drops cached clusters touching an account. May be nil.
type Invalidator interface {
	Invalidate(accountID string)
}

// Handler serves the account routes
type Handler struct {
	accounts    AccountStore
	dependents  DependentStore
	invalidator Invalidator
}

func NewHandler(accounts AccountStore, dependents DependentStore, invalidator Invalidator) *Handler {
	return &Handler{
		accounts:    accounts,
		dependents:  dependents,
		invalidator: invalidator,
	}
}

// Register registers account routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/dependents", h.ListDependents)
}

// List returns all accounts
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "accounts_handler.List")
	defer span.End()

	var items []models.Account
	var err error
	if ownerID := c.QueryParam("owner_id"); ownerID != "" {
		items, err = h.accounts.ListByOwner(ctx, ownerID)
	} else {
		items, err = h.accounts.List(ctx)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.AccountListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}

// Create creates a new account and invalidates its cached clusters
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "accounts_handler.Create")
	defer span.End()

	var req models.CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := h.accounts.Create(ctx, &models.Account{
		Name:          req.Name,
		Domain:        req.Domain,
		Industry:      req.Industry,
		CompanySize:   req.CompanySize,
		AnnualRevenue: req.AnnualRevenue,
		Website:       req.Website,
		Phone:         req.Phone,
		Description:   req.Description,
		Address:       req.Address,
		Tags:          req.Tags,
		OwnerID:       req.OwnerID,
	})
	if err != nil {
		return err
	}

	if h.invalidator != nil {
		h.invalidator.Invalidate(created.ID)
	}

	return c.JSON(http.StatusCreated, created)
}

// Get returns a single account by ID
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "accounts_handler.Get")
	defer span.End()

	found, err := h.accounts.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if found == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "account not found")
	}

	return c.JSON(http.StatusOK, found)
}

// ListDependents returns the contacts, deals, and activities owned by an
// account
func (h *Handler) ListDependents(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "accounts_handler.ListDependents")
	defer span.End()

	records, err := h.dependents.ListByAccount(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, records)
}
