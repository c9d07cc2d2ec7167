package mergejob

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/merge"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

var validate = validator.New()

// MergeEngine is the merge surface the handlers expose. Satisfied by
// engine.Engine.
type MergeEngine interface {
	PreviewMerge(ctx context.Context, req models.PreviewMergeRequest) (*models.PreviewMergeResponse, error)
	SubmitMerge(ctx context.Context, job models.MergeJob) (*models.MergeResult, error)
	RunAutoCleanup(ctx context.Context) ([]models.CleanupOutcome, error)
}

// Ledger lists committed merges. Satisfied by mergeledger.Repository.
type Ledger interface {
	List(ctx context.Context, limit int) ([]models.MergeResult, error)
}

// Handler serves the merge routes
type Handler struct {
	engine MergeEngine
	ledger Ledger
}

func NewHandler(engine MergeEngine, ledger Ledger) *Handler {
	return &Handler{
		engine: engine,
		ledger: ledger,
	}
}

// Register registers merge routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Submit)
	g.GET("", h.History)
	g.POST("/preview", h.Preview)
	g.POST("/cleanup", h.Cleanup)
}

// Preview returns the post-merge primary and its conflicts without mutating
// anything
func (h *Handler) Preview(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mergejob_handler.Preview")
	defer span.End()

	var req models.PreviewMergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	preview, err := h.engine.PreviewMerge(ctx, req)
	if err != nil {
		return mapMergeError(err)
	}

	return c.JSON(http.StatusOK, preview)
}

// Submit executes a merge job
func (h *Handler) Submit(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mergejob_handler.Submit")
	defer span.End()

	var job models.MergeJob
	if err := c.Bind(&job); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(job); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.engine.SubmitMerge(ctx, job)
	if err != nil {
		return mapMergeError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// Cleanup runs an auto-cleanup pass over high-confidence clusters
func (h *Handler) Cleanup(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mergejob_handler.Cleanup")
	defer span.End()

	outcomes, err := h.engine.RunAutoCleanup(ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to run cleanup")
	}

	return c.JSON(http.StatusOK, outcomes)
}

// History returns recently committed merges, newest first
func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mergejob_handler.History")
	defer span.End()

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = parsed
	}

	results, err := h.ledger.List(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, results)
}

// mapMergeError translates the merge error taxonomy onto HTTP statuses
func mapMergeError(err error) error {
	switch merge.CodeOf(err) {
	case merge.CodeValidationFailed:
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case merge.CodePrimaryGone:
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case merge.CodeLocked:
		return httperror.NewHTTPError(http.StatusLocked, err.Error())
	case merge.CodeStorageFailure:
		return httperror.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
