package clusters

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// ClusterEngine is the detection surface the handlers expose. Satisfied by
// engine.Engine.
type ClusterEngine interface {
	GetDuplicateClusters(ctx context.Context) ([]models.DuplicateCluster, error)
	RefreshClusters(ctx context.Context) ([]models.DuplicateCluster, error)
}

// Handler serves the duplicate cluster routes
type Handler struct {
	engine ClusterEngine
}

func NewHandler(engine ClusterEngine) *Handler {
	return &Handler{engine: engine}
}

// Register registers duplicate cluster routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/refresh", h.Refresh)
}

// List returns the cached duplicate clusters
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.List")
	defer span.End()

	items, err := h.engine.GetDuplicateClusters(ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate clusters")
	}

	return c.JSON(http.StatusOK, models.ClusterListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}

// Refresh recomputes the clusters from current accounts and returns them
func (h *Handler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.Refresh")
	defer span.End()

	items, err := h.engine.RefreshClusters(ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to refresh duplicate clusters")
	}

	return c.JSON(http.StatusOK, models.ClusterListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}
