package graph

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/internal/app"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/routes/params"
)

// Handler exposes the relationship graph of a project.
type Handler struct {
	app    *app.App
	logger ectologger.Logger
}

func NewHandler(a *app.App, logger ectologger.Logger) *Handler {
	return &Handler{app: a, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/projects/:id/graph/order", h.Order)
	g.GET("/projects/:id/graph/orphans", h.Orphans)
	g.GET("/projects/:id/graph/impact/:type/:object_id", h.Impact)
}

type OrderResponse struct {
	Levels [][]string `json:"levels"`
	Order  []string   `json:"order"`
}

// Order returns the restoration order of the project's types
// @Router /projects/{id}/graph/order [get]
func (h *Handler) Order(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, err := h.project(c)
	if err != nil {
		return err
	}

	levels, err := h.app.Graph.RestorationLevels(ctx, projectID.String())
	if err != nil {
		return err
	}
	order := []string{}
	for _, level := range levels {
		order = append(order, level...)
	}
	return c.JSON(http.StatusOK, OrderResponse{Levels: levels, Order: order})
}

type OrphansResponse struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	IDs    []string `json:"ids"`
}

// Orphans lists source entities without any link to the target type
// @Param source query string false "Source type (default contacts)"
// @Param target query string false "Target type (default companies)"
// @Router /projects/{id}/graph/orphans [get]
func (h *Handler) Orphans(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, err := h.project(c)
	if err != nil {
		return err
	}
	source, target := c.QueryParam("source"), c.QueryParam("target")
	if source == "" {
		source = "contacts"
	}
	if target == "" {
		target = "companies"
	}
	if source == target {
		return apperrors.Invalidf("source and target must differ")
	}

	ids, err := h.app.Graph.Orphans(ctx, projectID.String(), source, target)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, OrphansResponse{Source: source, Target: target, IDs: ids})
}

// Impact summarizes the relationships a restore of one entity touches
// @Router /projects/{id}/graph/impact/{type}/{object_id} [get]
func (h *Handler) Impact(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, err := h.project(c)
	if err != nil {
		return err
	}
	impact, err := h.app.Graph.Impact(ctx, projectID.String(), c.Param("type"), c.Param("object_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, impact)
}

func (h *Handler) project(c echo.Context) (uuid.UUID, error) {
	id, err := params.UUID(c, "id")
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := h.app.Projects.GetByID(c.Request().Context(), id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
