package restore

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/internal/app"
	zcontext "github.com/Bafix001/zibridge/pkg/context"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/routes/params"
)

// Handler plans and runs restores.
type Handler struct {
	app    *app.App
	logger ectologger.Logger
}

func NewHandler(a *app.App, logger ectologger.Logger) *Handler {
	return &Handler{app: a, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/projects/:id/restore/plan", h.Plan)
	g.POST("/projects/:id/restore/execute", h.Execute)
	g.GET("/projects/:id/mappings", h.Mappings)
}

// Request names the snapshot to restore. Without SnapshotID the current
// snapshot of Branch (default main) is used.
type Request struct {
	SnapshotID *uuid.UUID `json:"snapshot_id,omitempty"`
	Branch     string     `json:"branch,omitempty"`
	DryRun     bool       `json:"dry_run"`
}

// Plan previews a restore without touching the live system
// @Router /projects/{id}/restore/plan [post]
func (h *Handler) Plan(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, snapshotID, _, err := h.target(c)
	if err != nil {
		return err
	}

	engine, err := h.app.Restorer(ctx, projectID)
	if err != nil {
		return err
	}
	plan, err := engine.Plan(zcontext.SetSnapshotID(ctx, snapshotID.String()), projectID, snapshotID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

// Execute plans and applies a restore; dry_run only plans
// @Router /projects/{id}/restore/execute [post]
func (h *Handler) Execute(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, snapshotID, req, err := h.target(c)
	if err != nil {
		return err
	}

	engine, err := h.app.Restorer(ctx, projectID)
	if err != nil {
		return err
	}
	result, err := engine.Run(zcontext.SetSnapshotID(ctx, snapshotID.String()), projectID, snapshotID, req.DryRun)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Mappings lists the identifier translations recorded by restores
// @Router /projects/{id}/mappings [get]
func (h *Handler) Mappings(c echo.Context) error {
	ctx := c.Request().Context()
	projectID, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.app.Projects.GetByID(ctx, projectID); err != nil {
		return err
	}
	mappings, err := h.app.Mappings.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mappings)
}

// target reads the project id and the restore request.
func (h *Handler) target(c echo.Context) (projectID, snapshotID uuid.UUID, req Request, err error) {
	projectID, err = params.UUID(c, "id")
	if err != nil {
		return
	}
	if err = c.Bind(&req); err != nil {
		err = apperrors.Invalidf("invalid request body")
		return
	}

	if req.SnapshotID != nil {
		return projectID, *req.SnapshotID, req, nil
	}
	snapshotID, err = h.branchHead(c.Request().Context(), projectID, req.Branch)
	return
}

func (h *Handler) branchHead(ctx context.Context, projectID uuid.UUID, name string) (uuid.UUID, error) {
	if name == "" {
		name = models.DefaultBranch
	}
	branch, err := h.app.Branches.GetByName(ctx, projectID, name)
	if err != nil {
		return uuid.Nil, err
	}
	if branch.CurrentSnapshotID == nil {
		return uuid.Nil, apperrors.Invalidf("branch %q has no snapshot yet", name)
	}
	return *branch.CurrentSnapshotID, nil
}
