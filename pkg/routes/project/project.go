package project

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/internal/app"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/routes/params"
	"github.com/Bafix001/zibridge/pkg/validation"
)

// Handler serves projects, their branches and syncs.
type Handler struct {
	app    *app.App
	logger ectologger.Logger
}

func NewHandler(a *app.App, logger ectologger.Logger) *Handler {
	return &Handler{app: a, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/projects", h.Create)
	g.GET("/projects", h.List)
	g.GET("/projects/:id", h.Get)
	g.GET("/projects/:id/branches", h.ListBranches)
	g.POST("/projects/:id/branches", h.CreateBranch)
	g.POST("/projects/:id/sync", h.Sync)
}

type CreateRequest struct {
	Name   string               `json:"name" validate:"required,max=255"`
	Config models.ProjectConfig `json:"config"`
}

// Create creates a project with its main branch
// @Router /projects [post]
func (h *Handler) Create(c echo.Context) error {
	req, err := bind[CreateRequest](c)
	if err != nil {
		return err
	}
	if req.Config.SourceType != "" {
		if err := validation.ValidateValue(req.Config.SourceType, "oneof=hubspot csv file memory"); err != nil {
			return err
		}
	}

	project, err := h.app.CreateProject(c.Request().Context(), req.Name, req.Config)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

// List returns every project
// @Router /projects [get]
func (h *Handler) List(c echo.Context) error {
	projects, err := h.app.Projects.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

// Get returns one project
// @Router /projects/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	project, err := h.app.Projects.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// @Router /projects/{id}/branches [get]
func (h *Handler) ListBranches(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.app.Projects.GetByID(ctx, id); err != nil {
		return err
	}
	branches, err := h.app.Branches.List(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, branches)
}

type BranchRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	// SnapshotID optionally points the new branch at an existing snapshot.
	SnapshotID *uuid.UUID `json:"snapshot_id,omitempty"`
}

// CreateBranch creates a branch, optionally pointing it at a snapshot
// @Router /projects/{id}/branches [post]
func (h *Handler) CreateBranch(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	req, err := bind[BranchRequest](c)
	if err != nil {
		return err
	}
	if _, err := h.app.Projects.GetByID(ctx, id); err != nil {
		return err
	}

	branch := &models.Branch{ProjectID: id, Name: req.Name}
	if req.SnapshotID != nil {
		snap, err := h.app.Snapshots.GetByID(ctx, *req.SnapshotID)
		if err != nil {
			return err
		}
		if snap.ProjectID != id {
			return apperrors.NotFoundf("snapshot %s not found in project %s", snap.ID, id)
		}
		if snap.Status != models.SnapshotCompleted {
			return apperrors.Invalidf("snapshot %s is %s, branches can only point at completed snapshots", snap.ID, snap.Status)
		}
		branch.CurrentSnapshotID = req.SnapshotID
	}
	if err := h.app.Branches.Create(ctx, branch); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, branch)
}

type SyncRequest struct {
	Branch      string   `json:"branch"`
	ObjectTypes []string `json:"object_types,omitempty"`
}

// Sync snapshots the project's source
// @Router /projects/{id}/sync [post]
func (h *Handler) Sync(c echo.Context) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	req, err := bind[SyncRequest](c)
	if err != nil {
		return err
	}

	result, err := h.app.Sync(c.Request().Context(), id, req.Branch, req.ObjectTypes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func bind[T any](c echo.Context) (T, error) {
	var req T
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return req, apperrors.Invalidf("invalid request body")
		}
	}
	return validation.Validate(req)
}
