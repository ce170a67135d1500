package snapshot

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/internal/app"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/routes/params"
	snapshotpkg "github.com/Bafix001/zibridge/pkg/snapshot"
)

const defaultListLimit = 50

// Handler serves snapshot metadata and contents.
type Handler struct {
	app    *app.App
	logger ectologger.Logger
}

func NewHandler(a *app.App, logger ectologger.Logger) *Handler {
	return &Handler{app: a, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/projects/:id/snapshots", h.List)
	g.GET("/snapshots/:id", h.Get)
	g.GET("/snapshots/:id/items", h.Items)
	g.GET("/snapshots/:id/entities", h.Entities)
	g.GET("/blobs/:hash", h.Blob)
}

// List returns a project's snapshots, newest first
// @Param limit query int false "Maximum snapshots (default 50, 0 for all)"
// @Router /projects/{id}/snapshots [get]
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	limit, err := params.QueryInt(c, "limit", defaultListLimit)
	if err != nil {
		return err
	}
	if _, err := h.app.Projects.GetByID(ctx, id); err != nil {
		return err
	}

	snapshots, err := h.app.Snapshots.ListByProject(ctx, id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshots)
}

// @Router /snapshots/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	snap, err := h.app.Snapshots.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// Items lists the inventory of a snapshot, optionally for one type
// @Param type query string false "Object type"
// @Router /snapshots/{id}/items [get]
func (h *Handler) Items(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.app.Snapshots.GetByID(ctx, id); err != nil {
		return err
	}
	items, err := h.app.Items.ListBySnapshot(ctx, id, c.QueryParam("type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

type EntitiesResponse struct {
	Entities []snapshotpkg.StoredEntity `json:"entities"`
	Failures []snapshotpkg.Failure      `json:"failures"`
}

// Entities returns the decoded entities of one type
// @Param type query string true "Object type"
// @Router /snapshots/{id}/entities [get]
func (h *Handler) Entities(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.UUID(c, "id")
	if err != nil {
		return err
	}
	objectType := c.QueryParam("type")
	if objectType == "" {
		return apperrors.Invalidf("type is required")
	}
	if _, err := h.app.Snapshots.GetByID(ctx, id); err != nil {
		return err
	}

	entities, failures, err := h.app.Reader.Entities(ctx, id, objectType)
	if err != nil {
		return err
	}
	if failures == nil {
		failures = []snapshotpkg.Failure{}
	}
	return c.JSON(http.StatusOK, EntitiesResponse{Entities: entities, Failures: failures})
}

type BlobResponse struct {
	Hash       string         `json:"hash"`
	Properties map[string]any `json:"properties"`
	Links      []string       `json:"links"`
}

// Blob returns a stored document after checking it against its hash
// @Router /blobs/{hash} [get]
func (h *Handler) Blob(c echo.Context) error {
	hash := c.Param("hash")
	props, links, err := h.app.Reader.Load(c.Request().Context(), hash)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BlobResponse{Hash: hash, Properties: props, Links: links})
}
