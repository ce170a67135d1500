package diff

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/internal/app"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/routes/params"
)

// Handler compares snapshots.
type Handler struct {
	app    *app.App
	logger ectologger.Logger
}

func NewHandler(a *app.App, logger ectologger.Logger) *Handler {
	return &Handler{app: a, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/diff", h.Report)
	g.GET("/diff/item", h.Item)
}

// Report classifies every item of new against old
// @Param old query string true "Old snapshot id"
// @Param new query string true "New snapshot id"
// @Router /diff [get]
func (h *Handler) Report(c echo.Context) error {
	oldID, err := params.QueryUUID(c, "old")
	if err != nil {
		return err
	}
	newID, err := params.QueryUUID(c, "new")
	if err != nil {
		return err
	}

	report, err := h.app.Diff.GenerateReport(c.Request().Context(), oldID, newID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Item compares two stored documents field by field
// @Param old_hash query string true "Old content hash"
// @Param new_hash query string true "New content hash"
// @Param ignore query string false "Comma separated fields to leave out"
// @Router /diff/item [get]
func (h *Handler) Item(c echo.Context) error {
	oldHash, newHash := c.QueryParam("old_hash"), c.QueryParam("new_hash")
	if oldHash == "" || newHash == "" {
		return apperrors.Invalidf("old_hash and new_hash are required")
	}
	var ignored []string
	if raw := c.QueryParam("ignore"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				ignored = append(ignored, f)
			}
		}
	}

	d, err := h.app.Diff.DeepDiff(c.Request().Context(), oldHash, newHash, ignored...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
