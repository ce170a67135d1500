// Package routes assembles the HTTP API.
package routes

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Bafix001/zibridge/internal/app"
	"github.com/Bafix001/zibridge/pkg/middleware"
	"github.com/Bafix001/zibridge/pkg/routes/diff"
	"github.com/Bafix001/zibridge/pkg/routes/graph"
	"github.com/Bafix001/zibridge/pkg/routes/health"
	"github.com/Bafix001/zibridge/pkg/routes/project"
	"github.com/Bafix001/zibridge/pkg/routes/restore"
	"github.com/Bafix001/zibridge/pkg/routes/snapshot"
)

// NewServer builds the echo instance serving the API, health checks and
// Prometheus metrics.
func NewServer(a *app.App, checker *health.Checker, serviceName string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.Logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.Logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("")
	project.NewHandler(a, a.Logger).Register(g)
	snapshot.NewHandler(a, a.Logger).Register(g)
	diff.NewHandler(a, a.Logger).Register(g)
	restore.NewHandler(a, a.Logger).Register(g)
	graph.NewHandler(a, a.Logger).Register(g)

	return e
}
