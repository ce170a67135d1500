package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is any dependency that can report reachability: the metadata
// database, Redis, the graph driver.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

const checkTimeout = 3 * time.Second

// Checker handles health check endpoints
type Checker struct {
	checks    map[string]Pinger
	version   string
	startTime time.Time
	ready     atomic.Bool
}

// NewChecker creates a health checker. Nil pingers are skipped.
func NewChecker(version string, checks map[string]Pinger) *Checker {
	c := &Checker{
		checks:    map[string]Pinger{},
		version:   version,
		startTime: time.Now(),
	}
	for name, p := range checks {
		if p != nil {
			c.checks[name] = p
		}
	}
	return c
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckResult represents an individual check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health pings every dependency and reports 503 when any is down.
func (c *Checker) Health(ctx echo.Context) error {
	status := c.run(ctx.Request().Context())

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return ctx.JSON(httpStatus, status)
}

// Live returns the liveness status (is the service running)
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready is 200 once startup finished and every dependency answers.
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	status := c.run(ctx.Request().Context())
	if status.Status == "unhealthy" {
		return ctx.JSON(http.StatusServiceUnavailable, status)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (c *Checker) run(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(c.checks)),
		ReportedAt: time.Now(),
	}

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.checks[name].Ping(pctx)
		latency := time.Since(start)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = &CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		status.Checks[name] = &CheckResult{Status: "healthy", Latency: latency.String()}
	}
	return status
}
