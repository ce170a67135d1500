package middleware

import (
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/pkg/context"
)

// Logger writes one line per request. Health check and metrics scrape traffic is logged at
// debug so it does not drown the restore and sync calls.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			ctx := req.Context()
			entry := logger.WithContext(ctx).WithFields(context.Fields(ctx)).WithFields(map[string]any{
				"uri":           req.RequestURI,
				"status":        res.Status,
				"latency_ms":    time.Since(start).Milliseconds(),
				"user_agent":    req.UserAgent(),
				"response_size": res.Size,
			})

			path := c.Path()
			if strings.HasPrefix(path, "/health") || path == "/metrics" {
				entry.Debug("Request")
			} else {
				entry.Info("Request")
			}
			return nil
		}
	}
}
