package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Bafix001/zibridge/pkg/context"
)

// HeaderProjectID lets clients scope log lines to a project on routes that
// do not carry it in the path.
const HeaderProjectID = "X-Project-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			projectID := req.Header.Get(HeaderProjectID)
			if strings.HasPrefix(c.Path(), "/projects/:id") {
				projectID = c.Param("id")
			}

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			if projectID != "" {
				ctx = context.SetProjectID(ctx, projectID)
			}

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
