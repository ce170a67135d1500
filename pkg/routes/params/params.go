// Package params reads typed request parameters.
package params

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

// UUID parses a path parameter.
func UUID(c echo.Context, name string) (uuid.UUID, error) {
	return parse(name, c.Param(name))
}

// QueryUUID parses a required query parameter.
func QueryUUID(c echo.Context, name string) (uuid.UUID, error) {
	return parse(name, c.QueryParam(name))
}

// QueryInt returns def when the parameter is absent.
func QueryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Invalidf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func parse(name, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, apperrors.Invalidf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Invalidf("%s must be a uuid, got %q", name, raw)
	}
	return id, nil
}
