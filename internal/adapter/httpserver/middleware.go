package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/controlrelay/internal/platform/correlation"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, id := correlation.FromRequest(c.Request().Context(), c.Request())
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}
