package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// Idle per-IP limiters are dropped after this long.
const upgradeLimiterExpiry = 5 * time.Minute

// newUpgradeRateLimiter throttles websocket upgrade attempts per client IP.
// Rejections surface as echo errors so the error middleware counts them.
func newUpgradeRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: upgradeLimiterExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, ip string, _ error) error {
			slog.WarnContext(c.Request().Context(), "Websocket upgrade rate limited", "remote_ip", ip)
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many connection attempts")
		},
	})
}
