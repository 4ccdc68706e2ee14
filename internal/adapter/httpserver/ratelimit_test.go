package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upgradeAttempt(t *testing.T, e *echo.Echo, h echo.HandlerFunc, remoteAddr string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()

	err := h(e.NewContext(req, rec))
	if err == nil {
		return rec.Code
	}
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "unexpected error type %T", err)
	return httpErr.Code
}

func newLimitedHandler(perSecond float64, burst int) echo.HandlerFunc {
	return newUpgradeRateLimiter(perSecond, burst)(func(c echo.Context) error {
		return c.NoContent(http.StatusSwitchingProtocols)
	})
}

func TestUpgradeRateLimiter_BurstAllowed(t *testing.T) {
	e := echo.New()
	h := newLimitedHandler(10, 3)

	for range 3 {
		assert.Equal(t, http.StatusSwitchingProtocols, upgradeAttempt(t, e, h, "10.0.0.7:4000"))
	}
}

func TestUpgradeRateLimiter_RejectsBeyondBurst(t *testing.T) {
	e := echo.New()
	h := newLimitedHandler(0.01, 2)

	assert.Equal(t, http.StatusSwitchingProtocols, upgradeAttempt(t, e, h, "10.0.0.7:4000"))
	assert.Equal(t, http.StatusSwitchingProtocols, upgradeAttempt(t, e, h, "10.0.0.7:4001"))
	assert.Equal(t, http.StatusTooManyRequests, upgradeAttempt(t, e, h, "10.0.0.7:4002"))
}

func TestUpgradeRateLimiter_PerIP(t *testing.T) {
	e := echo.New()
	h := newLimitedHandler(0.01, 1)

	assert.Equal(t, http.StatusSwitchingProtocols, upgradeAttempt(t, e, h, "10.0.0.7:4000"))
	assert.Equal(t, http.StatusTooManyRequests, upgradeAttempt(t, e, h, "10.0.0.7:4000"))

	// A phone on another address has its own bucket.
	assert.Equal(t, http.StatusSwitchingProtocols, upgradeAttempt(t, e, h, "10.0.0.8:4000"))
}
