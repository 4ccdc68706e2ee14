package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/controlrelay/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationMiddleware_GeneratesID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/namespaces", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	handler := correlationMiddleware(func(c echo.Context) error {
		id, ok := correlation.ID(c.Request().Context())
		require.True(t, ok)
		seen = id
		return nil
	})

	require.NoError(t, handler(c))
	assert.Len(t, seen, 8)
	assert.Equal(t, seen, rec.Header().Get(correlation.Header))
}

func TestCorrelationMiddleware_PropagatesCallerID(t *testing.T) {
	srv := newTestServer(t, newTestManager(t, "default"))

	req := httptest.NewRequest(http.MethodGet, "/api/namespaces/default", nil)
	req.Header.Set(correlation.Header, "from-screen")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-screen", rec.Header().Get(correlation.Header))
}

func TestRoutes_UnknownPath(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))

	rec := do(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_MetricsExposed(t *testing.T) {
	srv := newTestServer(t, newTestManager(t, "default"))

	do(t, srv, http.MethodGet, "/api/namespaces/missing", "")
	rec := do(t, srv, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `controlrelay_http_errors_total{type="not_found"} 1`)
	assert.Contains(t, rec.Body.String(), `controlrelay_http_requests_total`)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, newTestManager(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/layout", nil)
	req.Header.Set("Origin", "http://192.168.1.50:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutes_WebSocketRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionRate = 0.01
	cfg.ConnectionBurst = 1
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUpgradeRequired)
	})
	srv, err := NewServer(cfg, newTestManager(t), ws, prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	first := do(t, srv, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusUpgradeRequired, first.Code)

	second := do(t, srv, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRoutes_WebSocketRateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionRate = 0.01
	cfg.ConnectionBurst = 1
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUpgradeRequired)
	})
	srv, err := NewServer(cfg, newTestManager(t), ws, prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	for i, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set(echo.HeaderXForwardedFor, forwarded)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if i == 0 {
			assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "a spoofed header must not open a fresh bucket")
	}
}
