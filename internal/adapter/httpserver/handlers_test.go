package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/controlrelay/internal/domain"
	"github.com/pscheid92/controlrelay/internal/platform/config"
	"github.com/pscheid92/controlrelay/internal/relay"
	"github.com/stretchr/testify/require"
)

// nopTransport drops everything the relay publishes.
type nopTransport struct{}

func (nopTransport) Join(string, string) {}
func (nopTransport) Leave(string, string) {}
func (nopTransport) Send(string, string, any) {}
func (nopTransport) Broadcast(string, string, any) {}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:          "development",
		Port:            "8080",
		Namespaces:      "default",
		UpdateFrequency: domain.DefaultUpdateFrequency,
		ConnectionRate:  100,
		ConnectionBurst: 100,
	}
}

func newTestManager(t *testing.T, namespaces ...string) *relay.Manager {
	t.Helper()
	manager := relay.NewManager(nopTransport{}, clockwork.NewFakeClock(), nil)
	for _, name := range namespaces {
		require.NoError(t, manager.Configure(name, domain.DefaultOptions()))
	}
	t.Cleanup(manager.Shutdown)
	return manager
}

func newTestServer(t *testing.T, relay relayService, opts ...func(*Server)) *Server {
	t.Helper()

	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUpgradeRequired)
	})
	srv, err := NewServer(testConfig(), relay, ws, prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// do sends a request through the full middleware stack.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

type namespaceRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *namespaceRecorder) record(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, names)
}
