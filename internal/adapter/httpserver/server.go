package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/pscheid92/controlrelay/internal/domain"
	"github.com/pscheid92/controlrelay/internal/platform/config"
	apperrors "github.com/pscheid92/controlrelay/internal/platform/errors"
)

type relayService interface {
	Namespaces() []string
	Has(name string) bool
	Status(name string) (domain.NamespaceStatus, error)
	Snapshot(name string) ([]domain.ControllerState, error)
	Configure(name string, opts domain.Options) error
	Start(name string) error
	Stop(name string) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	relay            relayService
	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics
	errorMetrics     *apperrors.Metrics

	layout              json.RawMessage
	healthChecks        []HealthCheck
	onNamespacesChanged func([]string)
	startTime           time.Time
}

func NewServer(cfg *config.Config, relay relayService, websocketHandler http.Handler, reg *prometheus.Registry, healthChecks []HealthCheck) (*Server, error) {
	layout, err := loadLayout(cfg.ControllerLayoutFile)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Key rate limits on the peer address, as the connection limits do;
	// X-Forwarded-For is client-controlled.
	e.IPExtractor = echo.ExtractIPDirect()

	srv := &Server{
		echo:             e,
		config:           cfg,
		relay:            relay,
		websocketHandler: websocketHandler,
		metricsHandler:   metrics.Handler(reg),
		httpMetrics:      metrics.NewHTTPMetrics(reg),
		errorMetrics:     apperrors.NewMetrics(reg),
		layout:           layout,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

// OnNamespacesChanged registers fn to run after the operations API created a namespace.
func (s *Server) OnNamespacesChanged(fn func([]string)) {
	s.onNamespacesChanged = fn
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
