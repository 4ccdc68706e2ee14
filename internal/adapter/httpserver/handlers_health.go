package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/controlrelay/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeResponse struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Missing     []string          `json:"missing_namespaces,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup succeeds once every namespace named in NAMESPACES is configured
// and the health checks pass.
func (s *Server) handleStartup(c echo.Context) error {
	var missing []string
	for _, name := range s.config.NamespaceNames() {
		if !s.relay.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return writeProbe(c, http.StatusServiceUnavailable, probeResponse{Status: "starting", Missing: missing})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()
	return s.probe(c, ctx)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).Seconds(),
		"namespaces": len(s.relay.Namespaces()),
		"version":    version.Version,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()
	return s.probe(c, ctx)
}

// probe runs every check and reports each result; the first failure names the probe.
func (s *Server) probe(c echo.Context, ctx context.Context) error {
	response := probeResponse{Status: "ready", Checks: make(map[string]string, len(s.healthChecks))}
	status := http.StatusOK

	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			slog.WarnContext(ctx, "Health check failed", "check", hc.Name, "error", err)
			response.Checks[hc.Name] = err.Error()
			if response.FailedCheck == "" {
				response.FailedCheck = hc.Name
			}
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[hc.Name] = "ok"
	}

	return writeProbe(c, status, response)
}

func writeProbe(c echo.Context, status int, response probeResponse) error {
	if err := c.JSON(status, response); err != nil {
		return fmt.Errorf("failed to write probe response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
