package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/controlrelay/internal/domain"
	apperrors "github.com/pscheid92/controlrelay/internal/platform/errors"
)

const maxOptionsBodySize = 4 * 1024

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")
	api.GET("/layout", s.handleLayout)
	api.GET("/namespaces", s.handleListNamespaces)
	api.GET("/namespaces/:name", s.handleGetNamespace)
	api.GET("/namespaces/:name/controllers", s.handleGetControllers)
	api.PUT("/namespaces/:name/options", s.handleConfigureNamespace)
	api.POST("/namespaces/:name/start", s.handleStartNamespace)
	api.POST("/namespaces/:name/stop", s.handleStopNamespace)
}

func (s *Server) handleListNamespaces(c echo.Context) error {
	names := s.relay.Namespaces()
	statuses := make([]domain.NamespaceStatus, 0, len(names))
	for _, name := range names {
		status, err := s.relay.Status(name)
		if err != nil {
			return apperrors.FromDomain(err).WithField("namespace", name)
		}
		statuses = append(statuses, status)
	}

	if err := c.JSON(http.StatusOK, statuses); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetNamespace(c echo.Context) error {
	name := c.Param("name")
	status, err := s.relay.Status(name)
	if err != nil {
		return apperrors.FromDomain(err).WithField("namespace", name)
	}

	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetControllers(c echo.Context) error {
	name := c.Param("name")
	states, err := s.relay.Snapshot(name)
	if err != nil {
		return apperrors.FromDomain(err).WithField("namespace", name)
	}

	if err := c.JSON(http.StatusOK, states); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleConfigureNamespace replaces the options of a namespace, creating it
// (stopped) when it does not exist. Omitted fields take their defaults.
func (s *Server) handleConfigureNamespace(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	var opts domain.Options
	body := io.LimitReader(c.Request().Body, maxOptionsBodySize)
	if err := json.NewDecoder(body).Decode(&opts); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationError("request body must be a JSON options object").WithField("namespace", name)
		}
		return apperrors.ValidationError("invalid options JSON").WithField("namespace", name).WithField("detail", err.Error())
	}

	created := !s.relay.Has(name)
	if err := s.relay.Configure(name, opts); err != nil {
		return apperrors.FromDomain(err).WithField("namespace", name)
	}

	slog.InfoContext(ctx, "Namespace configured via API", "namespace", name, "created", created)
	if created && s.onNamespacesChanged != nil {
		s.onNamespacesChanged(s.relay.Namespaces())
	}

	return s.respondStatus(c, name, statusCode(created))
}

func (s *Server) handleStartNamespace(c echo.Context) error {
	name := c.Param("name")
	if err := s.relay.Start(name); err != nil {
		return apperrors.FromDomain(err).WithField("namespace", name)
	}
	slog.InfoContext(c.Request().Context(), "Namespace started via API", "namespace", name)
	return s.respondStatus(c, name, http.StatusOK)
}

func (s *Server) handleStopNamespace(c echo.Context) error {
	name := c.Param("name")
	if err := s.relay.Stop(name); err != nil {
		return apperrors.FromDomain(err).WithField("namespace", name)
	}
	slog.InfoContext(c.Request().Context(), "Namespace stopped via API", "namespace", name)
	return s.respondStatus(c, name, http.StatusOK)
}

func (s *Server) respondStatus(c echo.Context, name string, code int) error {
	status, err := s.relay.Status(name)
	if err != nil {
		return apperrors.FromDomain(err).WithField("namespace", name)
	}
	if err := c.JSON(code, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func statusCode(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
