package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/adapter/discovery"
	"github.com/pscheid92/controlrelay/internal/adapter/httpserver"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/pscheid92/controlrelay/internal/adapter/websocket"
	"github.com/pscheid92/controlrelay/internal/platform/config"
	"github.com/pscheid92/controlrelay/internal/platform/logging"
	"github.com/pscheid92/controlrelay/internal/platform/version"
	"github.com/pscheid92/controlrelay/internal/relay"
	"golang.org/x/sync/errgroup"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupNamespaces configures every namespace from NAMESPACES and starts its scheduler.
func setupNamespaces(cfg *config.Config, manager *relay.Manager) {
	opts := cfg.RelayOptions()
	for _, name := range cfg.NamespaceNames() {
		if err := manager.Configure(name, opts); err != nil {
			slog.Error("Failed to configure namespace", "namespace", name, "error", err)
			os.Exit(1)
		}
		if err := manager.Start(name); err != nil {
			slog.Error("Failed to start namespace", "namespace", name, "error", err)
			os.Exit(1)
		}
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	relayMetrics := metrics.NewRelayMetrics(reg)

	hub := websocket.NewHub(clock, wsMetrics)
	manager := relay.NewManager(hub, clock, relayMetrics)
	setupNamespaces(cfg, manager)

	limits := websocket.NewConnectionLimits(int64(cfg.MaxConnections), cfg.MaxConnectionsPerIP)
	wsHandler := websocket.NewHandler(hub, manager, limits, websocket.NewCheckOrigin(cfg.Origins(), cfg.IsDevelopment()), wsMetrics)

	healthChecks := []httpserver.HealthCheck{
		{Name: "relay", Check: manager.Ping},
	}
	srv, err := httpserver.NewServer(cfg, manager, wsHandler, reg, healthChecks)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if cfg.DiscoveryEnabled {
		advertiser := discovery.NewAdvertiser(discovery.Config{
			Instance:   cfg.DiscoveryName,
			Service:    cfg.DiscoveryService,
			Port:       cfg.PortNumber(),
			Path:       "/ws",
			Namespaces: cfg.NamespaceNames(),
		}, clock)
		srv.OnNamespacesChanged(advertiser.UpdateNamespaces)
		g.Go(func() error {
			// Advertisement is best effort; the relay keeps serving without it.
			if err := advertiser.Run(gctx); err != nil {
				slog.Warn("mDNS advertisement unavailable", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		manager.Shutdown()
		hub.Stop("server shutting down")
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
