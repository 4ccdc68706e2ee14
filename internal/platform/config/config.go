package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/controlrelay/internal/domain"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Relay defaults applied to every namespace at startup.
	Namespaces       string        `env:"NAMESPACES" default:"default"`
	IndividualEvents bool          `env:"INDIVIDUAL_EVENTS" default:"false"`
	UpdateFrequency  time.Duration `env:"UPDATE_FREQUENCY" default:"60ms"`
	IdleTimeout      time.Duration `env:"IDLE_TIMEOUT" default:"0s"` // 0 disables auto-stop

	AllowedOrigins       string  `env:"ALLOWED_ORIGINS"`
	MaxConnections       int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP  int     `env:"MAX_CONNECTIONS_PER_IP" default:"0"`
	ConnectionRate       float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst      int     `env:"CONNECTION_BURST" default:"20"`
	ControllerLayoutFile string  `env:"CONTROLLER_LAYOUT_FILE"`

	DiscoveryEnabled bool   `env:"DISCOVERY_ENABLED" default:"false"`
	DiscoveryName    string `env:"DISCOVERY_NAME" default:"VroomVroomDevice"`
	DiscoveryService string `env:"DISCOVERY_SERVICE" default:"_controlrelay._tcp"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	if !slices.Contains([]string{"text", "json"}, cfg.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if len(cfg.NamespaceNames()) == 0 {
		return errors.New("NAMESPACES must name at least one namespace")
	}

	if cfg.UpdateFrequency <= 0 {
		return fmt.Errorf("UPDATE_FREQUENCY must be positive, got %v", cfg.UpdateFrequency)
	}
	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("IDLE_TIMEOUT must not be negative, got %v", cfg.IdleTimeout)
	}

	if cfg.MaxConnections < 0 || cfg.MaxConnectionsPerIP < 0 {
		return errors.New("MAX_CONNECTIONS and MAX_CONNECTIONS_PER_IP must not be negative")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_RATE must be positive and CONNECTION_BURST at least 1")
	}

	if cfg.DiscoveryEnabled && (strings.TrimSpace(cfg.DiscoveryName) == "" || strings.TrimSpace(cfg.DiscoveryService) == "") {
		return errors.New("DISCOVERY_NAME and DISCOVERY_SERVICE are required when DISCOVERY_ENABLED is set")
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", cfg.ShutdownTimeout)
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// PortNumber returns the validated listen port.
func (c *Config) PortNumber() int {
	port, _ := strconv.Atoi(c.Port)
	return port
}

// NamespaceNames splits NAMESPACES into distinct, non-empty names in order.
func (c *Config) NamespaceNames() []string {
	return splitList(c.Namespaces)
}

// Origins splits ALLOWED_ORIGINS. An empty list allows every origin.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// RelayOptions builds the namespace options the relay starts with.
func (c *Config) RelayOptions() domain.Options {
	idle := domain.IdleTimeoutDisabled()
	if c.IdleTimeout > 0 {
		idle = domain.IdleTimeoutAfter(c.IdleTimeout)
	}
	return domain.Options{
		IndividualEvents: c.IndividualEvents,
		UpdateFrequency:  c.UpdateFrequency,
		IdleTimeout:      idle,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}
