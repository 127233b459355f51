// Package config loads and validates the service configuration. The
// built-in defaults are complete; a YAML file overrides only the fields
// it sets, and ${VAR} references in the file are expanded from the
// environment before parsing.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Profile store backends.
const (
	ProfileBackendMemory   = "memory"
	ProfileBackendSQLite   = "sqlite"
	ProfileBackendPostgres = "postgres"
)

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProfilesConfig selects the agent profile store.
type ProfilesConfig struct {
	Backend string `yaml:"backend"`

	// SQLitePath is the database file in sqlite mode. ":memory:" gives
	// an ephemeral store.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSNEnv names the environment variable holding the DSN in
	// postgres mode.
	PostgresDSNEnv string `yaml:"postgres_dsn_env"`
}

// EventsConfig tunes the event recorder.
type EventsConfig struct {
	// RingSize is the number of recent events retained for catch-up.
	RingSize int `yaml:"ring_size"`

	// FeedBuffer is the per-subscriber queue depth. Slow consumers drop
	// their oldest events, never block the bus.
	FeedBuffer int `yaml:"feed_buffer"`
}

// RouterConfig tunes message deduplication.
type RouterConfig struct {
	DedupWindow  time.Duration `yaml:"dedup_window"`
	DedupMaxSize int           `yaml:"dedup_max_size"`
}

// Config is the root configuration.
type Config struct {
	Server   *ServerConfig   `yaml:"server"`
	Engine   *EngineConfig   `yaml:"engine"`
	Oracle   *OracleConfig   `yaml:"oracle"`
	Profiles *ProfilesConfig `yaml:"profiles"`
	Events   *EventsConfig   `yaml:"events"`
	Router   *RouterConfig   `yaml:"router"`
}

// Default returns the complete built-in configuration.
func Default() *Config {
	return &Config{
		Server: &ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: DefaultEngineConfig(),
		Oracle: DefaultOracleConfig(),
		Profiles: &ProfilesConfig{
			Backend:        ProfileBackendMemory,
			SQLitePath:     "towow.db",
			PostgresDSNEnv: "TOWOW_POSTGRES_DSN",
		},
		Events: &EventsConfig{
			RingSize:   1000,
			FeedBuffer: 256,
		},
		Router: &RouterConfig{
			DedupWindow:  5 * time.Second,
			DedupMaxSize: 4096,
		},
	}
}

// Load reads the YAML file at path, merges it over the defaults, and
// validates the result. A missing file yields the pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Info("No config file found, using defaults", "path", path)
				return cfg, cfg.validate()
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		var overlay Config
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &overlay); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, &overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", path, err)
		}
		slog.Info("Loaded configuration", "path", path)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	e := c.Engine
	if e.MaxRounds < 1 {
		return fmt.Errorf("engine.max_rounds must be >= 1, got %d", e.MaxRounds)
	}
	if e.AcceptThreshold <= 0 || e.AcceptThreshold > 1 {
		return fmt.Errorf("engine.accept_threshold must be in (0, 1], got %v", e.AcceptThreshold)
	}
	if e.WithdrawThreshold <= 0 || e.WithdrawThreshold > 1 {
		return fmt.Errorf("engine.withdraw_threshold must be in (0, 1], got %v", e.WithdrawThreshold)
	}
	if e.MaxRecursionDepth < 0 {
		return fmt.Errorf("engine.max_recursion_depth must be >= 0, got %d", e.MaxRecursionDepth)
	}
	if e.MaxSubnetsPerChannel < 0 {
		return fmt.Errorf("engine.max_subnets_per_channel must be >= 0, got %d", e.MaxSubnetsPerChannel)
	}
	if e.CollectionDeadline <= 0 || e.NegotiationDeadline <= 0 {
		return fmt.Errorf("engine deadlines must be positive")
	}

	switch c.Oracle.Mode {
	case OracleModeStub:
	case OracleModeHTTP:
		if c.Oracle.BaseURL == "" {
			return fmt.Errorf("oracle.base_url is required in http mode")
		}
	default:
		return fmt.Errorf("oracle.mode must be %q or %q, got %q", OracleModeStub, OracleModeHTTP, c.Oracle.Mode)
	}
	if c.Oracle.FailureThreshold < 1 {
		return fmt.Errorf("oracle.failure_threshold must be >= 1, got %d", c.Oracle.FailureThreshold)
	}

	switch c.Profiles.Backend {
	case ProfileBackendMemory, ProfileBackendSQLite, ProfileBackendPostgres:
	default:
		return fmt.Errorf("profiles.backend must be memory, sqlite, or postgres, got %q", c.Profiles.Backend)
	}

	if c.Events.RingSize < 1 {
		return fmt.Errorf("events.ring_size must be >= 1, got %d", c.Events.RingSize)
	}
	if c.Router.DedupWindow <= 0 {
		return fmt.Errorf("router.dedup_window must be positive")
	}
	return nil
}
