// Towow negotiation server: accepts demands over HTTP, orchestrates
// multi-agent negotiation channels, and streams progress events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/NatureBlueee/towow/pkg/api"
	"github.com/NatureBlueee/towow/pkg/config"
	"github.com/NatureBlueee/towow/pkg/engine"
	"github.com/NatureBlueee/towow/pkg/oracle"
	"github.com/NatureBlueee/towow/pkg/profile"
	"github.com/NatureBlueee/towow/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("TOWOW_CONFIG", "towow.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting towow", "version", version.Full(), "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	profiles, closeProfiles, err := openProfileStore(cfg.Profiles)
	if err != nil {
		slog.Error("Failed to open profile store", "error", err)
		os.Exit(1)
	}
	defer closeProfiles()
	slog.Info("Profile store ready", "backend", cfg.Profiles.Backend)

	upstream, err := buildOracle(cfg.Oracle)
	if err != nil {
		slog.Error("Failed to build oracle client", "error", err)
		os.Exit(1)
	}
	slog.Info("Oracle backend ready", "mode", cfg.Oracle.Mode)

	eng := engine.New(cfg, upstream, profiles)

	server := api.NewServer(cfg.Server, eng)
	serveCtx, stopServe := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serveCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	stopServe()
	<-errCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("Engine shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

// openProfileStore builds the configured profile repository and a
// release function.
func openProfileStore(cfg *config.ProfilesConfig) (profile.Repository, func(), error) {
	switch cfg.Backend {
	case config.ProfileBackendMemory:
		return profile.NewMemoryRepository(), func() {}, nil
	case config.ProfileBackendSQLite:
		store, err := profile.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Error closing profile store", "error", err)
			}
		}, nil
	case config.ProfileBackendPostgres:
		dsn := os.Getenv(cfg.PostgresDSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend selected but %s is not set", cfg.PostgresDSNEnv)
		}
		store, err := profile.OpenPostgres(dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Error closing profile store", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown profile backend %q", cfg.Backend)
	}
}

// buildOracle builds the configured upstream oracle service. The engine
// wraps it with timeouts, the circuit breaker, and fallbacks.
func buildOracle(cfg *config.OracleConfig) (oracle.Service, error) {
	switch cfg.Mode {
	case config.OracleModeStub:
		return oracle.NewStubService(), nil
	case config.OracleModeHTTP:
		return oracle.NewHTTPService(oracle.HTTPConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            os.Getenv(cfg.APIKeyEnv),
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}), nil
	default:
		return nil, fmt.Errorf("unknown oracle mode %q", cfg.Mode)
	}
}
