// Package main implements the entry point for the syncbridge daemon.
// Syncbridge joins one channel on a CyTube-compatible media-sync platform and
// bridges it onto a NATS bus: origin events out, commands and actions in.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/syncbridge/bridge"
	"github.com/c360/syncbridge/config"
	"github.com/c360/syncbridge/errors"
	"github.com/c360/syncbridge/health"
	"github.com/c360/syncbridge/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "syncbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Version = Version
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	var registry *metric.Registry
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
	}

	b, err := bridge.New(cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	stopServers, err := startServers(cfg, cliCfg, registry, b, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(b, stopServers, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting syncbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// startServers brings up the health and metrics endpoints when enabled.
// Returns a stop function covering whatever actually started.
func startServers(
	cfg *config.Config,
	cliCfg *CLIConfig,
	registry *metric.Registry,
	b *bridge.Bridge,
	logger *slog.Logger,
) (func(context.Context), error) {
	var healthServer *health.Server
	var metricsServer *metric.Server

	if cfg.Health.Enabled {
		port := cfg.Health.Port
		if cliCfg.HealthPort != 0 {
			port = cliCfg.HealthPort
		}
		healthServer = health.NewServer(port, b.Status, logger)
		if err := healthServer.Start(); err != nil {
			return nil, fmt.Errorf("start health server: %w", err)
		}
		slog.Info("Health endpoint up", "port", port)
	}

	if registry != nil {
		metricsServer = metric.NewServer(cfg.Metrics.Port, "", registry, logger)
		if err := metricsServer.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics endpoint up", "port", cfg.Metrics.Port)
	}

	return func(ctx context.Context) {
		if metricsServer != nil {
			if err := metricsServer.Stop(ctx); err != nil {
				slog.Warn("Metrics server shutdown failed", "error", err)
			}
		}
		if healthServer != nil {
			if err := healthServer.Stop(ctx); err != nil {
				slog.Warn("Health server shutdown failed", "error", err)
			}
		}
	}, nil
}

// runWithSignalHandling drives the bridge until a shutdown signal arrives or
// the session gives up for good
func runWithSignalHandling(b *bridge.Bridge, stopServers func(context.Context), shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	runErr := b.Run(signalCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	stopServers(shutdownCtx)

	if runErr != nil {
		if errors.IsFatal(runErr) {
			return fmt.Errorf("session permanently lost: %w", runErr)
		}
		return runErr
	}

	slog.Info("Syncbridge shutdown complete")
	return nil
}
