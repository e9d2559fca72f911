// Package main is the entry point for the relayforge binary. It wires
// the storage driver, rate limiter, executor pipeline and HTTP server
// from configuration and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/relayforge/relayforge/internal/governance"
	"github.com/relayforge/relayforge/pkg/command"
	"github.com/relayforge/relayforge/pkg/config"
	"github.com/relayforge/relayforge/pkg/executor"
	"github.com/relayforge/relayforge/pkg/logging"
	"github.com/relayforge/relayforge/pkg/orchestrator"
	"github.com/relayforge/relayforge/pkg/secrets"
	"github.com/relayforge/relayforge/pkg/server"
	"github.com/relayforge/relayforge/pkg/storage"
	"github.com/relayforge/relayforge/pkg/storage/sqlite"
	"github.com/relayforge/relayforge/pkg/telemetry"
	"github.com/relayforge/relayforge/pkg/urlguard"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for relayforge
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relayforge",
		Short: "Safe HTTP call gateway for model-generated commands",
		Long: `relayforge registers target APIs as sessions, validates and executes
model-generated curl commands against them, and runs multi-step
workflows that chain extracted response values into later calls.

Example:
  relayforge --config config.yaml`,
		RunE: run,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("address", "a", "", "Listen address (overrides config)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Server.Address = address
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return err
		}
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "relayforge",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}

	sessions, workflows, runs, closeStore, err := buildStores(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, err := buildLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// With a config file present, limit changes apply without a restart.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		go func() {
			for updated := range watcher.Subscribe() {
				limiter.Configure(updated.Governance.Limit, updated.Governance.Window())
			}
		}()
	}

	var cipher *secrets.Cipher
	if cfg.Secrets.Passphrase != "" {
		cipher, err = secrets.NewCipher(cfg.Secrets.Passphrase)
		if err != nil {
			return fmt.Errorf("secrets setup: %w", err)
		}
	} else {
		logger.Warn("No secrets passphrase configured, sessions cannot store credentials")
	}

	guard := urlguard.New()
	builder := command.NewBuilder(cfg.Executor.ContainerGateway, logger)
	exec := executor.New(cfg.Executor.Binary, cfg.Executor.Timeout(), int64(cfg.Executor.MaxOutputBytes), logger)

	orch := orchestrator.New(orchestrator.Options{
		Sessions:  sessions,
		Workflows: workflows,
		Runs:      runs,
		Guard:     guard,
		Builder:   builder,
		Executor:  exec,
		Cipher:    cipher,
		Logger:    logger,
	})

	srv := server.New(server.Options{
		Address:      cfg.Server.Address,
		Password:     os.Getenv("RELAYFORGE_PASSWORD"),
		Sessions:     sessions,
		Workflows:    workflows,
		Guard:        guard,
		Builder:      builder,
		Executor:     exec,
		Orchestrator: orch,
		Limiter:      limiter,
		Cipher:       cipher,
		Logger:       logger,
	})

	scheduler := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.Governance.Window())
	if _, err := scheduler.AddFunc(sweepSpec, func() {
		limiter.Sweep()
		if n := srv.Tokens().Sweep(); n > 0 {
			logger.Debug("Expired login tokens swept", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// buildStores selects the persistence driver. The close function is a
// no-op for the in-memory driver.
func buildStores(cfg *config.Config, logger *slog.Logger) (storage.SessionStore, storage.WorkflowStore, storage.RunStore, func(), error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store := sqlite.NewStore(db)
		logger.Info("Using sqlite storage", "data_dir", cfg.Storage.DataDir)
		return store, store, store, func() { _ = db.Close() }, nil
	default:
		store := storage.NewMemoryStore()
		logger.Info("Using in-memory storage")
		return store, store, store, func() {}, nil
	}
}

// buildLimiter wires the fixed-window limiter against Redis when an
// address is configured, falling back to per-process counters.
func buildLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*governance.Limiter, error) {
	if cfg.Governance.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Governance.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Governance.RedisAddr, err)
		}
		logger.Info("Using redis rate limit store", "addr", cfg.Governance.RedisAddr)
		return governance.NewLimiter(governance.NewRedisStore(client), cfg.Governance.Limit, cfg.Governance.Window(), logger), nil
	}
	return governance.NewLimiter(governance.NewMemoryStore(), cfg.Governance.Limit, cfg.Governance.Window(), logger), nil
}
