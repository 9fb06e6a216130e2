/*
main.go - Application entry point

PURPOSE:
  The "ledger" command. Serves the HTTP API and runs the maintenance jobs
  (recalculation, fiscal-year closing, chart checks, seeding) against the
  configured store.

COMMANDS:
  ledger serve                       Start the HTTP API
  ledger recalculate                 Rebuild cached balances from posted lines
  ledger close-year --year 2024      Close a fiscal year (--date, --preview)
  ledger check-tree                  Report chart structure problems
  ledger seed [--chart file.json]    Add the default (or given) chart

GLOBAL FLAGS:
  --config   Path to ledger.yaml (default: ledger.yaml; missing file means
             defaults plus environment overrides)

STARTUP SEQUENCE (serve):
  1. Load and validate config
  2. Build the zerolog logger
  3. Open the store (memory, SQLite or Postgres)
  4. Create API handler and router
  5. Start the drift reconciler when enabled
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reconciler
  4. Close database connection

SEE ALSO:
  - config/config.go: Configuration file and environment overrides
  - api/server.go: Router configuration
  - commands.go: Maintenance commands
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Double-entry general ledger engine",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ledger.yaml", "path to ledger.yaml")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCommand(load),
		newRecalculateCommand(load),
		newCloseYearCommand(load),
		newCheckTreeCommand(load),
		newSeedCommand(load),
	)
	return rootCmd
}

type configLoader func() (*config.Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to initialize database")
		return err
	}
	defer closeStore()

	handler := api.NewHandler(store, api.Settings{
		RetainedEarningsCode: cfg.Accounts.RetainedEarnings,
		Fiscal:               cfg.FiscalCalendar(),
		Logger:               logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger,
	})

	reconciler := api.NewReconciler(handler.Aggregator(), logger)
	reconciler.Enabled = cfg.Reconciler.Enabled
	reconciler.Interval = cfg.Reconciler.Interval
	reconciler.Start()
	defer reconciler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("driver", cfg.Database.Driver).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error().Err(err).Msg("server failed")
			return err
		}
		return nil
	case <-quit:
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
