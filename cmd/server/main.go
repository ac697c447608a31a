/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cash desk ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse -config flag, load configuration (YAML, .env, CASHDESK_*)
  2. Build the zap logger
  3. Bootstrap the dig container (storage, engine, history, API)
  4. Rebuild the balance index from the log when required
  5. Start the audit scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the audit scheduler
  4. Close storage
  5. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=./config.yaml

  # Run in memory for a demo
  CASHDESK_API_KEY=dev CASHDESK_STORAGE_BACKEND=memory ./server

SEE ALSO:
  - app/services.go: dependency wiring
  - api/server.go: Router configuration
  - config/config.go: configuration fields
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/cashdesk/app"
	"github.com/warp/cashdesk/config"
	"github.com/warp/cashdesk/ledger"
	"github.com/warp/cashdesk/logger"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	inject := app.BootstrapServices(cfg, lg)
	if err := inject(func(st *app.Storage, audit *ledger.AuditScheduler, router http.Handler) error {
		return run(cfg, lg, st, audit, router)
	}); err != nil {
		lg.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger, st *app.Storage, audit *ledger.AuditScheduler, router http.Handler) error {
	defer func() {
		if err := st.Close(); err != nil {
			lg.Error("failed to close storage", zap.Error(err))
		}
	}()

	if err := app.Prepare(context.Background(), cfg, st, lg); err != nil {
		return err
	}

	if err := audit.Start(); err != nil {
		return fmt.Errorf("start audit scheduler: %w", err)
	}
	defer audit.Stop()

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
		lg.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	lg.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	lg.Info("server stopped")
	return nil
}
