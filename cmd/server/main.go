/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the coaching cycle server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (YAML + env)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Build the policy engine from the configured offset table
  5. Create API handler and router
  6. Start the rollover scheduler (unless disabled)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to config.yaml (default: $CONFIG_PATH or ./config.yaml)
  -port    Overrides the configured HTTP port
  -db      Overrides the configured SQLite path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running pass
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/coaching.db"
  ./server -db=":memory:" -port=3000
  ROLLOVER_ENABLED=false ./server

SEE ALSO:
  - config/config.go: Configuration keys and env overrides
  - api/server.go: Router configuration
  - api/scheduler.go: Rollover scheduler
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
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/coaching-engine/api"
	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/config"
	"github.com/warp/coaching-engine/logger"
	"github.com/warp/coaching-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	lg, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	policy, err := cadence.NewEngine(cfg.Offsets)
	if err != nil {
		return fmt.Errorf("policy offsets: %w", err)
	}

	handler := api.NewHandler(store, policy, lg)
	handler.DefaultLocation = cfg.Location
	router := api.NewRouter(handler)

	scheduler := api.NewRolloverScheduler(store, handler.Rollover, lg.Named("scheduler"))
	scheduler.Schedule = cfg.RolloverSchedule
	scheduler.Enabled = cfg.RolloverOn()
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("default_timezone", cfg.Location.String()),
			zap.Bool("rollover_scheduler", scheduler.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	lg.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	lg.Info("server stopped")
	return nil
}
