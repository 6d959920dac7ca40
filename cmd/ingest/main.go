// Command ingest indexes shared manuals dropped into a directory and, when
// NATS is configured, serves document uploads published by other services.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/app"
	"github.com/WessleyAI/wessley-garage/pkg/config"
)

func main() {
	var (
		envFile     = flag.String("env", ".env", "dotenv file to load before reading the environment")
		dir         = flag.String("dir", "", "directory of .txt/.md manuals to index as shared documents")
		interval    = flag.Duration("interval", 30*time.Second, "directory scan interval")
		stateFile   = flag.String("state", "", "processed-files state (default <dir>/.ingest-state.json)")
		dims        = flag.Int("dims", 768, "embedding dimensions used when creating the collection")
		metricsAddr = flag.String("metrics", ":9091", "metrics listen address; empty disables")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if *stateFile == "" && *dir != "" {
		*stateFile = *dir + "/.ingest-state.json"
	}
	if err := run(cfg, *dir, *stateFile, *interval, *dims, *metricsAddr, logger); err != nil {
		logger.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, dir, stateFile string, interval time.Duration, dims int, metricsAddr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dir == "" && cfg.NATSURL == "" {
		return fmt.Errorf("nothing to do: set -dir or NATS_URL")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Vectors.EnsureCollection(ctx, dims); err != nil {
		return err
	}
	logger.Info("collection ready", "collection", cfg.Collection, "dims", dims)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: a.Metrics.Handler(), ReadTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	if dir == "" {
		logger.Info("serving uploads", "nats", cfg.NATSURL)
		<-ctx.Done()
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s := newScanner(dir, stateFile, a.Ingest, a.Metrics, logger)
	logger.Info("watching for manuals", "dir", dir, "interval", interval)
	s.scan(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}
