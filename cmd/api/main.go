// Package main implements the Wessley garage API server.
package main

import (
	"context"
	"errors"
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
	"github.com/WessleyAI/wessley-garage/pkg/mid"
	"github.com/WessleyAI/wessley-garage/pkg/resilience"
)

const shutdownGrace = 10 * time.Second

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("close dependencies", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(a, cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// An ask waits for document search and the slowest sampled answer.
		WriteTimeout: cfg.DocTimeout + cfg.CallTimeout + 15*time.Second,
		IdleTimeout:  2 * time.Minute,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return serve(ctx, srv, logger)
}

// newHandler mounts the routes behind the middleware stack. Logging and
// metrics sit outside Recover so a recovered panic is still recorded.
func newHandler(a *app.App, cfg *config.Config, logger *slog.Logger) http.Handler {
	s := &server{
		pipeline: a.Pipeline,
		uploads:  a.Ingest,
		usage:    a.Usage,
		health:   a,
		metrics:  a.Metrics.Handler(),
		logger:   logger,
	}
	return mid.Chain(s.routes(),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(a.Metrics),
		mid.Recover(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("wessley-garage"),
		mid.RateLimit(resilience.LimiterOpts{Rate: cfg.HTTPRate, Burst: cfg.HTTPBurst}, mid.ClientIP),
	)
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down", "grace", shutdownGrace)
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
