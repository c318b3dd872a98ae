package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"netopt/internal/api"
	"netopt/internal/buildinfo"
	"netopt/internal/config"
	"netopt/internal/logging"
	"netopt/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to netopt.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	metrics.RegisterDefault()
	srvDeps, err := api.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	srvDeps.Start()

	worker := srvDeps.NewWebhookWorker()
	if len(cfg.Webhooks.Sinks) > 0 {
		worker.Start()
		defer close(worker.Stop)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", cfg.Server.Addr), zap.String("version", buildinfo.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := srvDeps.Shutdown(sctx); err != nil {
		logger.Warn("runs still in flight at shutdown", zap.Error(err))
	}
	return nil
}
