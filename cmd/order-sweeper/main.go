package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/bootstrap"
	"github.com/jcmexdev/storefront-payments/internal/pkg/config"
	"github.com/jcmexdev/storefront-payments/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	telemetry.InitLogger("info")

	cfg, err := config.Load(getEnv("STOREFRONT_CONFIG", ""))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.Telemetry.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("order sweeper stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, telemetry.Options{
		ServiceName: getEnv("OTEL_SERVICE_NAME", "order-sweeper"),
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	rt, err := bootstrap.Build(cfg, version)
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()
	if err != nil {
		return err
	}

	interval := cfg.Payments.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("order sweeper running",
		"interval", interval.String(),
		"validity_window", cfg.Payments.ValidityWindow.String(),
		"retention_window", cfg.Payments.RetentionWindow.String(),
	)
	return rt.Service.RunSweeper(ctx, interval)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
