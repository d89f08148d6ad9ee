package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/storefront-payments/internal/api-gateway/core/ports"
	"github.com/jcmexdev/storefront-payments/internal/api-gateway/infra/httpx"
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
		slog.Error("api gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
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

	var admin ports.AdminAuth
	if rt.Admin != nil {
		admin = rt.Admin
	} else {
		slog.Warn("admin endpoints disabled: admin.username is not set")
	}
	opts := []httpx.HandlerOption{
		httpx.WithEvents(rt.Hub),
		httpx.WithResultURL(cfg.Payments.ResultURL),
	}
	if rt.Replay != nil {
		opts = append(opts, httpx.WithReplayCache(rt.Replay, cfg.Redis.ReplayTTL))
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpx.NewRouter(httpx.NewHandler(rt.Service, admin, opts...), httpx.RouterConfig{
			RequestTimeout: cfg.HTTP.RequestTimeout,
			Health:         rt.Health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api gateway listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Payments.SweepInterval > 0 {
		g.Go(func() error {
			return rt.Service.RunSweeper(gctx, cfg.Payments.SweepInterval)
		})
	} else {
		slog.Info("in-process sweeper disabled; run order-sweeper instead")
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down api gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		// Open event streams never finish on their own.
		rt.Hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
