// Package bootstrap turns a loaded config into the running pieces shared by
// every binary: the order store, audit log, gateways, notifier and the
// reconciliation service on top of them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/bolt"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/mailer"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/memory"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/phonepe"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/razorpay"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/sqlite"
	"github.com/jcmexdev/storefront-payments/internal/order-service/app"
	auditsqlite "github.com/jcmexdev/storefront-payments/internal/order-service/auditlog/sqlite"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/auth"
	"github.com/jcmexdev/storefront-payments/internal/pkg/cache"
	"github.com/jcmexdev/storefront-payments/internal/pkg/config"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
	"github.com/jcmexdev/storefront-payments/internal/pkg/health"
	"github.com/jcmexdev/storefront-payments/internal/pkg/retry"
)

const eventBuffer = 64

type Runtime struct {
	Config  *config.Config
	Service *app.Service
	Hub     *events.Hub
	Health  *health.Registry
	// Replay and Admin are nil when redis or admin auth is not configured.
	Replay *cache.RedisCache
	Admin  *auth.Authenticator

	closers []func() error
}

// Build opens every backing resource named in cfg. Call Close when done,
// including after a failed Build.
func Build(cfg *config.Config, version string) (*Runtime, error) {
	rt := &Runtime{
		Config: cfg,
		Hub:    events.NewHub(eventBuffer),
		Health: health.NewRegistry(version),
	}
	rt.closers = append(rt.closers, func() error { rt.Hub.Close(); return nil })

	pricing, err := cfg.PricingRules()
	if err != nil {
		return rt, err
	}

	store, closeStore, err := OpenStore(cfg.Store)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, closeStore)
	rt.Health.Register(health.NewPingChecker("order-store", store.Ping))

	opts := []app.Option{
		app.WithNotifier(Notifier(cfg.SMTP)),
		app.WithPublisher(rt.Hub),
	}
	for _, gw := range Gateways(cfg) {
		opts = append(opts, app.WithGateway(gw), app.WithAuthenticator(gw))
	}

	if cfg.Audit.Path != "" {
		if err := ensureDir(cfg.Audit.Path); err != nil {
			return rt, err
		}
		audit, err := auditsqlite.Open(cfg.Audit.Path)
		if err != nil {
			return rt, err
		}
		rt.closers = append(rt.closers, audit.Close)
		opts = append(opts, app.WithAuditLog(audit))
	}

	if cfg.Redis.Addr != "" {
		rt.Replay = cache.NewRedisCache(cfg.Redis.Addr, cfg.Telemetry.ServiceName)
		rt.closers = append(rt.closers, rt.Replay.Close)
		rt.Health.Register(health.NewOptionalChecker("redis", rt.Replay.Ping))
	}

	if cfg.Admin.Enabled() {
		rt.Admin, err = auth.New(auth.Config{
			Username:     cfg.Admin.Username,
			PasswordHash: cfg.Admin.PasswordHash,
			Secret:       cfg.Admin.JWTSecret,
			TTL:          cfg.Admin.TokenTTL,
		})
		if err != nil {
			return rt, fmt.Errorf("admin auth: %w", err)
		}
	}

	rt.Service = app.New(store, pricing, app.Config{
		Currency:        cfg.Payments.Currency,
		DefaultProvider: domain.Provider(cfg.Payments.DefaultProvider),
		ValidityWindow:  cfg.Payments.ValidityWindow,
		RetentionWindow: cfg.Payments.RetentionWindow,
		GatewayTimeout:  cfg.Payments.GatewayTimeout,
		RedirectURL:     cfg.Payments.RedirectURL,
	}, opts...)

	return rt, nil
}

// Close waits for in-flight confirmation emails, then releases resources in
// reverse order of acquisition.
func (rt *Runtime) Close() error {
	if rt.Service != nil {
		rt.Service.Wait()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured order store.
func OpenStore(cfg config.Store) (ports.Repository, func() error, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("using in-memory order store; orders are lost on restart")
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, nil, err
		}
		repo, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "bolt":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, nil, err
		}
		s, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Gateway adapters implement both ports.Gateway and ports.Authenticator.
type Gateway interface {
	ports.Gateway
	ports.Authenticator
}

// Gateways builds an adapter for every provider with credentials in cfg.
func Gateways(cfg *config.Config) []Gateway {
	policy := retry.Default
	if cfg.Payments.StatusAttempts > 0 {
		policy.Attempts = cfg.Payments.StatusAttempts
	}

	var out []Gateway
	if cfg.Razorpay.Enabled() {
		out = append(out, razorpay.New(razorpay.Config{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			Retry:         policy,
		}))
	}
	if cfg.PhonePe.Enabled() {
		out = append(out, phonepe.New(phonepe.Config{
			BaseURL:     cfg.PhonePe.BaseURL,
			MerchantID:  cfg.PhonePe.MerchantID,
			SaltKey:     cfg.PhonePe.SaltKey,
			SaltIndex:   cfg.PhonePe.SaltIndex,
			RedirectURL: cfg.Payments.RedirectURL,
			CallbackURL: cfg.PhonePe.CallbackURL,
			Timeout:     cfg.Payments.GatewayTimeout,
			Retry:       policy,
		}))
	}
	return out
}

// Notifier returns an SMTP notifier, or one that only logs when no SMTP host
// is configured.
func Notifier(cfg config.SMTP) ports.Notifier {
	if cfg.Host == "" {
		return mailer.Log{}
	}
	return mailer.NewSMTP(mailer.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// Ready runs the health checks once and fails when a required component is
// unhealthy. Degraded optional components (redis) are not an error.
func (rt *Runtime) Ready(ctx context.Context) error {
	resp := rt.Health.Check(ctx)
	if resp.Status != health.StatusUnhealthy {
		return nil
	}
	names := make([]string, 0, len(resp.Components))
	for name := range resp.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if c := resp.Components[name]; c.Status == health.StatusUnhealthy {
			errs = append(errs, errors.New(c.Message))
		}
	}
	return fmt.Errorf("not ready: %w", errors.Join(errs...))
}
