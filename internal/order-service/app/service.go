// Package app is the order service's application layer: order creation and
// lookup, and the reconciliation engine that owns every payment status
// transition and the side effects attached to it.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

const (
	DefaultValidityWindow  = 30 * time.Minute
	DefaultRetentionWindow = 24 * time.Hour
	DefaultGatewayTimeout  = 30 * time.Second
)

// Publisher receives lifecycle events. *events.Hub implements it.
type Publisher interface {
	Broadcast(e events.Event)
}

type Config struct {
	Currency        string
	DefaultProvider domain.Provider
	ValidityWindow  time.Duration
	RetentionWindow time.Duration
	GatewayTimeout  time.Duration
	// RedirectURL is where hosted pay pages send the customer back to.
	RedirectURL string
}

type Option func(*Service)

func WithGateway(g ports.Gateway) Option {
	return func(s *Service) { s.gateways[g.Provider()] = g }
}

func WithAuthenticator(a ports.Authenticator) Option {
	return func(s *Service) { s.authenticators[a.Provider()] = a }
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditLog(a auditlog.Repository) Option {
	return func(s *Service) { s.audit = a }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	orders         ports.Repository
	pricing        domain.PricingRules
	gateways       map[domain.Provider]ports.Gateway
	authenticators map[domain.Provider]ports.Authenticator
	notifier       ports.Notifier
	audit          auditlog.Repository
	events         Publisher
	cfg            Config
	now            func() time.Time
	tracer         trace.Tracer

	initiating  singleflight.Group
	verifying   singleflight.Group
	sideEffects sync.WaitGroup
}

func New(orders ports.Repository, pricing domain.PricingRules, cfg Config, opts ...Option) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = DefaultValidityWindow
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}

	s := &Service{
		orders:         orders,
		pricing:        pricing,
		gateways:       make(map[domain.Provider]ports.Gateway),
		authenticators: make(map[domain.Provider]ports.Authenticator),
		cfg:            cfg,
		now:            func() time.Time { return time.Now().UTC() },
		tracer:         otel.Tracer("order-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the order store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.orders.Ping(ctx)
}

// Wait blocks until every confirmation email started so far has finished.
func (s *Service) Wait() {
	s.sideEffects.Wait()
}

func (s *Service) record(ctx context.Context, e *auditlog.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Save(ctx, e); err != nil {
		slog.WarnContext(ctx, "audit write failed", "order_id", e.OrderID, "kind", e.Kind, "error", err)
	}
}

func (s *Service) publish(t events.Type, o *domain.Order) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(events.Event{Type: t, OrderID: o.ID, Status: string(o.PaymentStatus), At: s.now()})
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
}
