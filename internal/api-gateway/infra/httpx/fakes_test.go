package httpx_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-payments/internal/order-service/app"
	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	orderports "github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/auth"
)

// fakeOrders returns canned results and records what it was called with.
type fakeOrders struct {
	mu sync.Mutex

	createFn   func(in app.CreateOrderInput) (*domain.Order, bool, error)
	initiateFn func(id string, p domain.Provider) (*app.InitiateResult, error)
	confirmFn  func(env domain.Envelope) (*app.Confirmation, error)
	verifyFn   func(in app.VerifyInput) (*app.Confirmation, error)

	orders   map[string]*domain.Order
	history  map[string][]auditlog.Entry
	creates  []app.CreateOrderInput
	envs     []domain.Envelope
	verifies []app.VerifyInput
	filters  []orderports.ListFilter
	override struct {
		id, actor, reason string
		to                domain.PaymentStatus
	}
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[string]*domain.Order{}, history: map[string][]auditlog.Entry{}}
}

func (f *fakeOrders) Create(_ context.Context, in app.CreateOrderInput) (*domain.Order, bool, error) {
	f.mu.Lock()
	f.creates = append(f.creates, in)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(in)
	}
	return sampleOrder("o-1", domain.StatusPending), true, nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) List(_ context.Context, filter orderports.ListFilter) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	var out []domain.Order
	for _, o := range f.orders {
		if filter.Match(o) {
			out = append(out, *o)
		}
	}
	return orderports.SortNewestFirst(out, filter.Limit), nil
}

func (f *fakeOrders) History(_ context.Context, id string) ([]auditlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[id], nil
}

func (f *fakeOrders) Initiate(_ context.Context, id string, p domain.Provider) (*app.InitiateResult, error) {
	if f.initiateFn != nil {
		return f.initiateFn(id, p)
	}
	return nil, errors.New("not configured")
}

func (f *fakeOrders) Confirm(_ context.Context, env domain.Envelope) (*app.Confirmation, error) {
	f.mu.Lock()
	f.envs = append(f.envs, env)
	f.mu.Unlock()
	if f.confirmFn != nil {
		return f.confirmFn(env)
	}
	return nil, errors.New("not configured")
}

func (f *fakeOrders) Verify(_ context.Context, in app.VerifyInput) (*app.Confirmation, error) {
	f.mu.Lock()
	f.verifies = append(f.verifies, in)
	f.mu.Unlock()
	if f.verifyFn != nil {
		return f.verifyFn(in)
	}
	return nil, errors.New("not configured")
}

func (f *fakeOrders) Override(_ context.Context, id string, to domain.PaymentStatus, actor, reason string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.override.id, f.override.to, f.override.actor, f.override.reason = id, to, actor, reason
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := *o
	c.PaymentStatus = to
	return &c, nil
}

func sampleOrder(id string, status domain.PaymentStatus) *domain.Order {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:              id,
		Customer:        domain.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "+919800000001"},
		ShippingAddress: domain.Address{Line1: "12 MG Road", City: "Bengaluru", PostalCode: "560001"},
		Items: []domain.OrderItem{
			{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(400)},
		},
		ShippingMethod: "standard",
		ShippingCost:   decimal.NewFromInt(80),
		Discount:       decimal.Zero,
		Total:          decimal.NewFromInt(880),
		Currency:       "INR",
		PaymentMethod:  domain.MethodGateway,
		PaymentStatus:  status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

type fakeAdmin struct{}

func (fakeAdmin) Login(user, pass string) (string, time.Time, error) {
	if user == "admin" && pass == "correct horse" {
		return "admin-token", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), nil
	}
	return "", time.Time{}, auth.ErrInvalidCredentials
}

func (fakeAdmin) Validate(raw string) (*auth.Claims, error) {
	if raw != "admin-token" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin"}}, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	}
	c.ttls[key] = ttl
	return nil
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.data[key], nil
}

func (c *memCache) GenerateKey(operation, key string) string {
	return "test:" + operation + ":" + key
}
