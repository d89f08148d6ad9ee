package app_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

var pricing = domain.PricingRules{
	Shipping: map[string]decimal.Decimal{
		"standard": decimal.NewFromInt(80),
		"express":  decimal.NewFromInt(150),
	},
	Coupons: map[string]domain.Coupon{
		"SAVE10": {Code: "SAVE10", Percent: decimal.NewFromInt(10)},
	},
}

// fakeGateway is both the Gateway and the Authenticator for one provider.
// Reports are authentic when Signature (or the "signature" field) is "good".
type fakeGateway struct {
	mu        sync.Mutex
	provider  domain.Provider
	creates   int
	createErr error
	release   chan struct{}
	status    domain.StatusReport
	statusErr error
	polls     int
	// pollGate, when set, holds CheckStatus until it is closed. pollEntered
	// receives once per poll that reaches the gate.
	pollGate    chan struct{}
	pollEntered chan struct{}
}

func newFakeGateway(p domain.Provider) *fakeGateway {
	return &fakeGateway{provider: p, status: domain.StatusReport{Outcome: domain.OutcomePending}}
}

func (g *fakeGateway) Provider() domain.Provider { return g.provider }

func (g *fakeGateway) CreatePayment(ctx context.Context, req ports.PaymentRequest) (*ports.PaymentSession, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &ports.PaymentSession{
		Provider:    g.provider,
		OrderRef:    "ref_" + req.OrderID,
		ActionURL:   "https://pay.example/" + req.OrderID,
		PublicKey:   "pk_test",
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, orderRef string) (*domain.StatusReport, error) {
	if g.pollGate != nil {
		if g.pollEntered != nil {
			g.pollEntered <- struct{}{}
		}
		select {
		case <-g.pollGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	r := g.status
	r.Provider = g.provider
	r.Kind = domain.ReportPoll
	r.OrderRef = orderRef
	return &r, nil
}

func (g *fakeGateway) setStatus(outcome domain.Outcome, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = domain.StatusReport{Outcome: outcome, PaymentRef: "pay_polled", AmountMinor: amount, AmountKnown: amount > 0}
}

func (g *fakeGateway) Authenticate(env domain.Envelope) (*domain.StatusReport, error) {
	sig := env.Signature
	if sig == "" {
		sig = env.Fields["signature"]
	}
	if env.Fields["order_ref"] == "" {
		return nil, domain.ErrMalformedReport
	}
	if sig != "good" {
		return nil, domain.ErrInvalidSignature
	}
	r := &domain.StatusReport{
		Provider:   g.provider,
		Kind:       env.Kind,
		OrderRef:   env.Fields["order_ref"],
		PaymentRef: env.Fields["payment_ref"],
		Outcome:    domain.Outcome(env.Fields["outcome"]),
	}
	if a := env.Fields["amount"]; a != "" {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, domain.ErrMalformedReport
		}
		r.AmountMinor, r.AmountKnown = n, true
	}
	return r, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, o *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, o.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) setFail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (a *memAudit) Save(_ context.Context, e *auditlog.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *memAudit) ListByOrder(_ context.Context, id string) ([]auditlog.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditlog.Entry
	for _, e := range a.entries {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memAudit) kinds(id string) []auditlog.Kind {
	entries, _ := a.ListByOrder(context.Background(), id)
	out := make([]auditlog.Kind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.Event
}

func (p *recordingPublisher) Broadcast(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, e)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.got))
	for _, e := range p.got {
		out = append(out, e.Type)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errSMTP = errors.New("smtp: 421 service not available")
