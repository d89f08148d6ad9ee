// Package razorpay adapts the Razorpay Orders API and its checkout/webhook
// signatures to the order service's Gateway and Authenticator ports.
package razorpay

import (
	"context"
	"fmt"

	rzpsdk "github.com/razorpay/razorpay-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/retry"
	"github.com/jcmexdev/storefront-payments/internal/pkg/signature"
)

// orderAPI is the slice of the SDK's Order resource this adapter uses.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Retry         retry.Policy
}

var (
	_ ports.Gateway       = (*Gateway)(nil)
	_ ports.Authenticator = (*Gateway)(nil)
)

type Gateway struct {
	orders orderAPI
	keyID  string
	signer *signature.Razorpay
	retry  retry.Policy
	tracer trace.Tracer
}

func New(cfg Config) *Gateway {
	client := rzpsdk.NewClient(cfg.KeyID, cfg.KeySecret)
	return newGateway(client.Order, cfg)
}

func newGateway(orders orderAPI, cfg Config) *Gateway {
	return &Gateway{
		orders: orders,
		keyID:  cfg.KeyID,
		signer: signature.NewRazorpay(cfg.KeySecret, cfg.WebhookSecret),
		retry:  cfg.Retry,
		tracer: otel.Tracer("razorpay"),
	}
}

func (g *Gateway) Provider() domain.Provider { return domain.ProviderRazorpay }

// CreatePayment opens a Razorpay order. The receipt is the storefront order
// ID, so one storefront order maps to one provider order. Never retried.
func (g *Gateway) CreatePayment(ctx context.Context, req ports.PaymentRequest) (*ports.PaymentSession, error) {
	ctx, span := g.tracer.Start(ctx, "razorpay.create_order", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer span.End()

	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.OrderID,
		"notes": map[string]interface{}{
			"order_id": req.OrderID,
		},
	}

	res, err := call(ctx, func() (map[string]interface{}, error) {
		return g.orders.Create(data, nil)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("razorpay: create order for %s: %w: %w", req.OrderID, domain.ErrGatewayUnavailable, err)
	}

	ref, _ := res["id"].(string)
	if ref == "" {
		return nil, fmt.Errorf("razorpay: create order for %s: %w: response has no id", req.OrderID, domain.ErrGatewayRejected)
	}

	return &ports.PaymentSession{
		Provider:    domain.ProviderRazorpay,
		OrderRef:    ref,
		PublicKey:   g.keyID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	}, nil
}

// CheckStatus lists the payments made against a Razorpay order. Any captured
// payment wins; all-failed is a decline; anything else is still pending.
func (g *Gateway) CheckStatus(ctx context.Context, orderRef string) (*domain.StatusReport, error) {
	ctx, span := g.tracer.Start(ctx, "razorpay.order_payments", trace.WithAttributes(attribute.String("gateway.order_ref", orderRef)))
	defer span.End()

	var res map[string]interface{}
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var err error
		res, err = call(ctx, func() (map[string]interface{}, error) {
			return g.orders.Payments(orderRef, nil, nil)
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("razorpay: payments for %s: %w: %w", orderRef, domain.ErrGatewayUnavailable, err)
	}

	report := &domain.StatusReport{
		Provider: domain.ProviderRazorpay,
		Kind:     domain.ReportPoll,
		OrderRef: orderRef,
		Outcome:  domain.OutcomePending,
	}

	items, _ := res["items"].([]interface{})
	failed := 0
	for _, raw := range items {
		p, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		status, _ := p["status"].(string)
		switch status {
		case "captured":
			report.Outcome = domain.OutcomeSucceeded
			report.PaymentRef, _ = p["id"].(string)
			report.Code = status
			report.AmountMinor = toInt64(p["amount"])
			report.AmountKnown = true
			return report, nil
		case "failed":
			failed++
			report.PaymentRef, _ = p["id"].(string)
			report.Code, _ = p["error_code"].(string)
		}
	}
	if len(items) > 0 && failed == len(items) {
		report.Outcome = domain.OutcomeFailed
		if report.Code == "" {
			report.Code = "failed"
		}
	}
	return report, nil
}

// call runs a blocking SDK request and gives up waiting when ctx ends. The
// SDK has no context support, so the request itself is left to finish.
func call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := fn()
		ch <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.body, r.err
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// PublicKey is the key ID the browser checkout is opened with.
func (g *Gateway) PublicKey() string { return g.keyID }
