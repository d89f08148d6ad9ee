package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

// InitiateResult tells the storefront how to collect payment: redirect to
// ActionURL, or open the provider's checkout with OrderRef and PublicKey.
type InitiateResult struct {
	OrderID     string
	Provider    domain.Provider
	OrderRef    string
	ActionURL   string
	PublicKey   string
	AmountMinor int64
	Currency    string
	// Resumed is set when the order already had a gateway reference and no
	// provider call was made.
	Resumed bool
}

type publicKeyer interface {
	PublicKey() string
}

// Initiate opens a provider transaction for a pending order. The provider
// call and the write of its reference outlive ctx: once started they finish
// under GatewayTimeout even if the caller goes away.
func (s *Service) Initiate(ctx context.Context, orderID string, provider domain.Provider) (*InitiateResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.initiate", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("initiate %s: %w", orderID, err)
	}
	if o.PaymentStatus.Terminal() {
		return nil, fmt.Errorf("initiate %s: %w: status is %s", orderID, domain.ErrOrderAlreadyProcessed, o.PaymentStatus)
	}
	if o.Expired(s.now(), s.cfg.ValidityWindow) {
		s.expire(ctx, o)
		return nil, fmt.Errorf("initiate %s: %w", orderID, domain.ErrOrderExpired)
	}
	if o.GatewayOrderRef != "" {
		return s.resume(o), nil
	}

	quote, err := s.pricing.Price(o.Items, o.ShippingMethod, o.CouponCode)
	if err != nil {
		return nil, fmt.Errorf("initiate %s: %w: %w", orderID, domain.ErrAmountMismatch, err)
	}
	if !domain.TotalsMatch(quote.Total, o.Total) {
		slog.WarnContext(ctx, "order total drifted since creation",
			"order_id", o.ID, "stored", o.Total.StringFixed(2), "computed", quote.Total.StringFixed(2))
		return nil, fmt.Errorf("initiate %s: %w: stored %s, computed %s",
			orderID, domain.ErrAmountMismatch, o.Total.StringFixed(2), quote.Total.StringFixed(2))
	}

	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("initiate %s: %w: %q", orderID, domain.ErrUnknownProvider, provider)
	}
	span.SetAttributes(attribute.String("gateway.provider", string(provider)))

	detached := context.WithoutCancel(ctx)
	ch := s.initiating.DoChan(o.ID, func() (interface{}, error) {
		gctx, cancel := s.gatewayContext(detached)
		defer cancel()
		return s.openSession(gctx, o, gw)
	})

	select {
	case <-ctx.Done():
		slog.WarnContext(ctx, "caller left during payment initiation; continuing in background", "order_id", o.ID)
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			span.RecordError(r.Err)
			return nil, fmt.Errorf("initiate %s: %w", orderID, r.Err)
		}
		res := *r.Val.(*InitiateResult)
		return &res, nil
	}
}

func (s *Service) openSession(ctx context.Context, o *domain.Order, gw ports.Gateway) (*InitiateResult, error) {
	sess, err := gw.CreatePayment(ctx, ports.PaymentRequest{
		OrderID:     o.ID,
		AmountMinor: o.AmountMinor(),
		Currency:    o.Currency,
		Customer:    o.Customer,
		RedirectURL: s.cfg.RedirectURL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "gateway create payment failed", "order_id", o.ID, "provider", gw.Provider(), "error", err)
		return nil, err
	}

	stored, attached, err := s.orders.AttachGatewayRef(ctx, o.ID, ports.GatewayRef{
		Provider:  sess.Provider,
		OrderRef:  sess.OrderRef,
		ActionURL: sess.ActionURL,
		At:        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("attach gateway reference: %w", err)
	}
	if !attached {
		if stored.PaymentStatus.Terminal() {
			return nil, fmt.Errorf("%w: status is %s", domain.ErrOrderAlreadyProcessed, stored.PaymentStatus)
		}
		slog.WarnContext(ctx, "gateway reference already attached; discarding new session",
			"order_id", o.ID, "kept", stored.GatewayOrderRef, "discarded", sess.OrderRef)
		return s.resume(stored), nil
	}

	slog.InfoContext(ctx, "payment initiated", "order_id", o.ID, "provider", sess.Provider, "gateway_order_ref", sess.OrderRef)
	s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindInitiated, string(sess.Provider), sess.OrderRef, ""))

	return &InitiateResult{
		OrderID:     o.ID,
		Provider:    sess.Provider,
		OrderRef:    sess.OrderRef,
		ActionURL:   sess.ActionURL,
		PublicKey:   sess.PublicKey,
		AmountMinor: o.AmountMinor(),
		Currency:    o.Currency,
	}, nil
}

func (s *Service) resume(o *domain.Order) *InitiateResult {
	res := &InitiateResult{
		OrderID:     o.ID,
		Provider:    o.Provider,
		OrderRef:    o.GatewayOrderRef,
		ActionURL:   o.GatewayActionURL,
		AmountMinor: o.AmountMinor(),
		Currency:    o.Currency,
		Resumed:     true,
	}
	if pk, ok := s.gateways[o.Provider].(publicKeyer); ok {
		res.PublicKey = pk.PublicKey()
	}
	return res
}

// expire fails a pending order that outlived its validity window.
func (s *Service) expire(ctx context.Context, o *domain.Order) bool {
	stored, applied, err := s.orders.Transition(ctx, o.ID, ports.Transition{
		To:     domain.StatusFailed,
		Reason: "expired",
		At:     s.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "expire order failed", "order_id", o.ID, "error", err)
		return false
	}
	if !applied {
		return false
	}
	slog.InfoContext(ctx, "order expired", "order_id", o.ID, "age", s.now().Sub(o.CreatedAt).String())
	s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindExpired, string(o.Provider), o.GatewayOrderRef, ""))
	s.publish(events.OrderFailed, stored)
	return true
}
