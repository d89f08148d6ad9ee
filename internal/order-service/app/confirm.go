package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

// Confirmation is the result of applying a payment report. Applied is true
// only for the call that moved the order out of Pending.
type Confirmation struct {
	Order   *domain.Order
	Outcome domain.Outcome
	Applied bool
}

type VerifyInput struct {
	OrderID string
	// TransactionRef, when set, must equal the order's gateway reference.
	TransactionRef string
	// Fields is the provider checkout's signature bundle, if the client has
	// one. Without it the gateway's status endpoint is polled.
	Fields map[string]string
}

// Confirm authenticates an asynchronous report (webhook or callback) and
// applies it. A report for an order that is already Paid or Failed is a
// no-op and not an error.
func (s *Service) Confirm(ctx context.Context, env domain.Envelope) (*Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.confirm", trace.WithAttributes(
		attribute.String("gateway.provider", string(env.Provider)),
		attribute.String("report.kind", string(env.Kind)),
	))
	defer span.End()

	auth, ok := s.authenticators[env.Provider]
	if !ok {
		return nil, fmt.Errorf("confirm: %w: %q", domain.ErrUnknownProvider, env.Provider)
	}

	report, err := auth.Authenticate(env)
	if err != nil {
		s.logRejected(ctx, env, err)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("gateway.order_ref", report.OrderRef))

	o, err := s.orders.GetByGatewayRef(ctx, report.Provider, report.OrderRef)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", report.OrderRef, err)
	}
	return s.apply(ctx, o, report)
}

// Verify is the synchronous variant driven by the storefront after checkout.
// It follows the same idempotence and amount rules as Confirm.
//
// Neither Verify nor Confirm checks the validity window: a payment the
// gateway captured is applied even when the order has outlived it, as long
// as the sweeper has not already failed the order.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.verify", trace.WithAttributes(attribute.String("order.id", in.OrderID)))
	defer span.End()

	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", in.OrderID, err)
	}
	if o.PaymentStatus.Terminal() {
		return &Confirmation{Order: o, Outcome: outcomeOf(o.PaymentStatus)}, nil
	}
	if o.GatewayOrderRef == "" {
		return nil, fmt.Errorf("verify %s: %w", in.OrderID, domain.ErrPaymentNotInitiated)
	}
	if in.TransactionRef != "" && in.TransactionRef != o.GatewayOrderRef {
		s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindReferenceMismatch, string(o.Provider), in.TransactionRef, "verify"))
		return nil, fmt.Errorf("verify %s: %w", in.OrderID, domain.ErrReferenceMismatch)
	}

	if len(in.Fields) > 0 {
		return s.verifyBundle(ctx, o, in.Fields)
	}

	// Concurrent callers share one poll, so it must not die with whichever
	// caller started it.
	detached := context.WithoutCancel(ctx)
	ch := s.verifying.DoChan(o.ID, func() (interface{}, error) {
		gctx, cancel := s.gatewayContext(detached)
		defer cancel()
		report, err := s.poll(gctx, o)
		if err != nil {
			return nil, err
		}
		return s.apply(gctx, o, report)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("verify %s: %w", in.OrderID, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("verify %s: %w", in.OrderID, r.Err)
		}
		c := *r.Val.(*Confirmation)
		return &c, nil
	}
}

func (s *Service) verifyBundle(ctx context.Context, o *domain.Order, fields map[string]string) (*Confirmation, error) {
	auth, ok := s.authenticators[o.Provider]
	if !ok {
		return nil, fmt.Errorf("verify %s: %w: %q", o.ID, domain.ErrUnknownProvider, o.Provider)
	}
	env := domain.Envelope{Provider: o.Provider, Kind: domain.ReportClient, Fields: fields}
	report, err := auth.Authenticate(env)
	if err != nil {
		s.logRejected(ctx, env, err)
		if errors.Is(err, domain.ErrInvalidSignature) {
			s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindRejectedSignature, string(o.Provider), o.GatewayOrderRef, string(env.Kind)))
		}
		return nil, fmt.Errorf("verify %s: %w", o.ID, err)
	}
	return s.apply(ctx, o, report)
}

// apply moves o according to an authenticated report. The store's
// conditional Transition decides the race between concurrent reports; the
// loser gets the stored terminal state back and does nothing else.
func (s *Service) apply(ctx context.Context, o *domain.Order, report *domain.StatusReport) (*Confirmation, error) {
	if report.OrderRef != o.GatewayOrderRef || report.Provider != o.Provider {
		slog.WarnContext(ctx, "payment report does not match order",
			"order_id", o.ID, "provider", report.Provider, "report_ref", report.OrderRef, "order_ref", o.GatewayOrderRef)
		s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindReferenceMismatch, string(report.Provider), report.OrderRef, string(report.Kind)))
		return nil, fmt.Errorf("apply %s: %w", o.ID, domain.ErrReferenceMismatch)
	}
	if o.PaymentStatus.Terminal() {
		return s.duplicate(ctx, o, report), nil
	}

	if report.Outcome == domain.OutcomeSucceeded && !report.AmountKnown {
		polled, err := s.poll(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("apply %s: confirm amount: %w", o.ID, err)
		}
		if polled.PaymentRef == "" {
			polled.PaymentRef = report.PaymentRef
		}
		polled.Kind = report.Kind
		report = polled
	}

	switch report.Outcome {
	case domain.OutcomeSucceeded:
		if !report.AmountKnown || !domain.MinorAmountsMatch(report.AmountMinor, o.AmountMinor()) {
			slog.WarnContext(ctx, "payment amount mismatch",
				"order_id", o.ID, "provider", report.Provider, "reported", report.AmountMinor, "expected", o.AmountMinor())
			s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindAmountMismatch, string(report.Provider), report.PaymentRef,
				fmt.Sprintf("reported %d, expected %d", report.AmountMinor, o.AmountMinor())))
			return nil, fmt.Errorf("apply %s: %w: reported %d, expected %d", o.ID, domain.ErrAmountMismatch, report.AmountMinor, o.AmountMinor())
		}
		return s.transition(ctx, o, report, domain.StatusPaid)
	case domain.OutcomeFailed:
		return s.transition(ctx, o, report, domain.StatusFailed)
	default:
		slog.InfoContext(ctx, "payment still pending", "order_id", o.ID, "provider", report.Provider, "code", report.Code)
		return &Confirmation{Order: o, Outcome: domain.OutcomePending}, nil
	}
}

func (s *Service) transition(ctx context.Context, o *domain.Order, report *domain.StatusReport, to domain.PaymentStatus) (*Confirmation, error) {
	t := ports.Transition{To: to, PaymentRef: report.PaymentRef, At: s.now()}
	if to == domain.StatusFailed {
		t.Reason = report.Code
	}

	stored, applied, err := s.orders.Transition(ctx, o.ID, t)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", o.ID, err)
	}
	if !applied {
		return s.duplicate(ctx, stored, report), nil
	}

	slog.InfoContext(ctx, "payment status changed",
		"order_id", stored.ID, "status", stored.PaymentStatus, "provider", report.Provider,
		"kind", report.Kind, "payment_ref", report.PaymentRef)

	if to == domain.StatusPaid {
		s.record(ctx, auditlog.NewEntry(ctx, stored.ID, auditlog.KindConfirmed, string(report.Provider), report.PaymentRef, string(report.Kind)))
		s.publish(events.OrderPaid, stored)
		s.sendConfirmation(ctx, stored)
	} else {
		s.record(ctx, auditlog.NewEntry(ctx, stored.ID, auditlog.KindDeclined, string(report.Provider), report.PaymentRef, report.Code))
		s.publish(events.OrderFailed, stored)
	}
	return &Confirmation{Order: stored, Outcome: report.Outcome, Applied: true}, nil
}

// duplicate handles a report for an order that is already Paid or Failed.
// A successful payment against a Failed order is not a harmless replay: the
// customer was charged, so it is logged at WARN and audited separately.
func (s *Service) duplicate(ctx context.Context, o *domain.Order, report *domain.StatusReport) *Confirmation {
	if report.Outcome == domain.OutcomeSucceeded && o.PaymentStatus == domain.StatusFailed {
		slog.WarnContext(ctx, "payment captured for failed order",
			"order_id", o.ID, "provider", report.Provider, "payment_ref", report.PaymentRef,
			"amount", report.AmountMinor, "kind", report.Kind)
		s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindCapturedOnFailed, string(report.Provider), report.PaymentRef,
			fmt.Sprintf("%s, amount %d", report.Kind, report.AmountMinor)))
		return &Confirmation{Order: o, Outcome: outcomeOf(o.PaymentStatus)}
	}

	slog.InfoContext(ctx, "payment report for settled order ignored",
		"order_id", o.ID, "status", o.PaymentStatus, "kind", report.Kind)
	s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindDuplicate, string(report.Provider), report.PaymentRef, string(report.Kind)))
	return &Confirmation{Order: o, Outcome: outcomeOf(o.PaymentStatus)}
}

func (s *Service) poll(ctx context.Context, o *domain.Order) (*domain.StatusReport, error) {
	gw, ok := s.gateways[o.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, o.Provider)
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	return gw.CheckStatus(gctx, o.GatewayOrderRef)
}

// logRejected never logs the supplied signature or any secret.
func (s *Service) logRejected(ctx context.Context, env domain.Envelope, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		slog.WarnContext(ctx, "payment report rejected: invalid signature", "provider", env.Provider, "kind", env.Kind)
	case errors.Is(err, domain.ErrMalformedReport):
		slog.WarnContext(ctx, "payment report rejected: malformed", "provider", env.Provider, "kind", env.Kind, "error", err)
	default:
		slog.ErrorContext(ctx, "payment report rejected", "provider", env.Provider, "kind", env.Kind, "error", err)
	}
}

func outcomeOf(s domain.PaymentStatus) domain.Outcome {
	switch s {
	case domain.StatusPaid:
		return domain.OutcomeSucceeded
	case domain.StatusFailed:
		return domain.OutcomeFailed
	}
	return domain.OutcomePending
}
