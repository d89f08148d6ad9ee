package app

import (
	"context"
	"log/slog"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

// sendConfirmation emails the customer in the background. Only the caller
// that won the transition to Paid gets here, so each order is mailed once
// by the normal flow; failures are recorded for ResendConfirmations.
func (s *Service) sendConfirmation(ctx context.Context, o *domain.Order) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		_ = s.deliver(ctx, o)
	}()
}

func (s *Service) deliver(ctx context.Context, o *domain.Order) error {
	if err := s.notifier.OrderConfirmed(ctx, o); err != nil {
		slog.ErrorContext(ctx, "confirmation email failed", "order_id", o.ID, "error", err)
		s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindEmailFailed, "", "", err.Error()))
		return err
	}

	marked, err := s.orders.MarkEmailSent(ctx, o.ID)
	if err != nil {
		slog.ErrorContext(ctx, "mark email sent failed", "order_id", o.ID, "error", err)
		return err
	}
	if marked {
		s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindEmailSent, "", "", o.Customer.Email))
	}
	return nil
}
