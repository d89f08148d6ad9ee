package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

// Override lets an operator settle a pending order by hand, for instance
// after checking the provider dashboard. Settled orders cannot be changed.
func (s *Service) Override(ctx context.Context, orderID string, to domain.PaymentStatus, actor, reason string) (*domain.Order, error) {
	if !to.Terminal() {
		return nil, domain.NewValidationError("status", "must be PAID or FAILED")
	}
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}

	stored, applied, err := s.orders.Transition(ctx, orderID, ports.Transition{
		To:     to,
		Reason: "override: " + reason,
		At:     s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("override %s: %w", orderID, err)
	}
	if !applied {
		return nil, fmt.Errorf("override %s: %w: status is %s", orderID, domain.ErrOrderAlreadyProcessed, stored.PaymentStatus)
	}

	slog.WarnContext(ctx, "payment status overridden", "order_id", orderID, "status", to, "actor", actor, "reason", reason)
	e := auditlog.NewEntry(ctx, orderID, auditlog.KindOverride, string(stored.Provider), stored.GatewayOrderRef, string(to)+": "+reason)
	e.Actor = actor
	s.record(ctx, e)

	if to == domain.StatusPaid {
		s.publish(events.OrderPaid, stored)
		s.sendConfirmation(ctx, stored)
	} else {
		s.publish(events.OrderFailed, stored)
	}
	return stored, nil
}
