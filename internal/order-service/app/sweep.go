package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
)

type SweepResult struct {
	Expired int
	Purged  int
}

// Expire fails every pending gateway order older than the validity window.
func (s *Service) Expire(ctx context.Context) (int, error) {
	stale, err := s.orders.List(ctx, ports.ListFilter{
		Status:        domain.StatusPending,
		Method:        domain.MethodGateway,
		CreatedBefore: s.now().Add(-s.cfg.ValidityWindow),
	})
	if err != nil {
		return 0, fmt.Errorf("expire: list pending: %w", err)
	}

	n := 0
	for i := range stale {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if s.expire(ctx, &stale[i]) {
			n++
		}
	}
	return n, nil
}

// Purge deletes Pending and Failed orders older than the retention window.
// Paid orders are never purged.
func (s *Service) Purge(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.RetentionWindow)

	if s.audit != nil {
		for _, status := range []domain.PaymentStatus{domain.StatusPending, domain.StatusFailed} {
			doomed, err := s.orders.List(ctx, ports.ListFilter{Status: status, CreatedBefore: cutoff})
			if err != nil {
				return 0, fmt.Errorf("purge: list %s: %w", status, err)
			}
			for _, o := range doomed {
				s.record(ctx, auditlog.NewEntry(ctx, o.ID, auditlog.KindPurged, string(o.Provider), o.GatewayOrderRef, string(o.PaymentStatus)))
			}
		}
	}

	n, err := s.orders.PurgeBefore(ctx, cutoff, domain.StatusPending, domain.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return n, nil
}

// Sweep runs one expiry pass followed by one retention pass.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var err error
	if res.Expired, err = s.Expire(ctx); err != nil {
		return res, err
	}
	if res.Purged, err = s.Purge(ctx); err != nil {
		return res, err
	}
	if res.Expired > 0 || res.Purged > 0 {
		slog.InfoContext(ctx, "sweep finished", "expired", res.Expired, "purged", res.Purged)
	}
	return res, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sweeper started", "interval", interval.String())
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ResendConfirmations retries the confirmation email for Paid orders whose
// earlier attempt failed. It runs synchronously.
func (s *Service) ResendConfirmations(ctx context.Context, limit int) (sent, failed int, err error) {
	if s.notifier == nil {
		return 0, 0, nil
	}
	pending, err := s.orders.List(ctx, ports.ListFilter{EmailPending: true, Limit: limit})
	if err != nil {
		return 0, 0, fmt.Errorf("resend confirmations: %w", err)
	}
	for i := range pending {
		if s.deliver(ctx, &pending[i]) != nil {
			failed++
			continue
		}
		sent++
	}
	return sent, failed, nil
}
