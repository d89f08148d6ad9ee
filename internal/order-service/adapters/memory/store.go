// Package memory is an in-process Order Store. A single mutex serialises
// every read-check-write, which is what makes Transition a compare-and-swap.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
)

var _ ports.Repository = (*Store)(nil)

type refKey struct {
	provider domain.Provider
	ref      string
}

type Store struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	refs   map[refKey]string
}

func New() *Store {
	return &Store{
		orders: make(map[string]*domain.Order),
		refs:   make(map[refKey]string),
	}
}

func (s *Store) Create(_ context.Context, o *domain.Order) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[o.ID]; ok {
		if o.IdempotencyKey != "" && existing.IdempotencyKey == o.IdempotencyKey {
			return ports.Clone(existing), false, nil
		}
		return nil, false, domain.ErrDuplicateOrder
	}

	stored := ports.Clone(o)
	s.orders[o.ID] = stored
	return ports.Clone(stored), true, nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return ports.Clone(o), nil
}

func (s *Store) GetByGatewayRef(_ context.Context, provider domain.Provider, ref string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.refs[refKey{provider, ref}]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return ports.Clone(s.orders[id]), nil
}

func (s *Store) AttachGatewayRef(_ context.Context, id string, ref ports.GatewayRef) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	if o.GatewayOrderRef != "" || o.PaymentStatus != domain.StatusPending {
		return ports.Clone(o), false, nil
	}
	key := refKey{ref.Provider, ref.OrderRef}
	if owner, taken := s.refs[key]; taken && owner != id {
		return nil, false, domain.ErrDuplicateOrder
	}

	o.Provider = ref.Provider
	o.GatewayOrderRef = ref.OrderRef
	o.GatewayActionURL = ref.ActionURL
	o.UpdatedAt = ref.At
	s.refs[key] = id
	return ports.Clone(o), true, nil
}

func (s *Store) Transition(_ context.Context, id string, t ports.Transition) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	if o.PaymentStatus != domain.StatusPending {
		return ports.Clone(o), false, nil
	}

	o.PaymentStatus = t.To
	if o.GatewayPaymentRef == "" {
		o.GatewayPaymentRef = t.PaymentRef
	}
	o.FailureReason = t.Reason
	o.UpdatedAt = t.At
	return ports.Clone(o), true, nil
}

func (s *Store) MarkEmailSent(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if o.EmailSent {
		return false, nil
	}
	o.EmailSent = true
	return true, nil
}

func (s *Store) List(_ context.Context, f ports.ListFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if f.Match(o) {
			out = append(out, *ports.Clone(o))
		}
	}
	return ports.SortNewestFirst(out, f.Limit), nil
}

func (s *Store) PurgeBefore(_ context.Context, cutoff time.Time, statuses ...domain.PaymentStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, o := range s.orders {
		if !o.CreatedAt.Before(cutoff) || !hasStatus(o.PaymentStatus, statuses) {
			continue
		}
		if o.GatewayOrderRef != "" {
			delete(s.refs, refKey{o.Provider, o.GatewayOrderRef})
		}
		delete(s.orders, id)
		n++
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func hasStatus(s domain.PaymentStatus, set []domain.PaymentStatus) bool {
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}
