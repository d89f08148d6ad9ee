// Package storetest is the behavioural contract every ports.Repository
// implementation runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// NewOrder returns a pending gateway order created at base+offset.
func NewOrder(id string, offset time.Duration) *domain.Order {
	created := base.Add(offset)
	return &domain.Order{
		ID:              id,
		Customer:        domain.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "9999999999"},
		ShippingAddress: domain.Address{Line1: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001", Country: "IN"},
		Items: []domain.OrderItem{
			{ProductID: "tea-500g", Name: "Assam Tea", Quantity: 2, UnitPrice: decimal.NewFromInt(425)},
		},
		ShippingMethod: "standard",
		ShippingCost:   decimal.NewFromInt(80),
		Discount:       decimal.Zero,
		Total:          decimal.NewFromInt(930),
		Currency:       "INR",
		PaymentMethod:  domain.MethodGateway,
		PaymentStatus:  domain.StatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// Run exercises newStore against the Repository contract.
func Run(t *testing.T, newStore func(t *testing.T) ports.Repository) {
	t.Run("create_and_get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o := NewOrder("o-1", 0)
		stored, created, err := s.Create(ctx, o)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "o-1", stored.ID)

		got, err := s.Get(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.PaymentStatus)
		assert.True(t, got.Total.Equal(decimal.NewFromInt(930)))
		require.Len(t, got.Items, 1)
		assert.True(t, got.Items[0].UnitPrice.Equal(decimal.NewFromInt(425)))
		assert.Equal(t, 2, got.Items[0].Quantity)
		assert.Equal(t, "Pune", got.ShippingAddress.City)
		assert.True(t, got.CreatedAt.Equal(o.CreatedAt))
	})

	t.Run("get_missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("duplicate_id_rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, _, err := s.Create(ctx, NewOrder("dup", 0))
		require.NoError(t, err)

		other := NewOrder("dup", time.Minute)
		other.Total = decimal.NewFromInt(1)
		_, created, err := s.Create(ctx, other)
		assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
		assert.False(t, created)

		got, err := s.Get(ctx, "dup")
		require.NoError(t, err)
		assert.True(t, got.Total.Equal(decimal.NewFromInt(930)), "stored order must not be overwritten")
	})

	t.Run("same_idempotency_key_returns_existing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := NewOrder("idem", 0)
		first.IdempotencyKey = "key-1"
		_, created, err := s.Create(ctx, first)
		require.NoError(t, err)
		require.True(t, created)

		retry := NewOrder("idem", time.Minute)
		retry.IdempotencyKey = "key-1"
		stored, created, err := s.Create(ctx, retry)
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, stored.CreatedAt.Equal(first.CreatedAt))
	})

	t.Run("racing_creates_produce_one_order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var createdCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o := NewOrder("race", 0)
				o.IdempotencyKey = "same-key"
				_, created, err := s.Create(ctx, o)
				assert.NoError(t, err)
				if created {
					createdCount.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), createdCount.Load())
	})

	t.Run("attach_gateway_ref_once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _, err := s.Create(ctx, NewOrder("o-ref", 0))
		require.NoError(t, err)

		ref := ports.GatewayRef{Provider: domain.ProviderRazorpay, OrderRef: "order_A", ActionURL: "", At: base.Add(time.Minute)}
		o, attached, err := s.AttachGatewayRef(ctx, "o-ref", ref)
		require.NoError(t, err)
		assert.True(t, attached)
		assert.Equal(t, "order_A", o.GatewayOrderRef)
		assert.Equal(t, domain.ProviderRazorpay, o.Provider)

		o, attached, err = s.AttachGatewayRef(ctx, "o-ref", ports.GatewayRef{Provider: domain.ProviderRazorpay, OrderRef: "order_B", At: base})
		require.NoError(t, err)
		assert.False(t, attached)
		assert.Equal(t, "order_A", o.GatewayOrderRef)

		byRef, err := s.GetByGatewayRef(ctx, domain.ProviderRazorpay, "order_A")
		require.NoError(t, err)
		assert.Equal(t, "o-ref", byRef.ID)

		_, err = s.GetByGatewayRef(ctx, domain.ProviderRazorpay, "order_B")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		_, err = s.GetByGatewayRef(ctx, domain.ProviderPhonePe, "order_A")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("transition_is_compare_and_swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _, err := s.Create(ctx, NewOrder("o-cas", 0))
		require.NoError(t, err)

		o, applied, err := s.Transition(ctx, "o-cas", ports.Transition{To: domain.StatusPaid, PaymentRef: "pay_1", At: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, domain.StatusPaid, o.PaymentStatus)
		assert.Equal(t, "pay_1", o.GatewayPaymentRef)

		o, applied, err = s.Transition(ctx, "o-cas", ports.Transition{To: domain.StatusFailed, PaymentRef: "pay_2", Reason: "late", At: base.Add(2 * time.Minute)})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, domain.StatusPaid, o.PaymentStatus)
		assert.Equal(t, "pay_1", o.GatewayPaymentRef)

		_, _, err = s.Transition(ctx, "missing", ports.Transition{To: domain.StatusPaid})
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("concurrent_transitions_single_winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _, err := s.Create(ctx, NewOrder("o-race", 0))
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := domain.StatusPaid
				if i%2 == 1 {
					to = domain.StatusFailed
				}
				_, applied, err := s.Transition(ctx, "o-race", ports.Transition{To: to, PaymentRef: fmt.Sprintf("pay_%d", i), At: base})
				assert.NoError(t, err)
				if applied {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("mark_email_sent_once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _, err := s.Create(ctx, NewOrder("o-mail", 0))
		require.NoError(t, err)

		first, err := s.MarkEmailSent(ctx, "o-mail")
		require.NoError(t, err)
		assert.True(t, first)

		second, err := s.MarkEmailSent(ctx, "o-mail")
		require.NoError(t, err)
		assert.False(t, second)

		got, err := s.Get(ctx, "o-mail")
		require.NoError(t, err)
		assert.True(t, got.EmailSent)
	})

	t.Run("list_filters_and_order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		older := NewOrder("o-old", -48*time.Hour)
		mid := NewOrder("o-mid", 0)
		newer := NewOrder("o-new", time.Hour)
		cod := NewOrder("o-cod", 2*time.Hour)
		cod.PaymentMethod = domain.MethodCashOnDelivery
		cod.PaymentStatus = domain.StatusPaid
		for _, o := range []*domain.Order{older, mid, newer, cod} {
			_, _, err := s.Create(ctx, o)
			require.NoError(t, err)
		}

		all, err := s.List(ctx, ports.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, []string{"o-cod", "o-new", "o-mid", "o-old"}, ids(all))

		sameDay, err := s.List(ctx, ports.ListFilter{Date: base})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-cod", "o-new", "o-mid"}, ids(sameDay))

		one, err := s.List(ctx, ports.ListFilter{OrderID: "o-mid"})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-mid"}, ids(one))

		pending, err := s.List(ctx, ports.ListFilter{Status: domain.StatusPending, Method: domain.MethodGateway, CreatedBefore: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-mid", "o-old"}, ids(pending))

		unsent, err := s.List(ctx, ports.ListFilter{EmailPending: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-cod"}, ids(unsent))

		limited, err := s.List(ctx, ports.ListFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-cod", "o-new"}, ids(limited))
	})

	t.Run("purge_before", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		stalePending := NewOrder("stale-pending", -48*time.Hour)
		staleFailed := NewOrder("stale-failed", -48*time.Hour)
		stalePaid := NewOrder("stale-paid", -48*time.Hour)
		fresh := NewOrder("fresh", 0)
		for _, o := range []*domain.Order{stalePending, staleFailed, stalePaid, fresh} {
			_, _, err := s.Create(ctx, o)
			require.NoError(t, err)
		}
		_, _, err := s.AttachGatewayRef(ctx, "stale-pending", ports.GatewayRef{Provider: domain.ProviderPhonePe, OrderRef: "stale-pending", At: base})
		require.NoError(t, err)
		_, _, err = s.Transition(ctx, "stale-failed", ports.Transition{To: domain.StatusFailed, Reason: "declined", At: base})
		require.NoError(t, err)
		_, _, err = s.Transition(ctx, "stale-paid", ports.Transition{To: domain.StatusPaid, At: base})
		require.NoError(t, err)

		n, err := s.PurgeBefore(ctx, base.Add(-24*time.Hour), domain.StatusPending, domain.StatusFailed)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rest, err := s.List(ctx, ports.ListFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"stale-paid", "fresh"}, ids(rest))

		_, err = s.GetByGatewayRef(ctx, domain.ProviderPhonePe, "stale-pending")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
