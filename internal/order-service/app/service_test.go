package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/memory"
	"github.com/jcmexdev/storefront-payments/internal/order-service/app"
	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

type harness struct {
	svc      *app.Service
	store    *memory.Store
	gateway  *fakeGateway
	notifier *recordingNotifier
	audit    *memAudit
	events   *recordingPublisher
	clock    *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		gateway:  newFakeGateway(domain.ProviderRazorpay),
		notifier: &recordingNotifier{},
		audit:    &memAudit{},
		events:   &recordingPublisher{},
		clock:    &clock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
	}
	h.svc = app.New(h.store, pricing, app.Config{
		Currency:        "INR",
		DefaultProvider: domain.ProviderRazorpay,
		ValidityWindow:  30 * time.Minute,
		RetentionWindow: 24 * time.Hour,
		GatewayTimeout:  time.Second,
	},
		app.WithGateway(h.gateway),
		app.WithAuthenticator(h.gateway),
		app.WithNotifier(h.notifier),
		app.WithAuditLog(h.audit),
		app.WithPublisher(h.events),
		app.WithClock(h.clock.Now),
	)
	return h
}

// orderInput is the ₹930 order: 2 x ₹425 plus ₹80 standard shipping.
func orderInput() app.CreateOrderInput {
	return app.CreateOrderInput{
		Customer:        domain.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "9999999999"},
		ShippingAddress: domain.Address{Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"},
		Items:           []domain.OrderItem{{ProductID: "tea-500g", Name: "Assam Tea", Quantity: 2, UnitPrice: decimal.NewFromInt(425)}},
		ShippingMethod:  "standard",
		PaymentMethod:   domain.MethodGateway,
		Total:           decimal.NewFromInt(930),
	}
}

func (h *harness) initiatedOrder(t *testing.T) *domain.Order {
	t.Helper()
	ctx := context.Background()
	o, created, err := h.svc.Create(ctx, orderInput())
	require.NoError(t, err)
	require.True(t, created)
	_, err = h.svc.Initiate(ctx, o.ID, "")
	require.NoError(t, err)
	o, err = h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	return o
}

func webhook(o *domain.Order, outcome domain.Outcome, amount string, sig string) domain.Envelope {
	return domain.Envelope{
		Provider:  domain.ProviderRazorpay,
		Kind:      domain.ReportWebhook,
		Signature: sig,
		Fields: map[string]string{
			"order_ref":   o.GatewayOrderRef,
			"payment_ref": "pay_" + o.ID,
			"outcome":     string(outcome),
			"amount":      amount,
		},
	}
}

func TestPaymentLifecycleExample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.initiatedOrder(t)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(930)))
	assert.Equal(t, int64(93000), o.AmountMinor())

	res, err := h.svc.Confirm(ctx, webhook(o, domain.OutcomeSucceeded, "93000", "good"))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.StatusPaid, res.Order.PaymentStatus)
	assert.Equal(t, "pay_"+o.ID, res.Order.GatewayPaymentRef)
	h.svc.Wait()
	assert.Equal(t, 1, h.notifier.count())

	got, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailSent)

	replay, err := h.svc.Confirm(ctx, webhook(o, domain.OutcomeSucceeded, "93000", "good"))
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, domain.StatusPaid, replay.Order.PaymentStatus)
	h.svc.Wait()
	assert.Equal(t, 1, h.notifier.count(), "replay must not send a second email")

	// A second order confirmed for ₹100 is rejected and stays pending.
	other := h.initiatedOrder(t)
	_, err = h.svc.Confirm(ctx, webhook(other, domain.OutcomeSucceeded, "10000", "good"))
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	still, err := h.svc.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, still.PaymentStatus)

	assert.Equal(t, []auditlog.Kind{
		auditlog.KindCreated, auditlog.KindInitiated, auditlog.KindConfirmed, auditlog.KindEmailSent, auditlog.KindDuplicate,
	}, h.audit.kinds(o.ID))
	assert.Contains(t, h.audit.kinds(other.ID), auditlog.KindAmountMismatch)
}

func TestCreateValidatesAndPrices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mismatch := orderInput()
	mismatch.Total = decimal.NewFromInt(900)
	_, _, err := h.svc.Create(ctx, mismatch)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)

	withinEpsilon := orderInput()
	withinEpsilon.Total = decimal.RequireFromString("930.01")
	o, _, err := h.svc.Create(ctx, withinEpsilon)
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(930)), "stored total is the computed one")

	coupon := orderInput()
	coupon.CouponCode = "save10"
	coupon.Total = decimal.NewFromInt(845)
	o, _, err = h.svc.Create(ctx, coupon)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.True(t, o.Discount.Equal(decimal.NewFromInt(85)))

	tests := []struct {
		name  string
		mut   func(in *app.CreateOrderInput)
		field string
	}{
		{"no name", func(in *app.CreateOrderInput) { in.Customer.Name = "" }, "customer.name"},
		{"bad email", func(in *app.CreateOrderInput) { in.Customer.Email = "asha" }, "customer.email"},
		{"no items", func(in *app.CreateOrderInput) { in.Items = nil }, "items"},
		{"zero quantity", func(in *app.CreateOrderInput) { in.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"negative price", func(in *app.CreateOrderInput) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) }, "items[0].unitPrice"},
		{"bad method", func(in *app.CreateOrderInput) { in.PaymentMethod = "CHEQUE" }, "paymentMethod"},
		{"unknown shipping", func(in *app.CreateOrderInput) { in.ShippingMethod = "drone" }, "shippingMethod"},
		{"no city", func(in *app.CreateOrderInput) { in.ShippingAddress.City = "" }, "shippingAddress.city"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := orderInput()
			tt.mut(&in)
			_, _, err := h.svc.Create(ctx, in)
			require.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCreateStoresBareEmailAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := orderInput()
	in.Customer.Email = "Asha Rao <Asha@Example.com>"
	o, _, err := h.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "Asha@Example.com", o.Customer.Email)

	stored, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha@Example.com", stored.Customer.Email)
}

func TestCreateWithSameIdempotencyKeyRace(t *testing.T) {
	h := newHarness(t)
	in := orderInput()
	in.IdempotencyKey = "checkout-7f3a"

	var wg sync.WaitGroup
	var created atomic.Int32
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, c, err := h.svc.Create(context.Background(), in)
			if assert.NoError(t, err) {
				ids[i] = o.ID
				if c {
					created.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, id := range ids {
		assert.Equal(t, app.OrderIDFor("checkout-7f3a"), id)
	}
	all, err := h.svc.List(context.Background(), ports.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCashOnDeliveryIsPaidAndConfirmedOnce(t *testing.T) {
	h := newHarness(t)
	in := orderInput()
	in.PaymentMethod = domain.MethodCashOnDelivery
	in.IdempotencyKey = "cod-1"

	o, created, err := h.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPaid, o.PaymentStatus)

	_, created, err = h.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created)

	h.svc.Wait()
	assert.Equal(t, 1, h.notifier.count())

	_, err = h.svc.Initiate(context.Background(), o.ID, "")
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyProcessed)
}

func TestConcurrentConfirmationsApplyOnce(t *testing.T) {
	h := newHarness(t)
	o := h.initiatedOrder(t)
	h.gateway.setStatus(domain.OutcomeSucceeded, 93000)

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res *app.Confirmation
			var err error
			if i%2 == 0 {
				res, err = h.svc.Confirm(context.Background(), webhook(o, domain.OutcomeSucceeded, "93000", "good"))
			} else {
				res, err = h.svc.Verify(context.Background(), app.VerifyInput{OrderID: o.ID, TransactionRef: o.GatewayOrderRef})
			}
			if assert.NoError(t, err) {
				assert.Equal(t, domain.StatusPaid, res.Order.PaymentStatus)
				if res.Applied {
					applied.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	h.svc.Wait()

	// Waiters on one shared verify all see its Applied flag, so count the
	// transition through its side effects instead.
	assert.GreaterOrEqual(t, applied.Load(), int32(1))
	assert.Equal(t, 1, h.notifier.count())
	confirmed := 0
	for _, k := range h.audit.kinds(o.ID) {
		if k == auditlog.KindConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderPaid}, h.events.types())
}

func TestInvalidSignatureChangesNothing(t *testing.T) {
	h := newHarness(t)
	o := h.initiatedOrder(t)

	_, err := h.svc.Confirm(context.Background(), webhook(o, domain.OutcomeSucceeded, "93000", "forged"))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = h.svc.Verify(context.Background(), app.VerifyInput{
		OrderID: o.ID,
		Fields:  map[string]string{"order_ref": o.GatewayOrderRef, "payment_ref": "pay_x", "outcome": "SUCCEEDED", "signature": "stale"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = h.svc.Confirm(context.Background(), domain.Envelope{Provider: domain.ProviderRazorpay, Kind: domain.ReportWebhook, Fields: map[string]string{}})
	assert.ErrorIs(t, err, domain.ErrMalformedReport)

	got, err := h.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.PaymentStatus)
	assert.Empty(t, got.GatewayPaymentRef)
	assert.Contains(t, h.audit.kinds(o.ID), auditlog.KindRejectedSignature)
	assert.Equal(t, 0, h.notifier.count())
}

func TestFailedIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.initiatedOrder(t)

	res, err := h.svc.Confirm(ctx, webhook(o, domain.OutcomeFailed, "", "good"))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.StatusFailed, res.Order.PaymentStatus)

	res, err = h.svc.Confirm(ctx, webhook(o, domain.OutcomeSucceeded, "93000", "good"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.StatusFailed, res.Order.PaymentStatus)

	h.gateway.setStatus(domain.OutcomeSucceeded, 93000)
	res, err = h.svc.Verify(ctx, app.VerifyInput{OrderID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Order.PaymentStatus)
	assert.Equal(t, 0, h.gateway.polls, "settled orders are not polled")

	h.svc.Wait()
	assert.Equal(t, 0, h.notifier.count())
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderFailed}, h.events.types())
	assert.Equal(t, []auditlog.Kind{
		auditlog.KindCreated, auditlog.KindInitiated, auditlog.KindDeclined, auditlog.KindCapturedOnFailed,
	}, h.audit.kinds(o.ID), "a capture after failure is flagged for refund, not filed as a replay")
}

func TestCaptureAfterExpiryIsFlagged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.initiatedOrder(t)

	h.clock.Advance(31 * time.Minute)
	expired, err := h.svc.Expire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	res, err := h.svc.Confirm(ctx, webhook(o, domain.OutcomeSucceeded, "93000", "good"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.StatusFailed, res.Order.PaymentStatus)

	entries, err := h.audit.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, auditlog.KindCapturedOnFailed, last.Kind)
	assert.Equal(t, "pay_"+o.ID, last.Reference)
	assert.Contains(t, last.Detail, "93000")
}

func TestPendingReportLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	o := h.initiatedOrder(t)

	res, err := h.svc.Confirm(context.Background(), webhook(o, domain.OutcomePending, "", "good"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.OutcomePending, res.Outcome)
	assert.Equal(t, domain.StatusPending, res.Order.PaymentStatus)
}

func TestConfirmUnknownReference(t *testing.T) {
	h := newHarness(t)
	env := domain.Envelope{
		Provider:  domain.ProviderRazorpay,
		Kind:      domain.ReportWebhook,
		Signature: "good",
		Fields:    map[string]string{"order_ref": "ref_nobody", "outcome": "SUCCEEDED", "amount": "100"},
	}
	_, err := h.svc.Confirm(context.Background(), env)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	env.Provider = domain.ProviderPhonePe
	_, err = h.svc.Confirm(context.Background(), env)
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}
