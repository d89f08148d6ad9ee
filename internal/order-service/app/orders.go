package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

// orderNamespace scopes order IDs derived from client idempotency keys.
var orderNamespace = uuid.MustParse("6f1c3f2e-8a4b-4d8e-9c39-4b1e7a0d5c21")

type CreateOrderInput struct {
	IdempotencyKey  string
	Customer        domain.Customer
	ShippingAddress domain.Address
	Items           []domain.OrderItem
	ShippingMethod  string
	CouponCode      string
	PaymentMethod   domain.PaymentMethod
	// Total is what the storefront displayed; it must match the server's
	// own pricing within domain.Epsilon.
	Total decimal.Decimal
}

// OrderIDFor returns the order ID a request with this idempotency key maps to,
// or a fresh random ID when the key is empty.
func OrderIDFor(idempotencyKey string) string {
	if idempotencyKey == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(orderNamespace, []byte(idempotencyKey)).String()
}

// Create prices and stores a new order. Cash on delivery orders are stored
// Paid and confirmed straight away. created is false when the idempotency key
// matched an existing order, which is returned unchanged.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*domain.Order, bool, error) {
	if err := validateOrder(&in); err != nil {
		return nil, false, err
	}

	quote, err := s.pricing.Price(in.Items, in.ShippingMethod, in.CouponCode)
	if err != nil {
		return nil, false, err
	}
	if !domain.TotalsMatch(in.Total, quote.Total) {
		return nil, false, fmt.Errorf("%w: submitted %s, computed %s",
			domain.ErrAmountMismatch, in.Total.StringFixed(2), quote.Total.StringFixed(2))
	}

	now := s.now()
	o := &domain.Order{
		ID:              OrderIDFor(in.IdempotencyKey),
		IdempotencyKey:  in.IdempotencyKey,
		Customer:        in.Customer,
		ShippingAddress: in.ShippingAddress,
		Items:           in.Items,
		ShippingMethod:  strings.ToLower(in.ShippingMethod),
		ShippingCost:    quote.Shipping,
		CouponCode:      strings.ToUpper(in.CouponCode),
		Discount:        quote.Discount,
		Total:           quote.Total,
		Currency:        s.cfg.Currency,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if o.PaymentMethod == domain.MethodCashOnDelivery {
		o.PaymentStatus = domain.StatusPaid
	}

	stored, created, err := s.orders.Create(ctx, o)
	if err != nil {
		return nil, false, fmt.Errorf("create order %s: %w", o.ID, err)
	}
	if !created {
		slog.InfoContext(ctx, "order replayed", "order_id", stored.ID)
		return stored, false, nil
	}

	slog.InfoContext(ctx, "order created",
		"order_id", stored.ID,
		"payment_method", stored.PaymentMethod,
		"total", stored.Total.StringFixed(2),
	)
	s.record(ctx, auditlog.NewEntry(ctx, stored.ID, auditlog.KindCreated, "", "", string(stored.PaymentMethod)))
	s.publish(events.OrderCreated, stored)
	if stored.PaymentStatus == domain.StatusPaid {
		s.sendConfirmation(ctx, stored)
	}
	return stored, true, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders matching f, newest first.
func (s *Service) List(ctx context.Context, f ports.ListFilter) ([]domain.Order, error) {
	return s.orders.List(ctx, f)
}

// History returns the audit trail for one order, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]auditlog.Entry, error) {
	if s.audit == nil {
		return []auditlog.Entry{}, nil
	}
	return s.audit.ListByOrder(ctx, id)
}

// validateOrder checks in and reduces the customer email to its bare
// address, since a display-name form cannot be used as a mail recipient.
func validateOrder(in *CreateOrderInput) error {
	c := in.Customer
	switch {
	case strings.TrimSpace(c.Name) == "":
		return domain.NewValidationError("customer.name", "is required")
	case strings.TrimSpace(c.Phone) == "":
		return domain.NewValidationError("customer.phone", "is required")
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil {
		return domain.NewValidationError("customer.email", "is not a valid address")
	}
	in.Customer.Email = addr.Address

	a := in.ShippingAddress
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return domain.NewValidationError("shippingAddress.line1", "is required")
	case strings.TrimSpace(a.City) == "":
		return domain.NewValidationError("shippingAddress.city", "is required")
	case strings.TrimSpace(a.PostalCode) == "":
		return domain.NewValidationError("shippingAddress.postalCode", "is required")
	}

	if len(in.Items) == 0 {
		return domain.NewValidationError("items", "at least one item is required")
	}
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return domain.NewValidationError(field+".productId", "is required")
		case it.Quantity <= 0:
			return domain.NewValidationError(field+".quantity", "must be positive")
		case it.UnitPrice.IsNegative():
			return domain.NewValidationError(field+".unitPrice", "must not be negative")
		}
	}

	if !in.PaymentMethod.Valid() {
		return domain.NewValidationError("paymentMethod", fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}
	if in.ShippingMethod == "" {
		return domain.NewValidationError("shippingMethod", "is required")
	}
	return nil
}
