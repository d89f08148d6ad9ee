package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the persisted record of a customer order and its payment state.
// Items, totals and the customer snapshot are immutable once created; only the
// reconciliation service moves PaymentStatus and the gateway references.
type Order struct {
	ID              string
	IdempotencyKey  string
	Customer        Customer
	ShippingAddress Address
	Items           []OrderItem
	ShippingMethod  string
	ShippingCost    decimal.Decimal
	CouponCode      string
	Discount        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus

	// Provider, GatewayOrderRef and GatewayActionURL are written together,
	// once, when payment is initiated.
	Provider          Provider
	GatewayOrderRef   string
	GatewayActionURL  string
	GatewayPaymentRef string
	FailureReason     string

	EmailSent bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

type PaymentStatus string

const (
	StatusPending PaymentStatus = "PENDING"
	StatusPaid    PaymentStatus = "PAID"
	StatusFailed  PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "COD"
	MethodGateway        PaymentMethod = "GATEWAY"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCashOnDelivery || m == MethodGateway
}

type Provider string

const (
	ProviderRazorpay Provider = "razorpay"
	ProviderPhonePe  Provider = "phonepe"
)

// AmountMinor returns the order total in the currency's minor unit (paise).
func (o *Order) AmountMinor() int64 {
	return ToMinorUnits(o.Total)
}

// Expired reports whether a still-pending order has outlived its validity window.
func (o *Order) Expired(now time.Time, window time.Duration) bool {
	if window <= 0 || o.PaymentStatus != StatusPending {
		return false
	}
	return now.Sub(o.CreatedAt) > window
}
