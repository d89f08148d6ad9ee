// Package ports declares the collaborators the reconciliation service depends
// on. Adapters under order-service/adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

// Repository is the Order Store. Every status change goes through
// Transition, which must be a single atomic conditional write.
type Repository interface {
	// Create inserts o. When an order with the same ID already exists and
	// carries the same idempotency key, the stored order is returned with
	// created=false. Any other collision is domain.ErrDuplicateOrder.
	Create(ctx context.Context, o *domain.Order) (stored *domain.Order, created bool, err error)

	Get(ctx context.Context, id string) (*domain.Order, error)

	// GetByGatewayRef resolves an order from the provider-assigned reference.
	GetByGatewayRef(ctx context.Context, provider domain.Provider, ref string) (*domain.Order, error)

	// AttachGatewayRef records the provider reference on a pending order that
	// has none yet. It returns the stored order and whether this call wrote it.
	AttachGatewayRef(ctx context.Context, id string, ref GatewayRef) (*domain.Order, bool, error)

	// Transition moves an order out of Pending. It is a compare-and-swap on
	// the payment status: applied is false when the order was not Pending,
	// and the returned order reflects the stored state either way.
	Transition(ctx context.Context, id string, t Transition) (*domain.Order, bool, error)

	// MarkEmailSent flips emailSent from false to true and reports whether
	// this call did so.
	MarkEmailSent(ctx context.Context, id string) (bool, error)

	List(ctx context.Context, f ListFilter) ([]domain.Order, error)

	// PurgeBefore deletes orders in one of the given statuses created before
	// the cutoff and returns the number removed.
	PurgeBefore(ctx context.Context, cutoff time.Time, statuses ...domain.PaymentStatus) (int, error)

	Ping(ctx context.Context) error
}

type GatewayRef struct {
	Provider  domain.Provider
	OrderRef  string
	ActionURL string
	At        time.Time
}

type Transition struct {
	To         domain.PaymentStatus
	PaymentRef string
	Reason     string
	At         time.Time
}

// ListFilter narrows List. Zero values mean "no constraint". Date matches the
// UTC calendar day of CreatedAt.
type ListFilter struct {
	OrderID       string
	Date          time.Time
	Status        domain.PaymentStatus
	Method        domain.PaymentMethod
	CreatedBefore time.Time
	EmailPending  bool
	Limit         int
}

// Gateway is the outbound adapter to one payment provider.
type Gateway interface {
	Provider() domain.Provider

	// CreatePayment opens a provider-side transaction. Implementations must
	// not retry it unless the provider deduplicates on PaymentRequest.OrderID.
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)

	// CheckStatus queries the provider for the current state of the
	// transaction identified by orderRef. Safe to retry.
	CheckStatus(ctx context.Context, orderRef string) (*domain.StatusReport, error)
}

type PaymentRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Customer    domain.Customer
	RedirectURL string
}

// PaymentSession is what the storefront needs to send the customer to pay:
// a hosted page URL, or a provider order token for an in-page checkout.
type PaymentSession struct {
	Provider    domain.Provider
	OrderRef    string
	ActionURL   string
	PublicKey   string
	AmountMinor int64
	Currency    string
}

// Authenticator is the Signature Verifier front for one provider: it proves
// an Envelope came from the provider and decodes it. A signature mismatch is
// domain.ErrInvalidSignature; unparsable input is domain.ErrMalformedReport.
type Authenticator interface {
	Provider() domain.Provider
	Authenticate(env domain.Envelope) (*domain.StatusReport, error)
}

// Notifier delivers the order confirmation side effect.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *domain.Order) error
}
