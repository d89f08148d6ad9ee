// Package ports declares what the HTTP gateway needs from the order service
// and the admin authenticator. *app.Service and *auth.Authenticator satisfy
// them; handler tests substitute fakes.
package ports

import (
	"context"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/order-service/app"
	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	orderports "github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/auth"
)

type OrderService interface {
	Create(ctx context.Context, in app.CreateOrderInput) (*domain.Order, bool, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, f orderports.ListFilter) ([]domain.Order, error)
	History(ctx context.Context, id string) ([]auditlog.Entry, error)

	Initiate(ctx context.Context, orderID string, provider domain.Provider) (*app.InitiateResult, error)
	Confirm(ctx context.Context, env domain.Envelope) (*app.Confirmation, error)
	Verify(ctx context.Context, in app.VerifyInput) (*app.Confirmation, error)
	Override(ctx context.Context, orderID string, to domain.PaymentStatus, actor, reason string) (*domain.Order, error)
}

type AdminAuth interface {
	Login(username, password string) (token string, expires time.Time, err error)
	Validate(raw string) (*auth.Claims, error)
}

var (
	_ OrderService = (*app.Service)(nil)
	_ AdminAuth    = (*auth.Authenticator)(nil)
)
