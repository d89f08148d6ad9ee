package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/storefront-payments/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/storefront-payments/internal/pkg/health"
)

type RouterConfig struct {
	// RequestTimeout bounds every route except the event stream.
	RequestTimeout time.Duration
	Health         *health.Registry
}

func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middlewares.Logger)
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.LiveHandler)
		r.Get("/health/ready", cfg.Health.ReadyHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Post("/orders", handler.CreateOrder)
		r.Post("/orders/initiate-payment", handler.InitiatePayment)
		r.Post("/orders/verify-payment", handler.VerifyPayment)

		r.Post("/payments/razorpay/webhook", handler.RazorpayWebhook)
		r.Post("/payments/phonepe/callback", handler.PhonePeCallback)
		r.Post("/payments/phonepe/redirect", handler.PhonePeRedirect)

		if handler.admin != nil {
			r.Post("/admin/login", handler.Login)
			r.Group(func(r chi.Router) {
				r.Use(middlewares.RequireAdmin(handler.admin))
				r.Get("/orders", handler.ListOrders)
				r.Get("/orders/{orderId}", handler.GetOrder)
				r.Post("/orders/{orderId}/override", handler.OverrideOrder)
			})
		}
	})

	if handler.admin != nil {
		r.With(middlewares.RequireAdmin(handler.admin)).Get("/orders/events", handler.StreamEvents)
	}

	return otelhttp.NewHandler(r, "api-gateway",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
