package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront-payments/internal/api-gateway/core/ports"
	"github.com/jcmexdev/storefront-payments/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/phonepe"
	"github.com/jcmexdev/storefront-payments/internal/order-service/adapters/razorpay"
	"github.com/jcmexdev/storefront-payments/internal/order-service/app"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	orderports "github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/auth"
	"github.com/jcmexdev/storefront-payments/internal/pkg/cache"
	"github.com/jcmexdev/storefront-payments/internal/pkg/events"
)

const (
	maxBodyBytes = 1 << 20

	defaultListLimit = 100
	maxListLimit     = 500

	// HeaderIdempotentReplay is set on POST /orders responses served from
	// the replay cache.
	HeaderIdempotentReplay = "X-Idempotent-Replay"
)

// Handler serves the storefront, gateway and admin HTTP endpoints on top of
// the order service.
type Handler struct {
	orders    ports.OrderService
	admin     ports.AdminAuth
	replay    cache.Cache
	replayTTL time.Duration
	resultURL string
	hub       *events.Hub
}

type HandlerOption func(*Handler)

// WithReplayCache caches successful POST /orders responses per idempotency
// key for ttl.
func WithReplayCache(c cache.Cache, ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.replay = c
		h.replayTTL = ttl
	}
}

// WithResultURL sets the storefront page browser redirects land on.
func WithResultURL(u string) HandlerOption {
	return func(h *Handler) { h.resultURL = u }
}

// NewHandler builds the handler. admin may be nil, in which case the router
// does not mount the admin endpoints.
func NewHandler(orders ports.OrderService, admin ports.AdminAuth, opts ...HandlerOption) *Handler {
	h := &Handler{
		orders:    orders,
		admin:     admin,
		replayTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateOrder prices and stores an order. A repeated Idempotency-Key returns
// the original order with 200 instead of 201.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempKey := middlewares.IdempotencyKey(ctx)

	if body, ok := h.replayed(r, idempKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderIdempotentReplay, "true")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slog.InfoContext(ctx, "creating order",
		"request_id", middlewares.RequestID(ctx),
		"payment_method", req.PaymentMethod,
		"idempotent", idempKey != "",
	)

	order, created, err := h.orders.Create(ctx, req.toInput(idempKey))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := mapOrderToResponse(order)
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	h.remember(r, idempKey, resp)
	writeJSON(w, status, resp)
}

func (h *Handler) replayed(r *http.Request, idempKey string) ([]byte, bool) {
	if h.replay == nil || idempKey == "" {
		return nil, false
	}
	cached, err := h.replay.Get(r.Context(), h.replay.GenerateKey("create-order", idempKey))
	if err != nil {
		slog.WarnContext(r.Context(), "replay cache read failed", "error", err)
		return nil, false
	}
	if cached == "" {
		return nil, false
	}
	return []byte(cached), true
}

func (h *Handler) remember(r *http.Request, idempKey string, resp OrderResponse) {
	if h.replay == nil || idempKey == "" {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := h.replay.Set(r.Context(), h.replay.GenerateKey("create-order", idempKey), body, h.replayTTL); err != nil {
		slog.WarnContext(r.Context(), "replay cache write failed", "error", err)
	}
}

// InitiatePayment opens (or resumes) the provider transaction for an order.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeServiceError(w, r, domain.NewValidationError("orderId", "is required"))
		return
	}

	res, err := h.orders.Initiate(r.Context(), req.OrderID, domain.Provider(req.Provider))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapInitiateToResponse(res))
}

// VerifyPayment confirms a payment from the checkout's signature bundle, or
// by polling the provider when no bundle is supplied.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeServiceError(w, r, domain.NewValidationError("orderId", "is required"))
		return
	}

	c, err := h.orders.Verify(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyPaymentResponse{
		Success: c.Order.PaymentStatus == domain.StatusPaid,
		Outcome: string(c.Outcome),
		Order:   mapOrderToResponse(c.Order),
	})
}

// RazorpayWebhook receives Razorpay's signed server-to-server events.
func (h *Handler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, domain.ProviderRazorpay, razorpay.HeaderSignature)
}

// PhonePeCallback receives PhonePe's signed server-to-server callback.
func (h *Handler) PhonePeCallback(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, domain.ProviderPhonePe, phonepe.HeaderVerify)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, provider domain.Provider, sigHeader string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	c, err := h.orders.Confirm(r.Context(), domain.Envelope{
		Provider:  provider,
		Kind:      domain.ReportWebhook,
		Body:      body,
		Signature: r.Header.Get(sigHeader),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": c.Order.ID,
		"status":  c.Order.PaymentStatus,
		"applied": c.Applied,
	})
}

// PhonePeRedirect handles the browser returning from PhonePe's hosted page.
// The posted form is not trusted: it only names the order to poll.
func (h *Handler) PhonePeRedirect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	orderID := r.PostFormValue("transactionId")
	if orderID == "" {
		orderID = r.FormValue("orderId")
	}
	if orderID == "" {
		writeServiceError(w, r, domain.NewValidationError("transactionId", "is required"))
		return
	}

	status := "ERROR"
	c, err := h.orders.Verify(r.Context(), app.VerifyInput{OrderID: orderID})
	if err != nil {
		slog.WarnContext(r.Context(), "redirect verification failed", "order_id", orderID, "error", err)
	} else {
		status = string(c.Order.PaymentStatus)
	}

	if h.resultURL == "" {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, VerifyPaymentResponse{
			Success: c.Order.PaymentStatus == domain.StatusPaid,
			Outcome: string(c.Outcome),
			Order:   mapOrderToResponse(c.Order),
		})
		return
	}

	target, perr := url.Parse(h.resultURL)
	if perr != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "bad result url")
		return
	}
	q := target.Query()
	q.Set("orderId", orderID)
	q.Set("status", status)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// Login exchanges admin credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, expires, err := h.admin.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			slog.WarnContext(r.Context(), "admin login rejected", "username", req.Username)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "admin logged in", "username", req.Username)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires})
}

// ListOrders returns orders newest first, optionally narrowed by date
// (YYYY-MM-DD, UTC), orderId, status and limit.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r.URL.Query())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	orders, err := h.orders.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]OrderResponse, len(orders))
	for i := range orders {
		out[i] = mapOrderToResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, OrderListResponse{Orders: out, Count: len(out)})
}

func parseListFilter(q url.Values) (orderports.ListFilter, error) {
	f := orderports.ListFilter{
		OrderID: q.Get("orderId"),
		Limit:   defaultListLimit,
	}
	if d := q.Get("date"); d != "" {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return f, domain.NewValidationError("date", "must be YYYY-MM-DD")
		}
		f.Date = t
	}
	if s := q.Get("status"); s != "" {
		f.Status = domain.PaymentStatus(s)
		if !f.Status.Valid() {
			return f, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxListLimit {
			return f, domain.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", maxListLimit))
		}
		f.Limit = n
	}
	return f, nil
}

// GetOrder returns one order with its payment event history.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	history, err := h.orders.History(r.Context(), orderID)
	if err != nil {
		slog.WarnContext(r.Context(), "history unavailable", "order_id", orderID, "error", err)
	}
	writeJSON(w, http.StatusOK, OrderDetailResponse{
		Order:   mapOrderToResponse(order),
		History: mapHistory(history),
	})
}

// OverrideOrder lets an admin settle a Pending order by hand.
func (h *Handler) OverrideOrder(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orders.Override(r.Context(),
		chi.URLParam(r, "orderId"),
		domain.PaymentStatus(req.Status),
		middlewares.Actor(r.Context()),
		req.Reason,
	)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
