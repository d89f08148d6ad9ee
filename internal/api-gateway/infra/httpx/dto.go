package httpx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-payments/internal/order-service/app"
	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"
	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

type CustomerDTO struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type AddressDTO struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

type OrderItemDTO struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateOrderRequest accepts amounts as JSON numbers or strings.
type CreateOrderRequest struct {
	Customer        CustomerDTO     `json:"customer"`
	ShippingAddress AddressDTO      `json:"shippingAddress"`
	Items           []OrderItemDTO  `json:"items"`
	ShippingMethod  string          `json:"shippingMethod"`
	Coupon          string          `json:"coupon,omitempty"`
	PaymentMethod   string          `json:"paymentMethod"`
	Total           decimal.Decimal `json:"total"`
}

func (r CreateOrderRequest) toInput(idempotencyKey string) app.CreateOrderInput {
	items := make([]domain.OrderItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = domain.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return app.CreateOrderInput{
		IdempotencyKey: idempotencyKey,
		Customer:       domain.Customer(r.Customer),
		ShippingAddress: domain.Address{
			Line1:      r.ShippingAddress.Line1,
			Line2:      r.ShippingAddress.Line2,
			City:       r.ShippingAddress.City,
			State:      r.ShippingAddress.State,
			PostalCode: r.ShippingAddress.PostalCode,
			Country:    r.ShippingAddress.Country,
		},
		Items:          items,
		ShippingMethod: r.ShippingMethod,
		CouponCode:     r.Coupon,
		PaymentMethod:  domain.PaymentMethod(r.PaymentMethod),
		Total:          r.Total,
	}
}

type OrderItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type OrderResponse struct {
	OrderID           string              `json:"orderId"`
	PaymentMethod     string              `json:"paymentMethod"`
	PaymentStatus     string              `json:"paymentStatus"`
	Customer          CustomerDTO         `json:"customer"`
	ShippingAddress   AddressDTO          `json:"shippingAddress"`
	Items             []OrderItemResponse `json:"items"`
	ShippingMethod    string              `json:"shippingMethod"`
	ShippingCost      string              `json:"shippingCost"`
	Coupon            string              `json:"coupon,omitempty"`
	Discount          string              `json:"discount"`
	Total             string              `json:"total"`
	Currency          string              `json:"currency"`
	Provider          string              `json:"provider,omitempty"`
	GatewayOrderRef   string              `json:"gatewayOrderRef,omitempty"`
	GatewayPaymentRef string              `json:"gatewayPaymentRef,omitempty"`
	FailureReason     string              `json:"failureReason,omitempty"`
	EmailSent         bool                `json:"emailSent"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

type InitiatePaymentRequest struct {
	OrderID  string `json:"orderId"`
	Provider string `json:"provider,omitempty"`
}

type InitiatePaymentResponse struct {
	OrderID         string `json:"orderId"`
	Provider        string `json:"provider"`
	GatewayOrderRef string `json:"gatewayOrderRef"`
	ActionURL       string `json:"actionUrl,omitempty"`
	KeyID           string `json:"keyId,omitempty"`
	AmountMinor     int64  `json:"amount"`
	Currency        string `json:"currency"`
	Resumed         bool   `json:"resumed"`
}

// VerifyPaymentRequest takes the checkout bundle either under fields or as
// the razorpay_* keys the Razorpay widget hands to the page.
type VerifyPaymentRequest struct {
	OrderID           string            `json:"orderId"`
	TransactionRef    string            `json:"transactionRef,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
	RazorpayOrderID   string            `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string            `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string            `json:"razorpay_signature,omitempty"`
}

func (r VerifyPaymentRequest) toInput() app.VerifyInput {
	fields := make(map[string]string, len(r.Fields)+3)
	for k, v := range r.Fields {
		fields[k] = v
	}
	for k, v := range map[string]string{
		"razorpay_order_id":   r.RazorpayOrderID,
		"razorpay_payment_id": r.RazorpayPaymentID,
		"razorpay_signature":  r.RazorpaySignature,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return app.VerifyInput{OrderID: r.OrderID, TransactionRef: r.TransactionRef, Fields: fields}
}

type VerifyPaymentResponse struct {
	Success bool          `json:"success"`
	Outcome string        `json:"outcome"`
	Order   OrderResponse `json:"order"`
}

type AuditEntryResponse struct {
	Kind      string    `json:"kind"`
	Provider  string    `json:"provider,omitempty"`
	Reference string    `json:"reference,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrderDetailResponse struct {
	Order   OrderResponse        `json:"order"`
	History []AuditEntryResponse `json:"history"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Count  int             `json:"count"`
}

type OverrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func mapOrderToResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		}
	}
	return OrderResponse{
		OrderID:       o.ID,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		Customer:      CustomerDTO(o.Customer),
		ShippingAddress: AddressDTO{
			Line1:      o.ShippingAddress.Line1,
			Line2:      o.ShippingAddress.Line2,
			City:       o.ShippingAddress.City,
			State:      o.ShippingAddress.State,
			PostalCode: o.ShippingAddress.PostalCode,
			Country:    o.ShippingAddress.Country,
		},
		Items:             items,
		ShippingMethod:    o.ShippingMethod,
		ShippingCost:      o.ShippingCost.StringFixed(2),
		Coupon:            o.CouponCode,
		Discount:          o.Discount.StringFixed(2),
		Total:             o.Total.StringFixed(2),
		Currency:          o.Currency,
		Provider:          string(o.Provider),
		GatewayOrderRef:   o.GatewayOrderRef,
		GatewayPaymentRef: o.GatewayPaymentRef,
		FailureReason:     o.FailureReason,
		EmailSent:         o.EmailSent,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func mapInitiateToResponse(r *app.InitiateResult) InitiatePaymentResponse {
	return InitiatePaymentResponse{
		OrderID:         r.OrderID,
		Provider:        string(r.Provider),
		GatewayOrderRef: r.OrderRef,
		ActionURL:       r.ActionURL,
		KeyID:           r.PublicKey,
		AmountMinor:     r.AmountMinor,
		Currency:        r.Currency,
		Resumed:         r.Resumed,
	}
}

func mapHistory(entries []auditlog.Entry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			Kind:      string(e.Kind),
			Provider:  e.Provider,
			Reference: e.Reference,
			Detail:    e.Detail,
			Actor:     e.Actor,
			TraceID:   e.TraceID,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}
