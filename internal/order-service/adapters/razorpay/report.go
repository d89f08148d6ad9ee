package razorpay

import (
	"encoding/json"
	"fmt"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

// Checkout widget fields posted back by the browser.
const (
	FieldOrderID   = "razorpay_order_id"
	FieldPaymentID = "razorpay_payment_id"
	FieldSignature = "razorpay_signature"
)

// HeaderSignature carries the webhook HMAC.
const HeaderSignature = "X-Razorpay-Signature"

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	OrderID   string `json:"order_id"`
	ErrorCode string `json:"error_code"`
}

type orderEntity struct {
	ID         string `json:"id"`
	AmountPaid int64  `json:"amount_paid"`
	Receipt    string `json:"receipt"`
}

// Authenticate proves a Razorpay report genuine and decodes it. Client
// bundles carry no amount; the caller has to confirm it with CheckStatus.
func (g *Gateway) Authenticate(env domain.Envelope) (*domain.StatusReport, error) {
	switch env.Kind {
	case domain.ReportClient:
		return g.authenticateCheckout(env.Fields)
	case domain.ReportWebhook:
		return g.authenticateWebhook(env.Body, env.Signature)
	default:
		return nil, fmt.Errorf("razorpay: %w: unsupported report kind %q", domain.ErrMalformedReport, env.Kind)
	}
}

func (g *Gateway) authenticateCheckout(fields map[string]string) (*domain.StatusReport, error) {
	orderRef, paymentRef, sig := fields[FieldOrderID], fields[FieldPaymentID], fields[FieldSignature]
	if orderRef == "" || paymentRef == "" || sig == "" {
		return nil, fmt.Errorf("razorpay: %w: checkout bundle needs %s, %s and %s",
			domain.ErrMalformedReport, FieldOrderID, FieldPaymentID, FieldSignature)
	}
	if !g.signer.VerifyCheckout(orderRef, paymentRef, sig) {
		return nil, fmt.Errorf("razorpay: checkout for %s: %w", orderRef, domain.ErrInvalidSignature)
	}
	return &domain.StatusReport{
		Provider:   domain.ProviderRazorpay,
		Kind:       domain.ReportClient,
		OrderRef:   orderRef,
		PaymentRef: paymentRef,
		Outcome:    domain.OutcomeSucceeded,
		Code:       "checkout_signature",
	}, nil
}

func (g *Gateway) authenticateWebhook(body []byte, sig string) (*domain.StatusReport, error) {
	if !g.signer.VerifyWebhook(body, sig) {
		return nil, fmt.Errorf("razorpay: webhook: %w", domain.ErrInvalidSignature)
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("razorpay: webhook: %w: %v", domain.ErrMalformedReport, err)
	}

	report := &domain.StatusReport{
		Provider: domain.ProviderRazorpay,
		Kind:     domain.ReportWebhook,
		Code:     ev.Event,
	}
	if p := ev.Payload.Payment; p != nil {
		report.OrderRef = p.Entity.OrderID
		report.PaymentRef = p.Entity.ID
		report.AmountMinor = p.Entity.Amount
		report.AmountKnown = true
	}
	if o := ev.Payload.Order; o != nil && report.OrderRef == "" {
		report.OrderRef = o.Entity.ID
		report.AmountMinor = o.Entity.AmountPaid
		report.AmountKnown = true
	}
	if report.OrderRef == "" {
		return nil, fmt.Errorf("razorpay: webhook %q: %w: no order reference", ev.Event, domain.ErrMalformedReport)
	}

	// payment.failed reports one attempt. The customer can retry against the
	// same Razorpay order, so it never settles the order; expiry or a poll
	// does.
	switch ev.Event {
	case "payment.captured", "order.paid":
		report.Outcome = domain.OutcomeSucceeded
	case "payment.failed":
		report.Outcome = domain.OutcomePending
		if p := ev.Payload.Payment; p != nil && p.Entity.ErrorCode != "" {
			report.Code = p.Entity.ErrorCode
		}
	default:
		report.Outcome = domain.OutcomePending
	}
	return report, nil
}
