// Package signature implements the message-authentication schemes used by
// the supported payment gateways. Every comparison is constant-time.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrMalformed is returned when a signature header cannot be parsed at all,
// as opposed to parsing fine and not matching.
var ErrMalformed = errors.New("signature: malformed")

// Razorpay signs checkout responses with the API key secret and webhooks
// with a separately configured webhook secret.
type Razorpay struct {
	keySecret     []byte
	webhookSecret []byte
}

func NewRazorpay(keySecret, webhookSecret string) *Razorpay {
	return &Razorpay{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// CheckoutSignature is hex(HMAC-SHA256(key_secret, order_id + "|" + payment_id)).
func (r *Razorpay) CheckoutSignature(orderRef, paymentRef string) string {
	return hexHMAC(r.keySecret, []byte(orderRef+"|"+paymentRef))
}

// VerifyCheckout reports whether sig authenticates the (orderRef, paymentRef)
// pair returned to the browser by the checkout widget.
func (r *Razorpay) VerifyCheckout(orderRef, paymentRef, sig string) bool {
	if orderRef == "" || paymentRef == "" || sig == "" {
		return false
	}
	return equalHex(r.CheckoutSignature(orderRef, paymentRef), sig)
}

// WebhookSignature is hex(HMAC-SHA256(webhook_secret, raw body)).
func (r *Razorpay) WebhookSignature(body []byte) string {
	return hexHMAC(r.webhookSecret, body)
}

// VerifyWebhook checks the X-Razorpay-Signature header against the raw body.
// An unset webhook secret never verifies.
func (r *Razorpay) VerifyWebhook(body []byte, sig string) bool {
	if len(r.webhookSecret) == 0 || sig == "" {
		return false
	}
	return equalHex(r.WebhookSignature(body), sig)
}

func hexHMAC(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(want, got string) bool {
	return hmac.Equal([]byte(want), []byte(got))
}
