package phonepe

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/pkg/signature"
)

type callbackBody struct {
	Response string `json:"response"`
}

// Authenticate verifies a server-to-server callback. Browser redirects are
// not authenticated here; they only trigger a status poll.
func (g *Gateway) Authenticate(env domain.Envelope) (*domain.StatusReport, error) {
	if env.Kind != domain.ReportWebhook {
		return nil, fmt.Errorf("phonepe: %w: unsupported report kind %q", domain.ErrMalformedReport, env.Kind)
	}

	var body callbackBody
	if err := json.Unmarshal(env.Body, &body); err != nil || body.Response == "" {
		return nil, fmt.Errorf("phonepe: callback: %w: missing response field", domain.ErrMalformedReport)
	}

	ok, err := g.signer.VerifyCallback(body.Response, env.Signature)
	if errors.Is(err, signature.ErrMalformed) {
		return nil, fmt.Errorf("phonepe: callback: %w: %v", domain.ErrMalformedReport, err)
	}
	if !ok {
		return nil, fmt.Errorf("phonepe: callback: %w", domain.ErrInvalidSignature)
	}

	decoded, err := base64.StdEncoding.DecodeString(body.Response)
	if err != nil {
		return nil, fmt.Errorf("phonepe: callback: %w: %v", domain.ErrMalformedReport, err)
	}
	var res apiResponse
	if err := json.Unmarshal(decoded, &res); err != nil {
		return nil, fmt.Errorf("phonepe: callback: %w: %v", domain.ErrMalformedReport, err)
	}
	if res.Data.MerchantTransactionID == "" {
		return nil, fmt.Errorf("phonepe: callback: %w: no merchantTransactionId", domain.ErrMalformedReport)
	}
	return toReport(&res, domain.ReportWebhook), nil
}
