// Package phonepe talks to the PhonePe PG v1 REST API: pay page creation,
// transaction status and server-to-server callbacks, all authenticated with
// the salted X-VERIFY checksum.
package phonepe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
	"github.com/jcmexdev/storefront-payments/internal/pkg/retry"
	"github.com/jcmexdev/storefront-payments/internal/pkg/signature"
)

const (
	payPath        = "/pg/v1/pay"
	statusPrefix   = "/pg/v1/status/"
	HeaderVerify   = "X-VERIFY"
	headerMerchant = "X-MERCHANT-ID"
)

type Config struct {
	BaseURL     string
	MerchantID  string
	SaltKey     string
	SaltIndex   int
	RedirectURL string
	CallbackURL string
	Timeout     time.Duration
	Retry       retry.Policy
	// HTTPClient overrides the default otelhttp-instrumented client.
	HTTPClient *http.Client
}

var (
	_ ports.Gateway       = (*Gateway)(nil)
	_ ports.Authenticator = (*Gateway)(nil)
)

type Gateway struct {
	cfg    Config
	http   *http.Client
	signer *signature.PhonePe
}

func New(cfg Config) *Gateway {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg:    cfg,
		http:   client,
		signer: signature.NewPhonePe(cfg.SaltKey, cfg.SaltIndex),
	}
}

func (g *Gateway) Provider() domain.Provider { return domain.ProviderPhonePe }

type payRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

// apiResponse is shared by pay, status and the decoded callback.
type apiResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
		InstrumentResponse    struct {
			Type         string `json:"type"`
			RedirectInfo struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// CreatePayment opens a pay page. merchantTransactionId is the storefront
// order ID, which PhonePe rejects if reused, so the call is never retried.
func (g *Gateway) CreatePayment(ctx context.Context, req ports.PaymentRequest) (*ports.PaymentSession, error) {
	redirect := req.RedirectURL
	if redirect == "" {
		redirect = g.cfg.RedirectURL
	}

	payload, err := json.Marshal(payRequest{
		MerchantID:            g.cfg.MerchantID,
		MerchantTransactionID: req.OrderID,
		MerchantUserID:        merchantUserID(req.Customer),
		Amount:                req.AmountMinor,
		RedirectURL:           redirect,
		RedirectMode:          "POST",
		CallbackURL:           g.cfg.CallbackURL,
		MobileNumber:          req.Customer.Phone,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	})
	if err != nil {
		return nil, fmt.Errorf("phonepe: encode pay request: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(payload)
	body, _ := json.Marshal(map[string]string{"request": b64})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+payPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("phonepe: build pay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderVerify, g.signer.PayChecksum(b64, payPath))

	res, err := g.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("phonepe: pay %s: %w", req.OrderID, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("phonepe: pay %s: %w: %s", req.OrderID, domain.ErrGatewayRejected, res.Code)
	}

	url := res.Data.InstrumentResponse.RedirectInfo.URL
	if url == "" {
		return nil, fmt.Errorf("phonepe: pay %s: %w: no redirect url", req.OrderID, domain.ErrGatewayRejected)
	}
	return &ports.PaymentSession{
		Provider:    domain.ProviderPhonePe,
		OrderRef:    req.OrderID,
		ActionURL:   url,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	}, nil
}

// CheckStatus polls the transaction status, retrying network errors, 5xx
// and 429 responses.
func (g *Gateway) CheckStatus(ctx context.Context, orderRef string) (*domain.StatusReport, error) {
	path := statusPrefix + g.cfg.MerchantID + "/" + orderRef

	var res *apiResponse
	err := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(HeaderVerify, g.signer.StatusChecksum(path))
		httpReq.Header.Set(headerMerchant, g.cfg.MerchantID)

		res, err = g.do(httpReq)
		if errors.Is(err, domain.ErrGatewayRejected) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("phonepe: status %s: %w", orderRef, err)
	}

	report := toReport(res, domain.ReportPoll)
	if report.OrderRef == "" {
		report.OrderRef = orderRef
	}
	return report, nil
}

// do sends req and decodes the JSON envelope. Transport failures, 5xx and
// 429 are ErrGatewayUnavailable; other non-2xx answers are ErrGatewayRejected.
func (g *Gateway) do(req *http.Request) (*apiResponse, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: http %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var res apiResponse
		_ = json.Unmarshal(raw, &res)
		return nil, fmt.Errorf("%w: http %d %s", domain.ErrGatewayRejected, resp.StatusCode, res.Code)
	}

	var res apiResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", domain.ErrGatewayUnavailable, err)
	}
	return &res, nil
}

func toReport(res *apiResponse, kind domain.ReportKind) *domain.StatusReport {
	report := &domain.StatusReport{
		Provider:   domain.ProviderPhonePe,
		Kind:       kind,
		OrderRef:   res.Data.MerchantTransactionID,
		PaymentRef: res.Data.TransactionID,
		Outcome:    outcome(res.Code),
		Code:       res.Code,
	}
	if res.Data.Amount > 0 {
		report.AmountMinor = res.Data.Amount
		report.AmountKnown = true
	}
	return report
}

func outcome(code string) domain.Outcome {
	switch code {
	case "PAYMENT_SUCCESS":
		return domain.OutcomeSucceeded
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT", "AUTHORIZATION_FAILED":
		return domain.OutcomeFailed
	default:
		return domain.OutcomePending
	}
}

// merchantUserID is a stable, opaque id for the paying customer.
func merchantUserID(c domain.Customer) string {
	key := c.Email
	if key == "" {
		key = c.Phone
	}
	sum := sha256.Sum256([]byte(strings.ToLower(key)))
	return "MUID" + hex.EncodeToString(sum[:8])
}
