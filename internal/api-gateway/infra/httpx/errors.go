package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

type errorKind struct {
	target error
	status int
	code   string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{domain.ErrValidation, http.StatusBadRequest, "validation_error"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domain.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
	{domain.ErrOrderAlreadyProcessed, http.StatusConflict, "order_already_processed"},
	{domain.ErrOrderExpired, http.StatusBadRequest, "order_expired"},
	{domain.ErrPaymentNotInitiated, http.StatusConflict, "payment_not_initiated"},
	{domain.ErrAmountMismatch, http.StatusBadRequest, "amount_mismatch"},
	{domain.ErrReferenceMismatch, http.StatusBadRequest, "reference_mismatch"},
	{domain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{domain.ErrMalformedReport, http.StatusBadRequest, "malformed_report"},
	{domain.ErrUnknownProvider, http.StatusBadRequest, "unknown_provider"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
	{domain.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError maps err onto the error taxonomy. 5xx details stay in
// the log; the client only sees the code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	resp := ErrorResponse{Error: code, Message: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
		resp.Message = verr.Reason
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
		resp.Message = http.StatusText(status)
	} else {
		slog.InfoContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "code", code, "error", err)
	}
	writeJSON(w, status, resp)
}
