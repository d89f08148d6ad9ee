package middlewares_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/jcmexdev/storefront-payments/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/storefront-payments/internal/pkg/auth"
)

type staticValidator struct{ token string }

func (v staticValidator) Validate(raw string) (*auth.Claims, error) {
	if raw != v.token {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "admin"}}, nil
}

func TestRequireAdmin(t *testing.T) {
	var actor string
	h := middlewares.RequireAdmin(staticValidator{token: "good"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = middlewares.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor = ""
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "admin", actor)
			} else {
				assert.Empty(t, actor)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAttachRequestMetadata(t *testing.T) {
	var requestID, key string
	h := middleware.RequestID(middlewares.AttachRequestMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = middlewares.RequestID(r.Context())
		key = middlewares.IdempotencyKey(r.Context())
	})))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set(middlewares.HeaderIdempotencyKey, "cart-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "cart-42", key)
	assert.Equal(t, "req-1", rec.Header().Get(middlewares.HeaderXRequestID))

	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("x-idempotency-key", "legacy")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "legacy", key)
	assert.NotEmpty(t, requestID)
}
