package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fullstackragab/wihngo-payments/internal/submission"
)

func TestIdempotencyKey_MissingHeaderPassesThrough(t *testing.T) {
	var sawKey string
	handler := IdempotencyKey()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey = GetIdempotencyKey(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments/submit", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if sawKey != "" {
		t.Errorf("expected no key in context, got %q", sawKey)
	}
}

func TestIdempotencyKey_ValidKeyStashedInContext(t *testing.T) {
	var sawKey string
	handler := IdempotencyKey()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey = GetIdempotencyKey(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments/submit", nil)
	req.Header.Set(IdempotencyKeyHeader, "submit-abc-123")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if sawKey != "submit-abc-123" {
		t.Errorf("expected key 'submit-abc-123' in context, got %q", sawKey)
	}
}

func TestIdempotencyKey_KeyTooLong(t *testing.T) {
	handlerCalled := false
	handler := IdempotencyKey()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments/submit", nil)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("a", submission.MaxKeyLength+1))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if handlerCalled {
		t.Error("handler should not be called for an invalid key")
	}
	if !strings.Contains(w.Body.String(), "idempotency_key_too_long") {
		t.Errorf("expected error code 'idempotency_key_too_long', got %s", w.Body.String())
	}
}

func TestGetIdempotencyKey_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetIdempotencyKey(req.Context()); got != "" {
		t.Errorf("expected empty key from bare context, got %q", got)
	}
}
