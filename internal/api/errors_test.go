package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteError_BasicFields(t *testing.T) {
	w := httptest.NewRecorder()
	ctx := context.Background()

	WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "intent not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	contentType := w.Header().Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("expected Content-Type to contain application/json, got %s", contentType)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, resp.Error.Code)
	}
	if resp.Error.Message != "intent not found" {
		t.Errorf("unexpected message %q", resp.Error.Message)
	}
}

func TestWriteError_ResponseShape(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, context.Background(), http.StatusConflict, ErrCodeReplayDetected, "transaction hash already attached to another intent")

	// The body nests code and message under a single "error" key.
	var raw map[string]map[string]string
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	detail, ok := raw["error"]
	if !ok {
		t.Fatal("response must nest details under \"error\"")
	}
	if detail["code"] != ErrCodeReplayDetected {
		t.Errorf("expected code %s, got %s", ErrCodeReplayDetected, detail["code"])
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeNoPayoutWallet, http.StatusBadRequest},
		{ErrCodeAuthFailed, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeReplayDetected, http.StatusConflict},
		{ErrCodeAlreadyTerminal, http.StatusConflict},
		{ErrCodeAlreadyClaimed, http.StatusConflict},
		{ErrCodeNotCancelable, http.StatusConflict},
		{ErrCodeExpiredIntent, http.StatusGone},
		{ErrCodeVerificationFailed, http.StatusUnprocessableEntity},
		{ErrCodeProviderUnavailable, http.StatusServiceUnavailable},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"something_unknown", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := StatusCodeMapping(tc.code); got != tc.want {
			t.Errorf("StatusCodeMapping(%q) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
