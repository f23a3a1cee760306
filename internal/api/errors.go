// Package api provides HTTP API utilities including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fullstackragab/wihngo-payments/internal/middleware"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure. Never retried.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeForbidden indicates an ownership mismatch.
	ErrCodeForbidden = "forbidden"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeVerificationFailed indicates on-chain data contradicts the
	// intent. Permanently terminal for that transaction hash.
	ErrCodeVerificationFailed = "verification_failed"

	// ErrCodeProviderUnavailable indicates the chain verifier call itself
	// failed. Safe to retry on the next poll.
	ErrCodeProviderUnavailable = "provider_unavailable"

	// ErrCodeReplayDetected indicates a transaction hash already claimed by
	// a different intent. Logged as a potential abuse signal.
	ErrCodeReplayDetected = "replay_detected"

	// ErrCodeExpiredIntent indicates the intent's time-to-live elapsed.
	ErrCodeExpiredIntent = "expired_intent"

	// ErrCodeAlreadyTerminal indicates the intent already settled in a
	// different terminal state than the request implies.
	ErrCodeAlreadyTerminal = "already_terminal"

	// ErrCodeAlreadyClaimed indicates the payment already has an owner.
	ErrCodeAlreadyClaimed = "already_claimed"

	// ErrCodeNotCancelable indicates cancellation raced against a
	// confirmation signal and lost.
	ErrCodeNotCancelable = "not_cancelable"

	// ErrCodeNoPayoutWallet indicates the recipient bird has no payout
	// destination configured.
	ErrCodeNoPayoutWallet = "no_payout_wallet"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error code is logged by the logging middleware for 4xx and 5xx
// responses when the handler calls middleware.SetErrorCode and passes the
// updated context here:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "intent not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status code for each error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeNoPayoutWallet:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeReplayDetected, ErrCodeAlreadyTerminal, ErrCodeAlreadyClaimed, ErrCodeNotCancelable:
		return http.StatusConflict
	case ErrCodeExpiredIntent:
		return http.StatusGone
	case ErrCodeVerificationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
