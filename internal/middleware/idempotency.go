// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"io"
	"net/http"

	"github.com/fullstackragab/wihngo-payments/internal/submission"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// IdempotencyKey returns a middleware that extracts and validates the
// Idempotency-Key header. A malformed key is rejected before the handler
// runs; a valid key is stashed in the request context for handlers that
// deduplicate on it. Requests without the header pass through untouched,
// since each route decides whether a key is required.
func IdempotencyKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := submission.ValidateKey(key); err != nil {
				code := "invalid_idempotency_key"
				message := "Invalid Idempotency-Key format"
				if err == submission.ErrKeyTooLong {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds maximum length of 64 characters"
				}

				ctx := SetErrorCode(r.Context(), code)
				UpdateResponseContext(w, ctx)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":{"code":"`+code+`","message":"`+message+`"}}`)
				return
			}

			r = r.WithContext(SetIdempotencyKey(r.Context(), key))
			next.ServeHTTP(w, r)
		})
	}
}
