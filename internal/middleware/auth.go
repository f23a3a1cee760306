// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/fullstackragab/wihngo-payments/internal/auth"
)

// authFailedBody is the standard error response for rejected credentials.
// Written inline because the api package depends on this one.
const authFailedBody = `{"error":{"code":"auth_failed","message":"valid access token required"}}`

// Authenticate validates the Bearer access token and stores the caller's DID
// in the request context. Requests without a valid access token are rejected
// with 401.
func Authenticate(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(jwtService, r)
			if !ok || claims.Type != auth.TokenTypeAccess || claims.DID == "" {
				ctx := SetErrorCode(r.Context(), "auth_failed")
				UpdateResponseContext(w, ctx)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(authFailedBody))
				return
			}

			next.ServeHTTP(w, r.WithContext(SetUserDID(r.Context(), claims.DID)))
		})
	}
}

// OptionalAuth stores the caller's DID in the context when a valid access
// token is present and passes the request through anonymously otherwise.
// Used on routes that serve both logged-in and anonymous buyers.
func OptionalAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := bearerClaims(jwtService, r); ok && claims.Type == auth.TokenTypeAccess && claims.DID != "" {
				r = r.WithContext(SetUserDID(r.Context(), claims.DID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerClaims extracts and validates the Bearer token from the request.
func bearerClaims(jwtService *auth.JWTService, r *http.Request) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil, false
	}

	claims, err := jwtService.ValidateToken(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}
