// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

type userDIDKey struct{}
type errorCodeKey struct{}

// SetUserDID stores the authenticated user's DID in the context. Called by
// the auth middleware after token validation.
func SetUserDID(ctx context.Context, did string) context.Context {
	return context.WithValue(ctx, userDIDKey{}, did)
}

// GetUserDID returns the DID from context, or "" for anonymous requests.
func GetUserDID(ctx context.Context) string {
	if did, ok := ctx.Value(userDIDKey{}).(string); ok {
		return did
	}
	return ""
}

// SetErrorCode stores a machine-readable error code for the access log.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode returns the error code from context, or "".
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	return ""
}

// responseWriter captures status and body size for the access log.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
	ctx         context.Context
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// UpdateContext stores the handler's context so values set after the
// request context was forked (the error code) reach the access log.
func (rw *responseWriter) UpdateContext(ctx context.Context) {
	rw.ctx = ctx
}

type contextUpdater interface {
	UpdateContext(ctx context.Context)
}

// UpdateResponseContext hands the handler's context back to the wrapping
// response writer when there is one. api.WriteError calls this on every
// error response.
func UpdateResponseContext(w http.ResponseWriter, ctx context.Context) {
	if u, ok := w.(contextUpdater); ok {
		u.UpdateContext(ctx)
	}
}

// WriteHeader records only the first status, matching net/http where later
// calls are no-ops.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// NewLogger returns a JSON slog logger in production and a text logger at
// debug level everywhere else.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

// Logging writes one structured access-log line per request: method, path,
// status, latency, size, plus request ID, user DID, and error code when
// present. 4xx logs at warn, 5xx at error.
//
// A panicking handler skips the log line; a recovery middleware belongs
// outside this one.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", rw.size),
			}
			if requestID := GetRequestID(r.Context()); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}
			if userDID := GetUserDID(r.Context()); userDID != "" {
				attrs = append(attrs, slog.String("user_did", userDID))
			}
			if rw.statusCode >= 400 {
				errCtx := r.Context()
				if rw.ctx != nil {
					errCtx = rw.ctx
				}
				if code := GetErrorCode(errCtx); code != "" {
					attrs = append(attrs, slog.String("error_code", code))
				}
			}

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = slog.LevelError
			case rw.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}
