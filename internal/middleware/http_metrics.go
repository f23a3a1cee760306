// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath collapses dynamic URL segments into route patterns so
// metric label cardinality stays bounded: /payments/intents/pi_123 becomes
// /payments/intents/{id}.
func normalizePath(path string) string {
	staticRoutes := map[string]bool{
		"/":                        true,
		"/payments/intents":        true,
		"/payments/intents/manual": true,
		"/payments/confirm":        true,
		"/payments/submit":         true,
		"/payments/claim":          true,
		"/payments/checkout":       true,
		"/payments/webhook/stripe": true,
		"/subscriptions/approvals": true,
		"/health":                  true,
		"/ready":                   true,
		"/metrics":                 true,
	}
	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/payments/intents/") {
		parts := strings.Split(path, "/")
		if len(parts) == 5 && parts[4] == "cancel" {
			return "/payments/intents/{id}/cancel"
		}
		if len(parts) == 4 && parts[3] != "" {
			return "/payments/intents/{id}"
		}
	}
	if strings.HasPrefix(path, "/subscriptions/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] == "approve" {
			return "/subscriptions/{id}/approve"
		}
		if len(parts) == 3 && parts[2] != "" {
			return "/subscriptions/{id}"
		}
	}

	// Unknown routes pass through unnormalized rather than disappearing
	// from the metrics.
	return path
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics records per-request duration, sizes, and counts. The
// /health and /ready probes are excluded so probe traffic does not drown
// the real signal.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if cl := r.Header.Get("Content-Length"); cl != "" {
				if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
