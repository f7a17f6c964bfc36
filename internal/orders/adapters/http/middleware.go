package http

import (
	"net/http"
	"strings"
	"time"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func WithMetrics(next http.Handler, metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		metrics.RecordRequest(r.Context(), r.Method, normalizeRoute(r.URL.Path), rw.statusCode, duration)
	})
}

// normalizeRoute collapses order IDs so the path label stays bounded.
func normalizeRoute(path string) string {
	trimmed := strings.TrimPrefix(path, "/v1/orders/")
	if trimmed == path || trimmed == "" {
		return path
	}
	if strings.HasSuffix(strings.TrimSuffix(trimmed, "/"), "cancel") {
		return "/v1/orders/{id}/cancel"
	}
	return "/v1/orders/{id}"
}
