package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dockwatch.sh/internal/metrics"
)

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := NewResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			metrics.RecordHTTPRequest(
				serviceName,
				r.Method,
				endpointLabel(r),
				strconv.Itoa(wrapped.StatusCode()),
				time.Since(start).Seconds(),
				float64(wrapped.BytesWritten()),
			)
		})
	}
}

// endpointLabel prefers the matched route template so that container ids do
// not explode label cardinality
func endpointLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return cleanPath(r.URL.Path)
}

// cleanPath removes IDs and dynamic segments from paths for metric labels
func cleanPath(path string) string {
	parts := strings.Split(path, "/")
	cleaned := make([]string, len(parts))

	for i, part := range parts {
		// the segment after /container/, /collect/ or /sse/container/ is a ref
		if i > 0 && (parts[i-1] == "container" || parts[i-1] == "collect") {
			cleaned[i] = "{id}"
			continue
		}
		if _, err := strconv.Atoi(part); err == nil && part != "" {
			cleaned[i] = "{id}"
			continue
		}
		cleaned[i] = part
	}

	return strings.Join(cleaned, "/")
}
