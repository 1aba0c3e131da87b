package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"dockwatch.sh/internal/metrics"
	"dockwatch.sh/internal/observability"
)

// slow requests are logged at warn level; CPU sampling alone takes 500ms
const slowRequestThreshold = 2 * time.Second

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := NewResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.StatusCode()),
				zap.Int("bytes", wrapped.BytesWritten()),
				zap.Duration("duration", duration),
				zap.String("remote_addr", r.RemoteAddr),
			}

			reqLogger := observability.ContextLogger(r.Context(), logger)
			if duration > slowRequestThreshold && !isStream(r) {
				reqLogger.Warn("Slow HTTP request", fields...)
				return
			}
			reqLogger.Info("HTTP request", fields...)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := NewResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				observability.ContextLogger(r.Context(), logger).Error("HTTP handler panic",
					zap.Any("recovered", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				metrics.RecordError("api", "panic", r.URL.Path)

				if !wrapped.HeaderWritten() {
					wrapped.Header().Set("Content-Type", "application/json")
					wrapped.WriteHeader(http.StatusInternalServerError)
					fmt.Fprint(wrapped, `{"detail":"internal server error"}`)
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

func isStream(r *http.Request) bool {
	return r.Header.Get("Accept") == "text/event-stream" || strings.HasPrefix(r.URL.Path, "/sse/")
}
