package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

// MetricsMiddleware records request count and latency for endpoint, plus
// the error breakdown for any 4xx or 5xx answer.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := metrics.Since(start)
		code := strconv.Itoa(rec.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, elapsed)

		if class, severity, failed := classifyStatus(rec.statusCode); failed {
			metrics.RecordErrorByEndpoint(endpoint, r.Method, class)
			metrics.RecordErrorByType(class, severity)
			metrics.RecordErrorLatency("http", class, elapsed)
		}
	}
}

// classifyStatus maps an error status to a metric class and severity.
func classifyStatus(code int) (class, severity string, failed bool) {
	switch {
	case code >= http.StatusInternalServerError:
		return "server_error", "high", true
	case code == http.StatusUnauthorized:
		return "unauthorized", "medium", true
	case code == http.StatusNotFound:
		return "not_found", "medium", true
	case code == http.StatusConflict:
		return "conflict", "medium", true
	case code >= http.StatusBadRequest:
		return "client_error", "medium", true
	}
	return "", "", false
}

// Authenticate resolves the caller from the Authorization header, or the
// access_token query parameter for clients that cannot set headers
// (EventSource). Requests without credentials continue anonymously; invalid
// credentials are rejected with 401.
func Authenticate(provider identity.Provider, l logger.Logger) func(http.Handler) http.Handler {
	l = logger.OrGlobal(l, "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := r.Header.Get("Authorization")
			if bearer == "" {
				bearer = r.URL.Query().Get("access_token")
			}
			if bearer == "" || provider == nil {
				next.ServeHTTP(w, r)
				return
			}
			id, err := provider.Identify(r.Context(), bearer)
			if err != nil {
				l.Warn(r.Context(), "rejected credentials", logger.String("path", r.URL.Path), logger.Error(err))
				if errors.Is(err, model.ErrNotAuthenticated) {
					writeError(w, Wrap("api.authenticate", err))
				} else {
					writeError(w, WrapKind("api.authenticate", model.ErrNotAuthenticated, err))
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

// Flush lets streaming handlers push through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
