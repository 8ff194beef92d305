package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/codehub/internal/auth"
)

// ContextKey is the type for context keys used in this package
type ContextKey string

const (
	// CorrelationIDKey is the context key for the correlation ID
	CorrelationIDKey ContextKey = "correlation_id"
	// CorrelationIDHeader is the HTTP header name for correlation ID
	CorrelationIDHeader = "X-Request-ID"
	// RequestTimeoutHeader overrides the per-request generation deadline
	RequestTimeoutHeader = "X-Request-Timeout"
	// MaxRequestTimeout caps RequestTimeoutHeader
	MaxRequestTimeout = 5 * time.Minute
)

// GetCorrelationID extracts the correlation ID from a context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// correlationIDMiddleware adds or propagates a correlation ID for request tracing
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		w.Header().Set(CorrelationIDHeader, correlationID)

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tracingMiddleware starts a server span per request and tags it with the
// correlation ID.
func tracingMiddleware(next http.Handler) http.Handler {
	tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetCorrelationID(r.Context()); id != "" {
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("codehub.correlation_id", id))
		}
		next.ServeHTTP(w, r)
	})

	return otelhttp.NewHandler(tagged, "codehubd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// requiresAuth reports whether path is behind bearer auth
func requiresAuth(path string) bool {
	if path == "/v1/health" {
		return false
	}
	return strings.HasPrefix(path, "/generate-") || strings.HasPrefix(path, "/v1/")
}

// authMiddleware rejects requests without a valid bearer token. A nil
// verifier disables the check.
func authMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requiresAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(auth.BearerToken(r))
			if err == nil {
				next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
				return
			}

			detail := "invalid bearer token"
			if errors.Is(err, auth.ErrMissingToken) {
				detail = "missing bearer token"
			}
			slog.Warn("request rejected",
				"correlation_id", GetCorrelationID(r.Context()),
				"path", r.URL.Path,
				"error", err,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="codehub"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized", []string{detail})
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with timing and status
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		correlationID := GetCorrelationID(r.Context())

		if wrapped.statusCode >= 500 {
			slog.Error("request",
				"correlation_id", correlationID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
			)
		} else if wrapped.statusCode >= 400 {
			slog.Warn("request",
				"correlation_id", correlationID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
			)
		} else {
			slog.Debug("request",
				"correlation_id", correlationID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
			)
		}
	})
}

// recoveryMiddleware catches panics and logs them
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				correlationID := GetCorrelationID(r.Context())
				slog.Error("panic recovered",
					"correlation_id", correlationID,
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// middlewareChain wraps routes as correlation ID → recovery → logging →
// tracing → auth. The correlation ID sits outermost so the request and
// panic logs can read it.
func middlewareChain(verifier *auth.Verifier, routes http.Handler) http.Handler {
	return correlationIDMiddleware(
		recoveryMiddleware(
			loggingMiddleware(
				tracingMiddleware(
					authMiddleware(verifier)(routes)))))
}

// requestTimeout returns the generation deadline for r: the
// RequestTimeoutHeader value capped at MaxRequestTimeout, or def.
func requestTimeout(r *http.Request, def time.Duration) (time.Duration, error) {
	v := r.Header.Get(RequestTimeoutHeader)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errors.New(RequestTimeoutHeader + " must be a positive duration such as 90s")
	}
	if d > MaxRequestTimeout {
		d = MaxRequestTimeout
	}
	return d, nil
}
