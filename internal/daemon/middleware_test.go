package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/codehub/internal/auth"
)

func TestGetCorrelationID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"set", context.WithValue(context.Background(), CorrelationIDKey, "req-123"), "req-123"},
		{"empty context", context.Background(), ""},
		{"wrong type", context.WithValue(context.Background(), CorrelationIDKey, 12345), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCorrelationID(tt.ctx); got != tt.want {
				t.Errorf("GetCorrelationID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var capturedID string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if _, err := uuid.Parse(capturedID); err != nil {
		t.Errorf("generated ID %q is not a valid UUID: %v", capturedID, err)
	}
	if got := rec.Header().Get(CorrelationIDHeader); got != capturedID {
		t.Errorf("response header ID %q != captured ID %q", got, capturedID)
	}
}

func TestCorrelationIDMiddleware_PropagatesExistingID(t *testing.T) {
	var capturedID string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(CorrelationIDHeader, "upstream-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedID != "upstream-id" {
		t.Errorf("captured ID = %q, want upstream-id", capturedID)
	}
	if got := rec.Header().Get(CorrelationIDHeader); got != "upstream-id" {
		t.Errorf("response header ID = %q, want upstream-id", got)
	}
}

func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		writeHeader bool
	}{
		{"ok", http.StatusOK, true},
		{"accepted", http.StatusAccepted, true},
		{"bad request", http.StatusBadRequest, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"implicit ok", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.writeHeader {
					w.WriteHeader(tt.statusCode)
				}
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate-exercise", nil))

			if rec.Code != tt.statusCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.statusCode)
			}
		})
	}
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusTooManyRequests)

	if rw.statusCode != http.StatusTooManyRequests {
		t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusTooManyRequests)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("underlying recorder code = %d", rec.Code)
	}
}

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	for _, value := range []any{"boom", nil} {
		handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(value)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("panic(%v): status = %d, want 500", value, rec.Code)
		}
		var body errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Error == "" {
			t.Error("error body should carry a message")
		}
	}
}

func TestRequiresAuth(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/v1/health", false},
		{"/v1/status", true},
		{"/v1/generate/exercise", true},
		{"/generate-exercise", true},
		{"/generate-tutorial", true},
		{"/", false},
		{"/favicon.ico", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := requiresAuth(tt.path); got != tt.want {
				t.Errorf("requiresAuth(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	issuer, err := auth.NewIssuer("test-secret", "codehub")
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := auth.NewVerifier("test-secret", "codehub")
	if err != nil {
		t.Fatal(err)
	}
	token, err := issuer.Issue("ci", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	otherIssuer, _ := auth.NewIssuer("other-secret", "codehub")
	forged, _ := otherIssuer.Issue("ci", time.Hour)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantDetail string
	}{
		{"health is open", "/v1/health", "", http.StatusOK, ""},
		{"missing token", "/v1/models", "", http.StatusUnauthorized, "missing bearer token"},
		{"wrong scheme", "/v1/models", "Basic abc", http.StatusUnauthorized, "missing bearer token"},
		{"forged token", "/generate-exercise", "Bearer " + forged, http.StatusUnauthorized, "invalid bearer token"},
		{"valid token", "/generate-exercise", "Bearer " + token, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := authMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
					subject = claims.Subject
				}
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body errorResponse
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if len(body.Details) != 1 || body.Details[0] != tt.wantDetail {
					t.Errorf("details = %v, want [%s]", body.Details, tt.wantDetail)
				}
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("expected WWW-Authenticate header")
				}
			}
			if tt.name == "valid token" && subject != "ci" {
				t.Errorf("claims subject = %q, want ci", subject)
			}
		})
	}
}

func TestAuthMiddleware_NilVerifier(t *testing.T) {
	called := false
	handler := authMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/generate-exercise", nil))
	if !called {
		t.Error("nil verifier should disable auth")
	}
}

func TestRequestTimeout(t *testing.T) {
	def := 3 * time.Minute

	tests := []struct {
		name    string
		header  string
		want    time.Duration
		wantErr bool
	}{
		{"default", "", def, false},
		{"override", "45s", 45 * time.Second, false},
		{"capped", "1h", MaxRequestTimeout, false},
		{"garbage", "soon", 0, true},
		{"negative", "-5s", 0, true},
		{"zero", "0s", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/generate-exercise", nil)
			if tt.header != "" {
				req.Header.Set(RequestTimeoutHeader, tt.header)
			}

			got, err := requestTimeout(req, def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requestTimeout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("requestTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMiddlewareChain_Integration(t *testing.T) {
	var capturedID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusCreated)
	})

	handler := middlewareChain(nil, inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if capturedID == "" || rec.Header().Get(CorrelationIDHeader) != capturedID {
		t.Errorf("correlation ID not propagated through tracing: captured %q, header %q",
			capturedID, rec.Header().Get(CorrelationIDHeader))
	}
}

func TestMiddlewareChain_WithPanic(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("simulated panic")
	})
	handler := middlewareChain(nil, inner)
	logs := captureLogs(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set(CorrelationIDHeader, "panic-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get(CorrelationIDHeader) != "panic-42" {
		t.Error("correlation ID header should be set before the panic")
	}
	if got := logRecord(t, logs, "panic recovered")["correlation_id"]; got != "panic-42" {
		t.Errorf("panic log correlation_id = %v, want panic-42", got)
	}
}

func TestMiddlewareChain_RequestLogCarriesCorrelationID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	handler := middlewareChain(nil, inner)
	logs := captureLogs(t)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := logRecord(t, logs, "request")
	if entry["correlation_id"] != "abc-123" {
		t.Errorf("request log correlation_id = %v, want abc-123", entry["correlation_id"])
	}
	if entry["status"] != float64(http.StatusBadRequest) {
		t.Errorf("request log status = %v, want 400", entry["status"])
	}
}

// captureLogs routes the default slog logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func logRecord(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("no %q log record in %s", msg, buf.String())
	return nil
}
