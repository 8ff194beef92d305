package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &ValidationError{Message: "Invalid request"}, http.StatusBadRequest},
		{"difficulty", &UnsupportedDifficultyError{Difficulty: 4, Supported: []int{1, 2, 3}}, http.StatusBadRequest},
		{"upstream 429", &UpstreamProviderError{Provider: "openrouter", StatusCode: 429}, http.StatusTooManyRequests},
		{"upstream 503", &UpstreamProviderError{Provider: "openrouter", StatusCode: 503}, http.StatusServiceUnavailable},
		{"upstream transport", &UpstreamProviderError{Provider: "openrouter", Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"upstream deadline", &UpstreamProviderError{Provider: "openrouter", Err: fmt.Errorf("do: %w", context.DeadlineExceeded)}, http.StatusGatewayTimeout},
		{"parse", &ParseError{Raw: "x", Err: errors.New("bad")}, http.StatusInternalServerError},
		{"content", &ContentValidationError{Reason: "missing"}, http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("handler: %w", &ValidationError{}), http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorBody(t *testing.T) {
	msg, details := ErrorBody(&ValidationError{Message: "Invalid request", Details: []string{"modelId is required"}})
	if msg != "Invalid request" || len(details) != 1 {
		t.Errorf("ErrorBody(validation) = %q %v", msg, details)
	}

	msg, details = ErrorBody(&UnsupportedDifficultyError{Difficulty: 4, Supported: []int{1, 2, 3}})
	if msg != "Invalid parameters" || len(details) != 1 || details[0] != "difficulty 4 is not supported (supported: 1, 2, 3)" {
		t.Errorf("ErrorBody(difficulty) = %q %v", msg, details)
	}

	msg, _ = ErrorBody(&UpstreamProviderError{Provider: "openrouter", StatusCode: 503, Status: "Service Unavailable"})
	if msg != "Generation provider request failed: Service Unavailable" {
		t.Errorf("ErrorBody(upstream) = %q", msg)
	}

	msg, details = ErrorBody(&ContentValidationError{Reason: "missing visual_elements"})
	if msg != "Generated content failed validation" || details[0] != "missing visual_elements" {
		t.Errorf("ErrorBody(content) = %q %v", msg, details)
	}
}
