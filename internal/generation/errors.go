package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports a malformed or out-of-range request.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Details, "; "))
}

// UnsupportedDifficultyError is returned by the prompt builder for levels
// that have no difficulty context.
type UnsupportedDifficultyError struct {
	Difficulty int
	Supported  []int
}

func (e *UnsupportedDifficultyError) Error() string {
	parts := make([]string, len(e.Supported))
	for i, d := range e.Supported {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("difficulty %d is not supported (supported: %s)", e.Difficulty, strings.Join(parts, ", "))
}

// UpstreamProviderError wraps a failed call to the generation provider.
type UpstreamProviderError struct {
	Provider   string
	StatusCode int
	Status     string
	Err        error
}

func (e *UpstreamProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s returned %d %s", e.Provider, e.StatusCode, e.Status)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *UpstreamProviderError) Unwrap() error {
	return e.Err
}

// ParseError reports model output that is not valid JSON. Raw keeps the
// original text for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ContentValidationError reports a well-formed artifact that violates the
// structural contract.
type ContentValidationError struct {
	Reason  string
	Details []string
}

func (e *ContentValidationError) Error() string {
	return "content validation failed: " + e.Reason
}

// StatusCode maps a pipeline error to the HTTP status returned to callers.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var validationErr *ValidationError
	var difficultyErr *UnsupportedDifficultyError
	var upstreamErr *UpstreamProviderError
	var parseErr *ParseError
	var contentErr *ContentValidationError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &difficultyErr):
		return http.StatusBadRequest
	case errors.As(err, &upstreamErr):
		if upstreamErr.StatusCode >= 400 && upstreamErr.StatusCode <= 599 {
			return upstreamErr.StatusCode
		}
		if errors.Is(upstreamErr.Err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.As(err, &parseErr), errors.As(err, &contentErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody converts a pipeline error into the {error, details} payload.
func ErrorBody(err error) (string, []string) {
	var validationErr *ValidationError
	var difficultyErr *UnsupportedDifficultyError
	var upstreamErr *UpstreamProviderError
	var parseErr *ParseError
	var contentErr *ContentValidationError

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Message, validationErr.Details
	case errors.As(err, &difficultyErr):
		return "Invalid parameters", []string{difficultyErr.Error()}
	case errors.As(err, &upstreamErr):
		msg := "Generation provider request failed"
		if upstreamErr.Status != "" {
			msg = fmt.Sprintf("%s: %s", msg, upstreamErr.Status)
		}
		if upstreamErr.Err != nil {
			return msg, []string{upstreamErr.Err.Error()}
		}
		return msg, nil
	case errors.As(err, &parseErr):
		return "Failed to parse generated content", []string{parseErr.Err.Error()}
	case errors.As(err, &contentErr):
		details := contentErr.Details
		if len(details) == 0 {
			details = []string{contentErr.Reason}
		}
		return "Generated content failed validation", details
	default:
		return "Internal server error", []string{err.Error()}
	}
}
