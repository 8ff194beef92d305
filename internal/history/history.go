// Package history keeps a side record of every generation the daemon runs.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when no record matches the lookup.
var ErrRecordNotFound = errors.New("history record not found")

// Status is the lifecycle state of a generation record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is one generation attempt.
type Record struct {
	ID           string          `json:"id"`
	JobID        string          `json:"job_id,omitempty"`
	Kind         string          `json:"kind"`
	ModelID      string          `json:"model_id"`
	Provider     string          `json:"provider,omitempty"`
	Topic        string          `json:"topic"`
	Language     string          `json:"language"`
	Difficulty   int             `json:"difficulty"`
	Status       Status          `json:"status"`
	HTTPStatus   int             `json:"http_status,omitempty"`
	Error        string          `json:"error,omitempty"`
	Warnings     []string        `json:"warnings"`
	Artifact     json.RawMessage `json:"artifact,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	DurationMS   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store persists generation records. Save upserts on ID.
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByJob(ctx context.Context, jobID string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}

// DefaultListLimit bounds List when callers pass a non-positive limit.
const DefaultListLimit = 50

// ClampLimit normalizes a caller-supplied list limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}
