package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/codehub/internal/generation"
)

// Recorder adapts a Store to the generation pipeline's Recorder hook.
type Recorder struct {
	store Store
}

var _ generation.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record converts a pipeline outcome into a history record. Outcomes that
// belong to an async job update the job's pending record in place.
func (r *Recorder) Record(ctx context.Context, o generation.Outcome) error {
	rec := &Record{
		ID:           o.GenerationID,
		JobID:        o.JobID,
		Kind:         string(o.Kind),
		ModelID:      o.Request.ModelID,
		Provider:     o.Provider,
		Topic:        o.Request.TopicOrQuestion,
		Language:     o.Request.TargetLanguage,
		Difficulty:   o.Request.Difficulty,
		Warnings:     o.Warnings,
		Artifact:     o.Artifact,
		InputTokens:  o.Usage.InputTokens,
		OutputTokens: o.Usage.OutputTokens,
		DurationMS:   o.Duration.Milliseconds(),
		CreatedAt:    o.StartedAt,
	}
	if o.Err != nil {
		rec.Status = StatusFailed
		rec.HTTPStatus = generation.StatusCode(o.Err)
		rec.Error = o.Err.Error()
		rec.Artifact = nil
	} else {
		rec.Status = StatusSucceeded
		rec.HTTPStatus = 200
	}

	if o.JobID != "" {
		existing, err := r.store.GetByJob(ctx, o.JobID)
		switch {
		case err == nil:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrRecordNotFound):
			return fmt.Errorf("lookup job %s: %w", o.JobID, err)
		}
	}

	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save generation %s: %w", rec.ID, err)
	}
	return nil
}
