package queue

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/codehub/internal/generation"
)

// Generator runs the generation pipeline for a job
type Generator interface {
	Generate(ctx context.Context, kind generation.Kind, raw map[string]any) (json.RawMessage, []string, string, error)
}

// NewGenerationHandler returns a JobHandler that runs jobs through gen.
// Pipeline failures become failed results carrying the HTTP status the
// synchronous endpoint would have returned.
func NewGenerationHandler(gen Generator) JobHandler {
	return func(ctx context.Context, job *GenerationJob) (*GenerationResult, error) {
		ctx = generation.WithJobID(ctx, job.ID)

		artifact, warnings, generationID, err := gen.Generate(ctx, generation.Kind(job.Kind), job.Request)
		if err != nil {
			msg, details := generation.ErrorBody(err)
			return &GenerationResult{
				Status:     StatusFailed,
				HTTPStatus: generation.StatusCode(err),
				Error:      msg,
				Details:    details,
			}, nil
		}

		return &GenerationResult{
			GenerationID: generationID,
			Status:       StatusCompleted,
			HTTPStatus:   200,
			Artifact:     artifact,
			Warnings:     warnings,
		}, nil
	}
}
