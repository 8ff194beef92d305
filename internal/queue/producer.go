package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer publishes generation jobs and results
type Producer struct {
	pub publisher
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{pub: conn}
}

// PublishJob publishes a generation job to the queue
func (p *Producer) PublishJob(ctx context.Context, job *GenerationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.pub.PublishJSON(ctx, GenerationQueueName, job); err != nil {
		return fmt.Errorf("failed to publish generation job: %w", err)
	}

	slog.Info("published generation job",
		"job_id", job.ID,
		"kind", job.Kind,
		"correlation_id", job.CorrelationID,
	)

	return nil
}

// PublishResult publishes a job result to the results queue
func (p *Producer) PublishResult(ctx context.Context, result *GenerationResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	if err := p.pub.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish generation result: %w", err)
	}

	slog.Info("published generation result",
		"job_id", result.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)

	return nil
}

// NewGenerationJob creates a job with a fresh ID
func NewGenerationJob(kind string, request map[string]any, correlationID string) *GenerationJob {
	return &GenerationJob{
		ID:            uuid.NewString(),
		Kind:          kind,
		Request:       request,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}
}
