// Package postgres implements the generation history store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/codehub/internal/history"
	"github.com/felixgeelhaar/codehub/internal/storage/migrations"
)

const generationColumns = `id, job_id, kind, model_id, provider, topic, language, difficulty,
	status, http_status, error, warnings, artifact, input_tokens, output_tokens,
	duration_ms, created_at`

// HistoryStore implements history.Store using PostgreSQL
type HistoryStore struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore creates a store on an existing pool
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Open connects to dsn, applies migrations and returns a store that owns
// the pool.
func Open(ctx context.Context, dsn string) (*HistoryStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewHistoryStore(pool), nil
}

// Migrate applies pending Postgres dialect migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	list, err := migrations.List(migrations.Postgres())
	if err != nil {
		return err
	}

	for _, m := range list {
		if m.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
				return fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("applied migration", "name", m.Name, "version", m.Version, "dialect", "postgres")
	}
	return nil
}

// Save inserts or updates a record
func (s *HistoryStore) Save(ctx context.Context, r *history.Record) error {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	var artifact []byte
	if len(r.Artifact) > 0 {
		artifact = r.Artifact
	}

	query := `
		INSERT INTO generations (` + generationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider, model_id = EXCLUDED.model_id,
			status = EXCLUDED.status, http_status = EXCLUDED.http_status,
			error = EXCLUDED.error, warnings = EXCLUDED.warnings,
			artifact = EXCLUDED.artifact, input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens, duration_ms = EXCLUDED.duration_ms
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID, nullable(r.JobID), r.Kind, r.ModelID, r.Provider, r.Topic,
		r.Language, r.Difficulty, string(r.Status), r.HTTPStatus, r.Error,
		warnings, artifact, r.InputTokens, r.OutputTokens, r.DurationMS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert generation: %w", err)
	}
	return nil
}

// Get retrieves a record by ID
func (s *HistoryStore) Get(ctx context.Context, id string) (*history.Record, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1`
	return scanGeneration(s.pool.QueryRow(ctx, query, id))
}

// GetByJob retrieves the record for an async job
func (s *HistoryStore) GetByJob(ctx context.Context, jobID string) (*history.Record, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE job_id = $1`
	return scanGeneration(s.pool.QueryRow(ctx, query, jobID))
}

// List returns the most recent records, newest first
func (s *HistoryStore) List(ctx context.Context, limit int) ([]*history.Record, error) {
	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY created_at DESC, id LIMIT $1`
	rows, err := s.pool.Query(ctx, query, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	records := []*history.Record{}
	for rows.Next() {
		r, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the pool
func (s *HistoryStore) Close() error {
	s.pool.Close()
	return nil
}

func scanGeneration(row pgx.Row) (*history.Record, error) {
	var (
		r        history.Record
		jobID    *string
		status   string
		artifact []byte
	)
	err := row.Scan(&r.ID, &jobID, &r.Kind, &r.ModelID, &r.Provider, &r.Topic,
		&r.Language, &r.Difficulty, &status, &r.HTTPStatus, &r.Error, &r.Warnings,
		&artifact, &r.InputTokens, &r.OutputTokens, &r.DurationMS, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, history.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	if jobID != nil {
		r.JobID = *jobID
	}
	r.Status = history.Status(status)
	if len(artifact) > 0 {
		r.Artifact = artifact
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
