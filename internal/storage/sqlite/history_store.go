package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/codehub/internal/history"
)

const generationColumns = `id, job_id, kind, model_id, provider, topic, language, difficulty,
	status, http_status, error, warnings, artifact, input_tokens, output_tokens,
	duration_ms, created_at`

// HistoryStore implements history.Store backed by SQLite.
type HistoryStore struct {
	db *DB
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore creates a new SQLite-backed history store.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// OpenHistory opens the database at path, applies migrations and returns
// a store that owns the connection.
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return NewHistoryStore(db), nil
}

// Save persists a record (insert or update).
func (s *HistoryStore) Save(ctx context.Context, r *history.Record) error {
	warnings, err := json.Marshal(nonNilWarnings(r.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	var artifact pqtype.NullRawMessage
	if len(r.Artifact) > 0 {
		artifact = pqtype.NullRawMessage{RawMessage: r.Artifact, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generations (`+generationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider=excluded.provider, model_id=excluded.model_id,
			status=excluded.status, http_status=excluded.http_status,
			error=excluded.error, warnings=excluded.warnings,
			artifact=excluded.artifact, input_tokens=excluded.input_tokens,
			output_tokens=excluded.output_tokens, duration_ms=excluded.duration_ms`,
		r.ID, nullString(r.JobID), r.Kind, r.ModelID, r.Provider, r.Topic,
		r.Language, r.Difficulty, string(r.Status), r.HTTPStatus, r.Error,
		string(warnings), artifact, r.InputTokens, r.OutputTokens, r.DurationMS,
		r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert generation: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *HistoryStore) Get(ctx context.Context, id string) (*history.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	return scanGeneration(row)
}

// GetByJob retrieves the record for an async job.
func (s *HistoryStore) GetByJob(ctx context.Context, jobID string) (*history.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE job_id = ?`, jobID)
	return scanGeneration(row)
}

// List returns the most recent records, newest first.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]*history.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+generationColumns+` FROM generations
		ORDER BY created_at DESC, id LIMIT ?`, history.ClampLimit(limit))
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

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*history.Record, error) {
	var (
		r        history.Record
		jobID    sql.NullString
		status   string
		warnings string
		artifact pqtype.NullRawMessage
	)
	err := row.Scan(&r.ID, &jobID, &r.Kind, &r.ModelID, &r.Provider, &r.Topic,
		&r.Language, &r.Difficulty, &status, &r.HTTPStatus, &r.Error, &warnings,
		&artifact, &r.InputTokens, &r.OutputTokens, &r.DurationMS, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation: %w", err)
	}

	r.JobID = jobID.String
	r.Status = history.Status(status)
	if artifact.Valid {
		r.Artifact = artifact.RawMessage
	}
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilWarnings(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}
