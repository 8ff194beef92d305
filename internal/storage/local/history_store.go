package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/codehub/internal/history"
)

const generationsCollection = "generations"

// HistoryStore implements history.Store with one JSON file per record.
// A job index is rebuilt from disk on open.
type HistoryStore struct {
	store *Store

	mu   sync.RWMutex
	jobs map[string]string // job id -> record id
}

var _ history.Store = (*HistoryStore)(nil)

// OpenHistory opens (or creates) a file history rooted at dir.
func OpenHistory(dir string) (*HistoryStore, error) {
	store, err := NewStore(dir)
	if err != nil {
		return nil, err
	}

	h := &HistoryStore{store: store, jobs: make(map[string]string)}
	records, err := h.all()
	if err != nil {
		return nil, fmt.Errorf("index history: %w", err)
	}
	for _, r := range records {
		if r.JobID != "" {
			h.jobs[r.JobID] = r.ID
		}
	}
	return h, nil
}

// Save persists a record (insert or update).
func (h *HistoryStore) Save(ctx context.Context, r *history.Record) error {
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if err := h.store.Save(generationsCollection, r.ID, r); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	if r.JobID != "" {
		h.mu.Lock()
		h.jobs[r.JobID] = r.ID
		h.mu.Unlock()
	}
	return nil
}

// Get retrieves a record by ID.
func (h *HistoryStore) Get(ctx context.Context, id string) (*history.Record, error) {
	var r history.Record
	if err := h.store.Load(generationsCollection, id, &r); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, history.ErrRecordNotFound
		}
		return nil, fmt.Errorf("load generation: %w", err)
	}
	return &r, nil
}

// GetByJob retrieves the record for an async job.
func (h *HistoryStore) GetByJob(ctx context.Context, jobID string) (*history.Record, error) {
	h.mu.RLock()
	id, ok := h.jobs[jobID]
	h.mu.RUnlock()
	if !ok {
		return nil, history.ErrRecordNotFound
	}
	return h.Get(ctx, id)
}

// List returns the most recent records, newest first.
func (h *HistoryStore) List(ctx context.Context, limit int) ([]*history.Record, error) {
	records, err := h.all()
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit = history.ClampLimit(limit); len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close is a no-op; every Save is already on disk.
func (h *HistoryStore) Close() error {
	return nil
}

func (h *HistoryStore) all() ([]*history.Record, error) {
	ids, err := h.store.List(generationsCollection)
	if err != nil {
		return nil, err
	}

	records := make([]*history.Record, 0, len(ids))
	for _, id := range ids {
		var r history.Record
		err := h.store.Load(generationsCollection, id, &r)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		records = append(records, &r)
	}
	return records, nil
}
