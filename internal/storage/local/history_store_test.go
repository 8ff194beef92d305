package local

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/codehub/internal/history"
)

func newRecord(id string, createdAt time.Time) *history.Record {
	return &history.Record{
		ID:         id,
		Kind:       "exercise",
		ModelID:    "openai/gpt-4o-mini",
		Provider:   "openrouter",
		Topic:      "reverse a string",
		Language:   "python",
		Difficulty: 1,
		Status:     history.StatusSucceeded,
		HTTPStatus: 200,
		Warnings:   []string{"solution_code has no return statement"},
		Artifact:   json.RawMessage(`{"title":"Reverse"}`),
		DurationMS: 1500,
		CreatedAt:  createdAt,
	}
}

func TestHistoryStore_SaveAndGet(t *testing.T) {
	store, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.Save(ctx, newRecord("gen-1", now)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "gen-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Topic != "reverse a string" || got.Status != history.StatusSucceeded {
		t.Errorf("Get() = %+v", got)
	}
	if string(got.Artifact) != `{"title":"Reverse"}` {
		t.Errorf("Artifact = %s", got.Artifact)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestHistoryStore_NotFound(t *testing.T) {
	store, _ := OpenHistory(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, history.ErrRecordNotFound) {
		t.Errorf("Get() error = %v, want ErrRecordNotFound", err)
	}
	if _, err := store.Get(ctx, "../etc"); !errors.Is(err, history.ErrRecordNotFound) {
		t.Errorf("Get(traversal) error = %v, want ErrRecordNotFound", err)
	}
	if _, err := store.GetByJob(ctx, "missing"); !errors.Is(err, history.ErrRecordNotFound) {
		t.Errorf("GetByJob() error = %v, want ErrRecordNotFound", err)
	}
}

func TestHistoryStore_JobIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, _ := OpenHistory(dir)
	pending := &history.Record{
		ID:        "job-7",
		JobID:     "job-7",
		Kind:      "tutorial",
		Status:    history.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Save(ctx, pending); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := OpenHistory(dir)
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	got, err := reopened.GetByJob(ctx, "job-7")
	if err != nil {
		t.Fatalf("GetByJob() after reopen error = %v", err)
	}
	if got.Status != history.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Warnings == nil {
		t.Error("Warnings should be an empty slice, not nil")
	}
}

func TestHistoryStore_List(t *testing.T) {
	store, _ := OpenHistory(t.TempDir())
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		if err := store.Save(ctx, newRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	got, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("List(2) = %v", ids(got))
	}

	all, _ := store.List(ctx, 0)
	if len(all) != 3 {
		t.Errorf("List(0) = %d records, want 3", len(all))
	}
}

func ids(records []*history.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
