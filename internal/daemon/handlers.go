package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/codehub/internal/generation"
	"github.com/felixgeelhaar/codehub/internal/history"
	"github.com/felixgeelhaar/codehub/internal/queue"
)

const (
	// WarningsHeader carries the soft-warning count on bare artifact responses
	WarningsHeader = "X-Generation-Warnings"
	// GenerationIDHeader carries the generation id on every generation response
	GenerationIDHeader = "X-Generation-ID"

	maxBodyBytes = 1 << 20
)

// decodeRequest reads a JSON object body into a raw request map. It writes
// the 400 response itself and reports false on failure.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		detail := "request body must be a JSON object"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			detail = fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
		} else if errors.Is(err, io.EOF) {
			detail = "request body is empty"
		}
		writeError(w, http.StatusBadRequest, "Invalid request", []string{detail})
		return false
	}
	return true
}

// generationContext bounds a generation call by the configured request
// timeout or the caller's RequestTimeoutHeader.
func (s *Server) generationContext(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc, bool) {
	timeout, err := requestTimeout(r, s.cfg.Generation.RequestTimeout())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", []string{err.Error()})
		return nil, nil, false
	}
	if timeout <= 0 {
		ctx, cancel := context.WithCancel(r.Context())
		return ctx, cancel, true
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	return ctx, cancel, true
}

// Generation handlers

func (s *Server) handleGenerateExercise(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runExercise(w, r)
	if !ok {
		return
	}
	w.Header().Set(WarningsHeader, strconv.Itoa(len(res.Warnings)))
	s.jsonResponse(w, http.StatusOK, res.Artifact)
}

func (s *Server) handleGenerateExerciseV1(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runExercise(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) runExercise(w http.ResponseWriter, r *http.Request) (*generation.ExerciseResult, bool) {
	var raw map[string]any
	if !s.decodeRequest(w, r, &raw) {
		return nil, false
	}
	ctx, cancel, ok := s.generationContext(w, r)
	if !ok {
		return nil, false
	}
	defer cancel()

	res, err := s.generation.GenerateExercise(ctx, raw)
	if err != nil {
		s.generationError(w, r, err)
		return nil, false
	}
	w.Header().Set(GenerationIDHeader, res.GenerationID)
	return res, true
}

func (s *Server) handleGenerateTutorial(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runTutorial(w, r)
	if !ok {
		return
	}
	w.Header().Set(WarningsHeader, strconv.Itoa(len(res.Warnings)))
	s.jsonResponse(w, http.StatusOK, res.Tutorial)
}

func (s *Server) handleGenerateTutorialV1(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runTutorial(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) runTutorial(w http.ResponseWriter, r *http.Request) (*generation.TutorialResult, bool) {
	var raw map[string]any
	if !s.decodeRequest(w, r, &raw) {
		return nil, false
	}
	ctx, cancel, ok := s.generationContext(w, r)
	if !ok {
		return nil, false
	}
	defer cancel()

	res, err := s.generation.GenerateTutorial(ctx, raw)
	if err != nil {
		s.generationError(w, r, err)
		return nil, false
	}
	w.Header().Set(GenerationIDHeader, res.GenerationID)
	return res, true
}

// parseKind reads a generation kind, defaulting to exercise
func parseKind(v string) (generation.Kind, error) {
	switch generation.Kind(v) {
	case "", generation.KindExercise:
		return generation.KindExercise, nil
	case generation.KindTutorial:
		return generation.KindTutorial, nil
	default:
		return "", fmt.Errorf("kind must be exercise or tutorial, got %q", v)
	}
}

func (s *Server) handlePreviewPrompt(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if !s.decodeRequest(w, r, &raw) {
		return
	}

	kindParam := r.URL.Query().Get("kind")
	if k, ok := raw["kind"].(string); ok && kindParam == "" {
		kindParam = k
	}
	kind, err := parseKind(kindParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", []string{err.Error()})
		return
	}

	preview, err := s.generation.PreviewPrompt(raw, kind)
	if err != nil {
		s.generationError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, preview)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"models": s.generation.Catalog().List(),
	})
}

// Job handlers

type createJobRequest struct {
	Kind    string         `json:"kind"`
	Request map[string]any `json:"request"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "Async generation unavailable", queue.ErrQueueDisabled)
		return
	}

	var req createJobRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", []string{err.Error()})
		return
	}
	if req.Request == nil {
		writeError(w, http.StatusBadRequest, "Invalid request", []string{"request is required"})
		return
	}

	// Reject what the worker would reject before it reaches the queue
	if _, err := s.generation.PreviewPrompt(req.Request, kind); err != nil {
		s.generationError(w, r, err)
		return
	}

	job := queue.NewGenerationJob(string(kind), req.Request, GetCorrelationID(r.Context()))

	if s.history != nil {
		canonical := generation.Sanitize(req.Request)
		pending := &history.Record{
			ID:         job.ID,
			JobID:      job.ID,
			Kind:       job.Kind,
			ModelID:    canonical.ModelID,
			Topic:      canonical.TopicOrQuestion,
			Language:   canonical.TargetLanguage,
			Difficulty: canonical.Difficulty,
			Status:     history.StatusPending,
			Warnings:   []string{},
			CreatedAt:  job.CreatedAt,
		}
		if err := s.history.Save(r.Context(), pending); err != nil {
			slog.Warn("failed to record pending job", "job_id", job.ID, "error", err)
		}
	}

	if err := s.jobs.PublishJob(r.Context(), job); err != nil {
		slog.Error("failed to enqueue job",
			"correlation_id", GetCorrelationID(r.Context()),
			"job_id", job.ID,
			"error", err,
		)
		s.markJobFailed(job.ID, http.StatusServiceUnavailable, "enqueue failed: "+err.Error())
		s.jsonError(w, http.StatusServiceUnavailable, "Failed to enqueue job", err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	s.jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": history.StatusPending,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "Job status unavailable", ErrHistoryDisabled)
		return
	}

	rec, err := s.history.GetByJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrRecordNotFound) {
		s.jsonError(w, http.StatusNotFound, "Job not found", err)
		return
	}
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "Failed to load job", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// HandleJobResult settles the history record of a finished job. Completed
// jobs are normally recorded by the pipeline itself, so this only touches
// records that are still pending, such as jobs that failed validation or
// timed out in a worker.
func (s *Server) HandleJobResult(result *queue.GenerationResult) {
	if s.history == nil || result == nil || result.JobID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := s.history.GetByJob(ctx, result.JobID)
	if err != nil {
		if !errors.Is(err, history.ErrRecordNotFound) {
			slog.Warn("failed to load job record", "job_id", result.JobID, "error", err)
		}
		return
	}
	if rec.Status != history.StatusPending {
		return
	}

	rec.HTTPStatus = result.HTTPStatus
	rec.DurationMS = result.Duration.Milliseconds()
	if result.Status == queue.StatusCompleted {
		rec.Status = history.StatusSucceeded
		rec.Artifact = result.Artifact
		rec.Warnings = result.Warnings
	} else {
		rec.Status = history.StatusFailed
		rec.Error = result.Error
		if len(result.Details) > 0 {
			b, _ := json.Marshal(result.Details)
			rec.Error = fmt.Sprintf("%s: %s", result.Error, b)
		}
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}

	if err := s.history.Save(ctx, rec); err != nil {
		slog.Warn("failed to settle job record", "job_id", result.JobID, "error", err)
	}
}

func (s *Server) markJobFailed(jobID string, status int, msg string) {
	s.HandleJobResult(&queue.GenerationResult{
		JobID:      jobID,
		Status:     queue.StatusFailed,
		HTTPStatus: status,
		Error:      msg,
	})
}

// History handlers

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "History unavailable", ErrHistoryDisabled)
		return
	}

	limit := history.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", []string{"limit must be an integer"})
			return
		}
		limit = n
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "Failed to list history", err)
		return
	}

	// Artifacts are only returned by the single-record route
	for _, rec := range records {
		rec.Artifact = nil
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"generations": records,
		"count":       len(records),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "History unavailable", ErrHistoryDisabled)
		return
	}

	rec, err := s.history.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrRecordNotFound) {
		s.jsonError(w, http.StatusNotFound, "Generation not found", err)
		return
	}
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "Failed to load generation", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}
