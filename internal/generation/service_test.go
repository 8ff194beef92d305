package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/felixgeelhaar/codehub/internal/llm"
)

// mockProvider returns a fixed response and counts calls
type mockProvider struct {
	name    string
	content string
	err     error
	calls   atomic.Int32
	lastReq *llm.Request
	mu      sync.Mutex
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{
		Content:      m.content,
		FinishReason: "stop",
		Model:        req.Model,
		Usage:        llm.Usage{InputTokens: 100, OutputTokens: 200},
	}, nil
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (r *recordingRecorder) Record(ctx context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.err
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func newTestService(t *testing.T, p *mockProvider) *Service {
	t.Helper()
	registry := llm.NewRegistry()
	registry.Register(p.name, p)
	if err := registry.SetDefault(p.name); err != nil {
		t.Fatal(err)
	}
	return NewService(registry, ServiceConfig{})
}

func TestService_GenerateExercise(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)
	rec := &recordingRecorder{}
	svc.SetRecorder(rec)

	res, err := svc.GenerateExercise(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("GenerateExercise() error = %v", err)
	}

	if res.Artifact.Title != "Reverse a String" {
		t.Errorf("Title = %q", res.Artifact.Title)
	}
	if res.GenerationID == "" {
		t.Error("GenerationID should be set")
	}
	if res.Provider != "openrouter" || res.Model != "google/gemini-2.5-flash-lite" {
		t.Errorf("Provider/Model = %s/%s", res.Provider, res.Model)
	}
	if res.Warnings == nil {
		t.Error("Warnings should be an empty list, not nil")
	}
	if res.Summary.ExecutionSteps != 2 {
		t.Errorf("Summary.ExecutionSteps = %d, want 2", res.Summary.ExecutionSteps)
	}
	if p.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls.Load())
	}

	req := p.lastReq
	if req.Schema == nil || req.Schema.Name != "codehub_exercise" || !req.Schema.Strict {
		t.Errorf("Schema = %+v", req.Schema)
	}
	if req.Temperature != 0.3 || req.TopP != 0.9 {
		t.Errorf("sampling = %v/%v", req.Temperature, req.TopP)
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "reverse a string") {
		t.Error("user message should carry the built prompt")
	}
	if req.System == "" {
		t.Error("system message should be set")
	}

	if len(rec.outcomes) != 1 {
		t.Fatalf("recorded %d outcomes, want 1", len(rec.outcomes))
	}
	if got := rec.outcomes[0]; got.Err != nil || got.GenerationID != res.GenerationID || got.Usage.OutputTokens != 200 {
		t.Errorf("outcome = %+v", got)
	}
}

func TestService_GenerateExercise_InvalidModelNeverCallsProvider(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)
	rec := &recordingRecorder{}
	svc.SetRecorder(rec)

	raw := validRaw()
	raw["modelId"] = "not-a-real-model"

	_, err := svc.GenerateExercise(context.Background(), raw)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", StatusCode(err))
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider calls = %d, want 0", p.calls.Load())
	}
	if len(rec.outcomes) != 0 {
		t.Error("validation failures should not be recorded")
	}
}

func TestService_GenerateExercise_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing topic", func(m map[string]any) { delete(m, "topicOrQuestion") }},
		{"difficulty out of range", func(m map[string]any) { m["difficulty"] = float64(9) }},
		{"unsupported difficulty", func(m map[string]any) { m["difficulty"] = float64(4) }},
		{"topic too short", func(m map[string]any) { m["topicOrQuestion"] = "ab" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: "openrouter", content: sampleExercise}
			svc := newTestService(t, p)

			raw := validRaw()
			tt.mutate(raw)
			_, err := svc.GenerateExercise(context.Background(), raw)

			if StatusCode(err) != http.StatusBadRequest {
				t.Errorf("StatusCode = %d, want 400 (err %v)", StatusCode(err), err)
			}
			if p.calls.Load() != 0 {
				t.Errorf("provider calls = %d, want 0", p.calls.Load())
			}
		})
	}
}

func TestService_GenerateExercise_UpstreamError(t *testing.T) {
	apiErr := &llm.APIError{Provider: "openrouter", StatusCode: 429, Status: "Too Many Requests", Body: "slow down"}
	p := &mockProvider{name: "openrouter", err: apiErr}
	svc := newTestService(t, p)
	rec := &recordingRecorder{}
	svc.SetRecorder(rec)

	_, err := svc.GenerateExercise(context.Background(), validRaw())

	var upErr *UpstreamProviderError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want UpstreamProviderError", err)
	}
	if upErr.StatusCode != 429 || upErr.Status != "Too Many Requests" {
		t.Errorf("UpstreamProviderError = %+v", upErr)
	}
	if StatusCode(err) != 429 {
		t.Errorf("StatusCode = %d, want 429", StatusCode(err))
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0].Err == nil {
		t.Error("upstream failures should be recorded with their error")
	}
}

func TestService_GenerateExercise_ParseAndContentErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(error) bool
	}{
		{"not json", "not json", func(err error) bool {
			var e *ParseError
			return errors.As(err, &e) && e.Raw == "not json"
		}},
		{"missing visual elements", `{"title":"x"}`, func(err error) bool {
			var e *ContentValidationError
			return errors.As(err, &e) && strings.Contains(e.Reason, "visual_elements")
		}},
		{"steps wrong type", `{"visual_elements":{"execution_steps":"x","concepts":[]}}`, func(err error) bool {
			var e *ContentValidationError
			return errors.As(err, &e) && strings.Contains(e.Reason, "execution_steps")
		}},
		{"concepts wrong type", `{"visual_elements":{"execution_steps":[],"concepts":{"name":"x"}}}`, func(err error) bool {
			var e *ContentValidationError
			return errors.As(err, &e) && strings.Contains(e.Reason, "concepts")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: "openrouter", content: tt.content}
			svc := newTestService(t, p)

			_, err := svc.GenerateExercise(context.Background(), validRaw())
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
			if StatusCode(err) != http.StatusInternalServerError {
				t.Errorf("StatusCode = %d, want 500", StatusCode(err))
			}
		})
	}
}

func TestService_GenerateExercise_WarningsDoNotFail(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(sampleExercise), &doc); err != nil {
		t.Fatal(err)
	}
	doc["boilerplate_code"] = "pass"
	data, _ := json.Marshal(doc)

	p := &mockProvider{name: "openrouter", content: string(data)}
	svc := newTestService(t, p)

	res, err := svc.GenerateExercise(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("GenerateExercise() error = %v", err)
	}
	if len(res.Warnings) == 0 || res.Summary.WarningCount != len(res.Warnings) {
		t.Errorf("Warnings = %v, Summary = %+v", res.Warnings, res.Summary)
	}
}

func TestService_GenerateExercise_NumericMemoryValue(t *testing.T) {
	content := strings.Replace(sampleExercise, `"value": "''"`, `"value": 5`, 1)
	p := &mockProvider{name: "openrouter", content: content}
	svc := newTestService(t, p)

	res, err := svc.GenerateExercise(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("GenerateExercise() error = %v", err)
	}
	if got := res.Artifact.VisualElements.ExecutionSteps[1].MemoryState[0].Value; got != "5" {
		t.Errorf("Value = %q, want 5", got)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
}

func TestService_GenerateExercise_Cache(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)
	cache := newMemoryCache()
	svc.SetCache(cache)

	first, err := svc.GenerateExercise(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := svc.GenerateExercise(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}

	if p.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls.Load())
	}
	if !second.Cached || first.Cached {
		t.Errorf("Cached = %v/%v, want false/true", first.Cached, second.Cached)
	}
	if second.Artifact.Title != first.Artifact.Title {
		t.Error("cached artifact differs")
	}
}

func TestService_RecorderFailureIsIgnored(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)
	svc.SetRecorder(&recordingRecorder{err: errors.New("disk full")})

	if _, err := svc.GenerateExercise(context.Background(), validRaw()); err != nil {
		t.Fatalf("recorder errors must not fail the request: %v", err)
	}
}

func TestService_JobIDReachesRecorder(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)
	rec := &recordingRecorder{}
	svc.SetRecorder(rec)

	ctx := WithJobID(context.Background(), "job-1")
	if _, err := svc.GenerateExercise(ctx, validRaw()); err != nil {
		t.Fatal(err)
	}
	if rec.outcomes[0].JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", rec.outcomes[0].JobID)
	}
}

func TestService_DirectRouting(t *testing.T) {
	aggregator := &mockProvider{name: "openrouter", content: sampleExercise}
	claude := &mockProvider{name: "claude", content: sampleExercise}
	registry := llm.NewRegistry()
	registry.Register("openrouter", aggregator)
	registry.Register("claude", claude)

	svc := NewService(registry, ServiceConfig{DirectRouting: true})
	raw := validRaw()
	raw["modelId"] = "anthropic/claude-sonnet-4"

	res, err := svc.GenerateExercise(context.Background(), raw)
	if err != nil {
		t.Fatalf("GenerateExercise() error = %v", err)
	}
	if res.Provider != "claude" || claude.calls.Load() != 1 || aggregator.calls.Load() != 0 {
		t.Errorf("provider = %s, claude calls %d, aggregator calls %d", res.Provider, claude.calls.Load(), aggregator.calls.Load())
	}
	if claude.lastReq.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q, want vendor model name", claude.lastReq.Model)
	}
}

func TestService_NoProvider(t *testing.T) {
	svc := NewService(llm.NewRegistry(), ServiceConfig{})

	_, err := svc.GenerateExercise(context.Background(), validRaw())
	if StatusCode(err) != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502 (err %v)", StatusCode(err), err)
	}
}

const sampleTutorial = `{
  "title": "Reversing Strings",
  "description": "Three short lessons.",
  "tags": ["strings"],
  "learning_objectives": ["Reverse a string"],
  "lessons": [
    {"title": "Idea", "type": "concept", "content": "Walk backwards."},
    {"title": "Quiz", "type": "mcq", "content": "", "question": "Which?", "options": ["a","b","c","d"], "answer_index": 0, "explanation": "a"},
    {"title": "Try it", "type": "interactive_content", "content": "", "task": "Reverse", "starter_code": "# TODO", "solution": "s[::-1]"}
  ]
}`

func TestService_GenerateTutorial(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleTutorial}
	svc := newTestService(t, p)

	raw := validRaw()
	raw["lessonCount"] = float64(3)
	raw["focusAreas"] = "slicing"

	res, err := svc.GenerateTutorial(context.Background(), raw)
	if err != nil {
		t.Fatalf("GenerateTutorial() error = %v", err)
	}
	if len(res.Tutorial.Lessons) != 3 {
		t.Errorf("Lessons = %d, want 3", len(res.Tutorial.Lessons))
	}
	if p.lastReq.Schema.Name != "codehub_tutorial" {
		t.Errorf("Schema.Name = %q", p.lastReq.Schema.Name)
	}
	if !strings.Contains(p.lastReq.Messages[0].Content, "slicing") {
		t.Error("prompt should include the focus areas")
	}
}

func TestService_Generate(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)

	data, warnings, id, err := svc.Generate(context.Background(), KindExercise, validRaw())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if id == "" || warnings == nil || !json.Valid(data) {
		t.Errorf("Generate() = %s, %v, %q", data, warnings, id)
	}

	_, _, _, err = svc.Generate(context.Background(), Kind("quiz"), validRaw())
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("unknown kind StatusCode = %d, want 400", StatusCode(err))
	}
}

func TestService_PreviewPrompt(t *testing.T) {
	p := &mockProvider{name: "openrouter", content: sampleExercise}
	svc := newTestService(t, p)

	preview, err := svc.PreviewPrompt(validRaw(), KindExercise)
	if err != nil {
		t.Fatalf("PreviewPrompt() error = %v", err)
	}
	if !strings.Contains(preview.Prompt, "reverse a string") || preview.System == "" {
		t.Errorf("preview = %+v", preview)
	}
	if p.calls.Load() != 0 {
		t.Error("PreviewPrompt must not call a provider")
	}

	raw := validRaw()
	raw["difficulty"] = float64(5)
	if _, err := svc.PreviewPrompt(raw, KindExercise); StatusCode(err) != http.StatusBadRequest {
		t.Errorf("PreviewPrompt(difficulty 5) error = %v, want 400", err)
	}
}

func TestCacheKey(t *testing.T) {
	req := exerciseReq()
	a := CacheKey(KindExercise, req)
	b := CacheKey(KindExercise, req)
	if a != b {
		t.Error("CacheKey should be stable")
	}
	if !strings.HasPrefix(a, "codehub:gen:exercise:") {
		t.Errorf("CacheKey = %q", a)
	}
	if CacheKey(KindTutorial, req) == a {
		t.Error("kind should be part of the key")
	}
	req.ModelID = "openai/gpt-4o-mini"
	if CacheKey(KindExercise, req) == a {
		t.Error("model should be part of the key")
	}
}
