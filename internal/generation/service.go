package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/codehub/internal/llm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline states, in order. Each one is recorded as a span event.
const (
	StateReceived              = "received"
	StateStructurallyValidated = "structurally_validated"
	StateSanitized             = "sanitized"
	StateSemanticallyValidated = "semantically_validated"
	StatePromptBuilt           = "prompt_built"
	StateModelCalled           = "model_called"
	StateParsed                = "parsed"
	StateResponseValidated     = "response_validated"
	StateReturned              = "returned"
)

const tracerName = "github.com/felixgeelhaar/codehub/internal/generation"

// GenerationParams are the sampling parameters sent with every call.
type GenerationParams struct {
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// DefaultGenerationParams returns low-temperature parameters that favour
// repeatable output.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:        8000,
		Temperature:      0.3,
		TopP:             0.9,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.1,
	}
}

// Recorder persists pipeline outcomes. Implementations must not block for long.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Cache stores encoded results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Outcome is what a Recorder receives after a pipeline run that got past
// request validation.
type Outcome struct {
	GenerationID string
	JobID        string
	Kind         Kind
	Request      CanonicalRequest
	Provider     string
	Model        string
	Artifact     json.RawMessage
	Warnings     []string
	Usage        llm.Usage
	Err          error
	StartedAt    time.Time
	Duration     time.Duration
}

// ExerciseResult is a validated exercise with its generation metadata.
type ExerciseResult struct {
	Artifact     *Artifact `json:"artifact"`
	Warnings     []string  `json:"warnings"`
	Summary      Summary   `json:"summary"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Usage        llm.Usage `json:"usage"`
	GenerationID string    `json:"generation_id"`
	Cached       bool      `json:"cached,omitempty"`
}

// TutorialResult is a parsed tutorial with its generation metadata.
type TutorialResult struct {
	Tutorial     *Tutorial `json:"artifact"`
	Warnings     []string  `json:"warnings"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Usage        llm.Usage `json:"usage"`
	GenerationID string    `json:"generation_id"`
	Cached       bool      `json:"cached,omitempty"`
}

// PromptPreview is the output of PreviewPrompt.
type PromptPreview struct {
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

// ServiceConfig holds configuration for the generation service
type ServiceConfig struct {
	// Aggregator is the provider that serves every catalog id (default: openrouter)
	Aggregator string

	// DirectRouting sends vendor models to their native provider when registered
	DirectRouting bool

	Params  GenerationParams
	Catalog *ModelCatalog
	Builder *PromptBuilder
	Logger  *slog.Logger
}

// Service runs the generation pipeline
type Service struct {
	registry  llm.LLMRegistry
	catalog   *ModelCatalog
	builder   *PromptBuilder
	validator *ResponseValidator
	params    GenerationParams

	aggregator string
	direct     bool

	recorder Recorder
	cache    Cache

	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a new generation service
func NewService(registry llm.LLMRegistry, cfg ServiceConfig) *Service {
	if cfg.Aggregator == "" {
		cfg.Aggregator = "openrouter"
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Builder == nil {
		cfg.Builder = DefaultPromptBuilder()
	}
	if cfg.Params == (GenerationParams{}) {
		cfg.Params = DefaultGenerationParams()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		registry:   registry,
		catalog:    cfg.Catalog,
		builder:    cfg.Builder,
		validator:  NewResponseValidator(),
		params:     cfg.Params,
		aggregator: cfg.Aggregator,
		direct:     cfg.DirectRouting,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// SetRecorder attaches a history recorder
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetCache attaches a response cache
func (s *Service) SetCache(c Cache) {
	s.cache = c
}

// Catalog returns the model catalog
func (s *Service) Catalog() *ModelCatalog {
	return s.catalog
}

type jobIDKey struct{}

// WithJobID tags ctx with the async job that triggered a generation.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job id set by WithJobID, if any.
func JobIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey{}).(string); ok {
		return id
	}
	return ""
}

// CacheKey returns the cache key for a canonical request.
func CacheKey(kind Kind, req CanonicalRequest) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("codehub:gen:%s:%s", kind, hex.EncodeToString(sum[:]))
}

// run carries per-invocation state through the pipeline
type run struct {
	kind    Kind
	span    trace.Span
	started time.Time
	outcome Outcome
}

func (s *Service) transition(r *run, state string) {
	r.span.AddEvent(state)
	s.logger.Debug("generation state", "kind", r.kind, "state", state, "generation_id", r.outcome.GenerationID)
}

// prepare runs validation, sanitization and prompt building.
func (s *Service) prepare(r *run, raw map[string]any) (CanonicalRequest, string, error) {
	s.transition(r, StateReceived)

	var structural ValidationResult
	if r.kind == KindTutorial {
		structural = ValidateTutorialRequest(raw)
	} else {
		structural = ValidateRequest(raw)
	}
	if !structural.Valid {
		return CanonicalRequest{}, "", &ValidationError{Message: "Invalid request", Details: structural.Errors}
	}
	s.transition(r, StateStructurallyValidated)

	req := Sanitize(raw)
	s.transition(r, StateSanitized)

	semantic := ValidateParams(req, s.catalog)
	if !semantic.Valid {
		return req, "", &ValidationError{Message: "Invalid parameters", Details: semantic.Errors}
	}
	s.transition(r, StateSemanticallyValidated)

	prompt, err := s.builder.Build(r.kind, req)
	if err != nil {
		return req, "", err
	}
	s.transition(r, StatePromptBuilt)

	return req, prompt, nil
}

// call resolves the provider and performs the single model call.
func (s *Service) call(ctx context.Context, r *run, req CanonicalRequest, prompt string) (*llm.Response, error) {
	available := s.registry.List()
	direct := s.direct || !contains(available, s.aggregator)
	route := s.catalog.Resolve(req.ModelID, s.aggregator, direct, available)

	r.outcome.Provider = route.Provider
	r.outcome.Model = req.ModelID
	r.span.SetAttributes(
		attribute.String("codehub.provider", route.Provider),
		attribute.String("codehub.model", req.ModelID),
	)

	provider, err := s.registry.Get(route.Provider)
	if err != nil {
		return nil, &UpstreamProviderError{Provider: route.Provider, Err: err}
	}

	name, schema := SchemaFor(r.kind)
	resp, err := provider.Generate(ctx, &llm.Request{
		Model:            route.Model,
		System:           s.builder.SystemMessage(r.kind),
		Messages:         []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:        s.params.MaxTokens,
		Temperature:      s.params.Temperature,
		TopP:             s.params.TopP,
		FrequencyPenalty: s.params.FrequencyPenalty,
		PresencePenalty:  s.params.PresencePenalty,
		Schema:           &llm.ResponseSchema{Name: name, Schema: schema, Strict: true},
	})
	if err != nil {
		return nil, upstreamError(route.Provider, err)
	}
	s.transition(r, StateModelCalled)

	r.outcome.Usage = resp.Usage
	r.outcome.Artifact = json.RawMessage(resp.Content)
	return resp, nil
}

func upstreamError(provider string, err error) error {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamProviderError{
			Provider:   provider,
			StatusCode: apiErr.StatusCode,
			Status:     apiErr.Status,
			Err:        err,
		}
	}
	return &UpstreamProviderError{Provider: provider, Err: err}
}

func (s *Service) begin(ctx context.Context, kind Kind) (context.Context, *run) {
	ctx, span := s.tracer.Start(ctx, "generation."+string(kind))
	id := uuid.NewString()
	span.SetAttributes(attribute.String("codehub.generation_id", id))
	now := time.Now()
	return ctx, &run{
		kind:    kind,
		span:    span,
		started: now,
		outcome: Outcome{
			GenerationID: id,
			JobID:        JobIDFromContext(ctx),
			Kind:         kind,
			StartedAt:    now,
		},
	}
}

// finish records the outcome and closes the span. Validation failures are
// not recorded since they never produce a canonical request.
func (s *Service) finish(ctx context.Context, r *run, err error, recordable bool) {
	defer r.span.End()

	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else {
		s.transition(r, StateReturned)
	}

	if !recordable || s.recorder == nil {
		return
	}
	r.outcome.Err = err
	r.outcome.Duration = time.Since(r.started)
	if recErr := s.recorder.Record(ctx, r.outcome); recErr != nil {
		s.logger.Warn("failed to record generation", "generation_id", r.outcome.GenerationID, "error", recErr)
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GenerateExercise validates raw, builds the prompt, calls the model once and
// returns the parsed and validated exercise.
func (s *Service) GenerateExercise(ctx context.Context, raw map[string]any) (result *ExerciseResult, err error) {
	ctx, r := s.begin(ctx, KindExercise)
	recordable := false
	defer func() { s.finish(ctx, r, err, recordable) }()

	req, prompt, err := s.prepare(r, raw)
	if err != nil {
		return nil, err
	}
	r.outcome.Request = req

	key := CacheKey(KindExercise, req)
	var cached ExerciseResult
	if s.cacheGet(ctx, key, &cached) {
		cached.Cached = true
		r.span.SetAttributes(attribute.Bool("codehub.cached", true))
		return &cached, nil
	}
	recordable = true

	resp, err := s.call(ctx, r, req, prompt)
	if err != nil {
		return nil, err
	}

	artifact, err := ParseExercise(resp.Content)
	if err != nil {
		return nil, err
	}
	s.transition(r, StateParsed)

	report := s.validator.Validate(artifact, req.TargetLanguage)
	if !report.Valid {
		return nil, &ContentValidationError{Reason: report.Error}
	}
	s.transition(r, StateResponseValidated)

	r.outcome.Warnings = report.Warnings
	if len(report.Warnings) > 0 {
		s.logger.Warn("generated exercise has warnings",
			"model", req.ModelID,
			"generation_id", r.outcome.GenerationID,
			"warnings", report.Warnings)
	}

	result = &ExerciseResult{
		Artifact:     artifact,
		Warnings:     nonNil(report.Warnings),
		Summary:      report.Summary,
		Model:        req.ModelID,
		Provider:     r.outcome.Provider,
		Usage:        resp.Usage,
		GenerationID: r.outcome.GenerationID,
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// GenerateTutorial runs the pipeline for a multi-lesson tutorial. Tutorials
// are not passed through the exercise response validator.
func (s *Service) GenerateTutorial(ctx context.Context, raw map[string]any) (result *TutorialResult, err error) {
	ctx, r := s.begin(ctx, KindTutorial)
	recordable := false
	defer func() { s.finish(ctx, r, err, recordable) }()

	req, prompt, err := s.prepare(r, raw)
	if err != nil {
		return nil, err
	}
	r.outcome.Request = req

	key := CacheKey(KindTutorial, req)
	var cached TutorialResult
	if s.cacheGet(ctx, key, &cached) {
		cached.Cached = true
		r.span.SetAttributes(attribute.Bool("codehub.cached", true))
		return &cached, nil
	}
	recordable = true

	resp, err := s.call(ctx, r, req, prompt)
	if err != nil {
		return nil, err
	}

	tutorial, err := ParseTutorial(resp.Content)
	if err != nil {
		return nil, err
	}
	s.transition(r, StateParsed)

	if len(tutorial.decodeWarnings) > 0 {
		s.logger.Warn("generated tutorial has warnings",
			"model", req.ModelID,
			"generation_id", r.outcome.GenerationID,
			"warnings", tutorial.decodeWarnings)
	}
	r.outcome.Warnings = tutorial.decodeWarnings

	result = &TutorialResult{
		Tutorial:     tutorial,
		Warnings:     nonNil(tutorial.decodeWarnings),
		Model:        req.ModelID,
		Provider:     r.outcome.Provider,
		Usage:        resp.Usage,
		GenerationID: r.outcome.GenerationID,
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// Generate dispatches on kind and returns the encoded artifact, its warnings
// and the generation id. It is the entry point for async workers.
func (s *Service) Generate(ctx context.Context, kind Kind, raw map[string]any) (json.RawMessage, []string, string, error) {
	switch kind {
	case KindTutorial:
		res, err := s.GenerateTutorial(ctx, raw)
		if err != nil {
			return nil, nil, "", err
		}
		data, err := json.Marshal(res.Tutorial)
		return data, res.Warnings, res.GenerationID, err
	case KindExercise, "":
		res, err := s.GenerateExercise(ctx, raw)
		if err != nil {
			return nil, nil, "", err
		}
		data, err := json.Marshal(res.Artifact)
		return data, res.Warnings, res.GenerationID, err
	default:
		return nil, nil, "", &ValidationError{Message: "Invalid request", Details: []string{fmt.Sprintf("unknown kind %q", kind)}}
	}
}

// PreviewPrompt validates raw and returns the prompt that would be sent.
// It never calls a provider.
func (s *Service) PreviewPrompt(raw map[string]any, kind Kind) (*PromptPreview, error) {
	r := &run{kind: kind, span: trace.SpanFromContext(context.Background())}
	_, prompt, err := s.prepare(r, raw)
	if err != nil {
		return nil, err
	}
	return &PromptPreview{
		System: s.builder.SystemMessage(kind),
		Prompt: prompt,
	}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
