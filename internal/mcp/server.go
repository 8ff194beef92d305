package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/codehub/internal/generation"
)

// GenerationService is the part of generation.Service the tools call.
type GenerationService interface {
	GenerateExercise(ctx context.Context, raw map[string]any) (*generation.ExerciseResult, error)
	GenerateTutorial(ctx context.Context, raw map[string]any) (*generation.TutorialResult, error)
	PreviewPrompt(raw map[string]any, kind generation.Kind) (*generation.PromptPreview, error)
	Catalog() *generation.ModelCatalog
}

// Server wraps the MCP server with codehub generation tools
type Server struct {
	mcpServer  *server.Server
	generation GenerationService
}

// Config contains configuration for the MCP server
type Config struct {
	Generation GenerationService
	Version    string
}

// NewServer creates a new MCP server for codehub
func NewServer(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	s := &Server{
		generation: cfg.Generation,
	}

	s.mcpServer = server.New(server.Info{
		Name:    "codehub",
		Version: cfg.Version,
	}, server.WithInstructions(`
CodeHub generates programming exercises and multi-lesson tutorials with an LLM.

Available tools:
- codehub_generate_exercise: Generate a validated exercise (solution, boilerplate, hints, diagrams)
- codehub_generate_tutorial: Generate a tutorial made of text, quiz and code lessons
- codehub_preview_prompt: Show the prompt that would be sent for a request, without calling a model
- codehub_list_models: List the model ids accepted in modelId

Difficulty is 1 (beginner), 2 (intermediate) or 3 (advanced).
`))

	s.registerTools()

	return s
}

// registerTools registers all codehub MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("codehub_generate_exercise").
		Description("Generate a programming exercise for a topic, language and difficulty.").
		Handler(s.handleGenerateExercise)

	s.mcpServer.Tool("codehub_generate_tutorial").
		Description("Generate a multi-lesson tutorial for a topic, language and difficulty.").
		Handler(s.handleGenerateTutorial)

	s.mcpServer.Tool("codehub_preview_prompt").
		Description("Render the system message and prompt for a request without calling a model.").
		Handler(s.handlePreviewPrompt)

	s.mcpServer.Tool("codehub_list_models").
		Description("List the supported model ids.").
		Handler(s.handleListModels)
}

// Input/Output types for tools

type ExerciseInput struct {
	TopicOrQuestion string `json:"topicOrQuestion" jsonschema:"description=Topic or question the exercise is about"`
	TargetLanguage  string `json:"targetLanguage" jsonschema:"description=Programming language of the exercise"`
	Difficulty      int    `json:"difficulty" jsonschema:"description=1 beginner / 2 intermediate / 3 advanced,minimum=1,maximum=3"`
	ModelID         string `json:"modelId" jsonschema:"description=Model id from codehub_list_models"`
	Exclusions      string `json:"exclusions,omitempty" jsonschema:"description=Things the exercise must avoid"`
}

type TutorialInput struct {
	TopicOrQuestion string `json:"topicOrQuestion" jsonschema:"description=Topic or question the tutorial is about"`
	TargetLanguage  string `json:"targetLanguage" jsonschema:"description=Programming language of the tutorial"`
	Difficulty      int    `json:"difficulty" jsonschema:"description=1 beginner / 2 intermediate / 3 advanced,minimum=1,maximum=3"`
	ModelID         string `json:"modelId" jsonschema:"description=Model id from codehub_list_models"`
	FocusAreas      string `json:"focusAreas,omitempty" jsonschema:"description=Areas the tutorial should emphasize"`
	LessonCount     int    `json:"lessonCount,omitempty" jsonschema:"description=Number of lessons (default 5)"`
}

type PreviewInput struct {
	Kind string `json:"kind" jsonschema:"description=What to preview,enum=exercise,enum=tutorial"`
	TutorialInput
}

type ExerciseOutput struct {
	Artifact     *generation.Artifact `json:"artifact"`
	Warnings     []string             `json:"warnings"`
	Summary      generation.Summary   `json:"summary"`
	Model        string               `json:"model"`
	GenerationID string               `json:"generation_id"`
}

type TutorialOutput struct {
	Tutorial     *generation.Tutorial `json:"artifact"`
	Warnings     []string             `json:"warnings"`
	LessonCount  int                  `json:"lesson_count"`
	Model        string               `json:"model"`
	GenerationID string               `json:"generation_id"`
}

type PreviewOutput struct {
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type ListModelsInput struct{}

type ListModelsOutput struct {
	Models []generation.Model `json:"models"`
}

// Tool handlers

func (s *Server) handleGenerateExercise(ctx context.Context, input ExerciseInput) (ExerciseOutput, error) {
	result, err := s.generation.GenerateExercise(ctx, input.raw())
	if err != nil {
		return ExerciseOutput{}, toolError(err)
	}

	return ExerciseOutput{
		Artifact:     result.Artifact,
		Warnings:     result.Warnings,
		Summary:      result.Summary,
		Model:        result.Model,
		GenerationID: result.GenerationID,
	}, nil
}

func (s *Server) handleGenerateTutorial(ctx context.Context, input TutorialInput) (TutorialOutput, error) {
	result, err := s.generation.GenerateTutorial(ctx, input.raw())
	if err != nil {
		return TutorialOutput{}, toolError(err)
	}

	out := TutorialOutput{
		Tutorial:     result.Tutorial,
		Warnings:     result.Warnings,
		Model:        result.Model,
		GenerationID: result.GenerationID,
	}
	if result.Tutorial != nil {
		out.LessonCount = len(result.Tutorial.Lessons)
	}
	return out, nil
}

func (s *Server) handlePreviewPrompt(ctx context.Context, input PreviewInput) (PreviewOutput, error) {
	kind := generation.Kind(input.Kind)
	if kind == "" {
		kind = generation.KindExercise
	}
	if kind != generation.KindExercise && kind != generation.KindTutorial {
		return PreviewOutput{}, fmt.Errorf("unknown kind %q (exercise, tutorial)", input.Kind)
	}

	preview, err := s.generation.PreviewPrompt(input.raw(), kind)
	if err != nil {
		return PreviewOutput{}, toolError(err)
	}
	return PreviewOutput{System: preview.System, Prompt: preview.Prompt}, nil
}

func (s *Server) handleListModels(ctx context.Context, input ListModelsInput) (ListModelsOutput, error) {
	return ListModelsOutput{Models: s.generation.Catalog().List()}, nil
}

func (in ExerciseInput) raw() map[string]any {
	raw := map[string]any{
		generation.FieldTopic:      in.TopicOrQuestion,
		generation.FieldLanguage:   in.TargetLanguage,
		generation.FieldDifficulty: float64(in.Difficulty),
		generation.FieldModelID:    in.ModelID,
	}
	if in.Exclusions != "" {
		raw[generation.FieldExclusions] = in.Exclusions
	}
	return raw
}

func (in TutorialInput) raw() map[string]any {
	raw := map[string]any{
		generation.FieldTopic:      in.TopicOrQuestion,
		generation.FieldLanguage:   in.TargetLanguage,
		generation.FieldDifficulty: float64(in.Difficulty),
		generation.FieldModelID:    in.ModelID,
	}
	if in.FocusAreas != "" {
		raw[generation.FieldFocusAreas] = in.FocusAreas
	}
	if in.LessonCount != 0 {
		raw[generation.FieldLessonCount] = float64(in.LessonCount)
	}
	return raw
}

// toolError flattens a pipeline error into the message and details the
// HTTP API would return.
func toolError(err error) error {
	msg, details := generation.ErrorBody(err)
	if len(details) == 0 {
		return fmt.Errorf("%s", msg)
	}
	b, _ := json.Marshal(details)
	return fmt.Errorf("%s: %s", msg, b)
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
