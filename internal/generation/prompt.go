package generation

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.yaml
var promptFS embed.FS

// Fragments is the named instructional text a prompt is assembled from.
// Topic, FocusAreas, Exclusions and LessonCount are text/template sources
// rendered against the request.
type Fragments struct {
	System           string         `yaml:"system"`
	CoreRequirements string         `yaml:"core_requirements"`
	CodeFormatting   string         `yaml:"code_formatting"`
	VisualElements   string         `yaml:"visual_elements"`
	MermaidRules     string         `yaml:"mermaid_rules"`
	BoilerplateRules string         `yaml:"boilerplate_rules"`
	WorkedExamples   string         `yaml:"worked_examples"`
	LessonTypes      string         `yaml:"lesson_types"`
	ObjectivesTags   string         `yaml:"objectives_tags"`
	Difficulty       map[int]string `yaml:"difficulty"`
	Topic            string         `yaml:"topic"`
	FocusAreas       string         `yaml:"focus_areas"`
	Exclusions       string         `yaml:"exclusions"`
	LessonCount      string         `yaml:"lesson_count"`
	Checklist        string         `yaml:"checklist"`
}

// SupportedDifficulties returns the levels that have a difficulty context.
func (f *Fragments) SupportedDifficulties() []int {
	levels := make([]int, 0, len(f.Difficulty))
	for level := range f.Difficulty {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// ParseFragments decodes a YAML fragment document.
func ParseFragments(data []byte) (*Fragments, error) {
	var f Fragments
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt fragments: %w", err)
	}
	if strings.TrimSpace(f.Topic) == "" {
		return nil, fmt.Errorf("parse prompt fragments: topic fragment is required")
	}
	return &f, nil
}

// LoadFragments reads a YAML fragment document from disk.
func LoadFragments(path string) (*Fragments, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt fragments: %w", err)
	}
	return ParseFragments(data)
}

// DefaultFragments returns the built-in fragments for a kind.
func DefaultFragments(kind Kind) (*Fragments, error) {
	name := "prompts/exercise.yaml"
	if kind == KindTutorial {
		name = "prompts/tutorial.yaml"
	}
	data, err := promptFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read embedded fragments: %w", err)
	}
	return ParseFragments(data)
}

type promptData struct {
	Topic       string
	Language    string
	Exclusions  string
	FocusAreas  string
	LessonCount int
}

type compiledFragments struct {
	*Fragments
	topic       *template.Template
	focusAreas  *template.Template
	exclusions  *template.Template
	lessonCount *template.Template
}

func compile(f *Fragments) (*compiledFragments, error) {
	c := &compiledFragments{Fragments: f}
	var err error
	for _, t := range []struct {
		name string
		src  string
		dst  **template.Template
	}{
		{"topic", f.Topic, &c.topic},
		{"focus_areas", f.FocusAreas, &c.focusAreas},
		{"exclusions", f.Exclusions, &c.exclusions},
		{"lesson_count", f.LessonCount, &c.lessonCount},
	} {
		if t.src == "" {
			continue
		}
		*t.dst, err = template.New(t.name).Option("missingkey=zero").Parse(t.src)
		if err != nil {
			return nil, fmt.Errorf("%s template parse: %w", t.name, err)
		}
	}
	return c, nil
}

func render(t *template.Template, data promptData) (string, error) {
	if t == nil {
		return "", nil
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

// PromptBuilder assembles generation prompts from fragments. It does no I/O
// after construction and is safe for concurrent use.
type PromptBuilder struct {
	exercise *compiledFragments
	tutorial *compiledFragments
}

// NewPromptBuilder creates a builder from exercise and tutorial fragments.
func NewPromptBuilder(exercise, tutorial *Fragments) (*PromptBuilder, error) {
	ex, err := compile(exercise)
	if err != nil {
		return nil, fmt.Errorf("exercise fragments: %w", err)
	}
	tu, err := compile(tutorial)
	if err != nil {
		return nil, fmt.Errorf("tutorial fragments: %w", err)
	}
	return &PromptBuilder{exercise: ex, tutorial: tu}, nil
}

// NewPromptBuilderFromDir loads exercise.yaml and tutorial.yaml from dir,
// falling back to the built-in fragments for any file that is missing.
func NewPromptBuilderFromDir(dir string) (*PromptBuilder, error) {
	load := func(kind Kind) (*Fragments, error) {
		path := filepath.Join(dir, string(kind)+".yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return DefaultFragments(kind)
		}
		return LoadFragments(path)
	}

	exercise, err := load(KindExercise)
	if err != nil {
		return nil, err
	}
	tutorial, err := load(KindTutorial)
	if err != nil {
		return nil, err
	}
	return NewPromptBuilder(exercise, tutorial)
}

var defaultBuilder = mustDefaultBuilder()

func mustDefaultBuilder() *PromptBuilder {
	exercise, err := DefaultFragments(KindExercise)
	if err != nil {
		panic(err)
	}
	tutorial, err := DefaultFragments(KindTutorial)
	if err != nil {
		panic(err)
	}
	b, err := NewPromptBuilder(exercise, tutorial)
	if err != nil {
		panic(err)
	}
	return b
}

// DefaultPromptBuilder returns the builder over the built-in fragments.
func DefaultPromptBuilder() *PromptBuilder {
	return defaultBuilder
}

// SystemMessage returns the system role instruction for a kind.
func (b *PromptBuilder) SystemMessage(kind Kind) string {
	if kind == KindTutorial {
		return strings.TrimSpace(b.tutorial.System)
	}
	return strings.TrimSpace(b.exercise.System)
}

// Build dispatches to the builder for kind.
func (b *PromptBuilder) Build(kind Kind, req CanonicalRequest) (string, error) {
	if kind == KindTutorial {
		return b.BuildTutorialPrompt(req)
	}
	return b.BuildExercisePrompt(req)
}

// BuildExercisePrompt assembles the exercise prompt. The same request always
// yields the same text.
func (b *PromptBuilder) BuildExercisePrompt(req CanonicalRequest) (string, error) {
	f := b.exercise
	difficulty, err := difficultyContext(f, req.Difficulty)
	if err != nil {
		return "", err
	}

	data := dataFor(req)
	topic, err := render(f.topic, data)
	if err != nil {
		return "", err
	}

	sections := []string{
		f.CoreRequirements,
		f.CodeFormatting,
		f.VisualElements,
		f.MermaidRules,
		f.BoilerplateRules,
		f.WorkedExamples,
		f.ObjectivesTags,
		difficulty,
		topic,
	}

	if req.Exclusions != "" {
		exclusions, err := render(f.exclusions, data)
		if err != nil {
			return "", err
		}
		sections = append(sections, exclusions)
	}

	sections = append(sections, f.Checklist)
	return joinSections(sections), nil
}

// BuildTutorialPrompt assembles the tutorial prompt.
func (b *PromptBuilder) BuildTutorialPrompt(req CanonicalRequest) (string, error) {
	f := b.tutorial
	difficulty, err := difficultyContext(f, req.Difficulty)
	if err != nil {
		return "", err
	}

	data := dataFor(req)
	topic, err := render(f.topic, data)
	if err != nil {
		return "", err
	}

	sections := []string{
		f.CoreRequirements,
		f.LessonTypes,
		f.ObjectivesTags,
		difficulty,
		topic,
	}

	if req.FocusAreas != "" {
		focus, err := render(f.focusAreas, data)
		if err != nil {
			return "", err
		}
		sections = append(sections, focus)
	}
	if req.Exclusions != "" {
		exclusions, err := render(f.exclusions, data)
		if err != nil {
			return "", err
		}
		sections = append(sections, exclusions)
	}

	count, err := render(f.lessonCount, data)
	if err != nil {
		return "", err
	}
	sections = append(sections, count, f.Checklist)
	return joinSections(sections), nil
}

func difficultyContext(f *compiledFragments, level int) (string, error) {
	text, ok := f.Difficulty[level]
	if !ok || strings.TrimSpace(text) == "" {
		return "", &UnsupportedDifficultyError{Difficulty: level, Supported: f.SupportedDifficulties()}
	}
	return text, nil
}

func dataFor(req CanonicalRequest) promptData {
	lessons := req.LessonCount
	if lessons <= 0 {
		lessons = DefaultLessons
	}
	return promptData{
		Topic:       req.TopicOrQuestion,
		Language:    req.TargetLanguage,
		Exclusions:  req.Exclusions,
		FocusAreas:  req.FocusAreas,
		LessonCount: lessons,
	}
}

func joinSections(sections []string) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}
