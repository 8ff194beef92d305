package generation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Request field names as they appear on the wire.
const (
	FieldTopic       = "topicOrQuestion"
	FieldLanguage    = "targetLanguage"
	FieldDifficulty  = "difficulty"
	FieldModelID     = "modelId"
	FieldExclusions  = "exclusions"
	FieldFocusAreas  = "focusAreas"
	FieldLessonCount = "lessonCount"
)

// Bounds enforced by the validators.
const (
	MinDifficulty     = 1
	MaxDifficulty     = 5
	MinTopicLength    = 3
	MaxTopicLength    = 500
	MaxExclusions     = 1000
	MaxFocusAreas     = 1000
	MinLessonCount    = 1
	MaxLessonCount    = 10
	DefaultLessons    = 3
	defaultDifficulty = 1
)

// Kind identifies the artifact variant being generated.
type Kind string

const (
	KindExercise Kind = "exercise"
	KindTutorial Kind = "tutorial"
)

// ValidationResult collects every violation found in a request.
type ValidationResult struct {
	Valid  bool     `json:"isValid"`
	Errors []string `json:"errors"`
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func newResult() ValidationResult {
	return ValidationResult{Valid: true, Errors: []string{}}
}

// CanonicalRequest is the sanitized form of a generation request.
type CanonicalRequest struct {
	TopicOrQuestion string `json:"topicOrQuestion"`
	TargetLanguage  string `json:"targetLanguage"`
	Difficulty      int    `json:"difficulty"`
	ModelID         string `json:"modelId"`
	Exclusions      string `json:"exclusions,omitempty"`
	FocusAreas      string `json:"focusAreas,omitempty"`
	LessonCount     int    `json:"lessonCount,omitempty"`
}

// ValidateRequest checks the shape of a raw exercise request before any
// coercion happens. All violations are collected.
func ValidateRequest(raw map[string]any) ValidationResult {
	result := newResult()

	requireString(&result, raw, FieldTopic)
	requireString(&result, raw, FieldLanguage)

	if v, ok := raw[FieldDifficulty]; !ok || v == nil {
		result.addError("%s is required", FieldDifficulty)
	} else if n, ok := toNumber(v); !ok {
		result.addError("%s must be a number", FieldDifficulty)
	} else if n != math.Trunc(n) || n < MinDifficulty || n > MaxDifficulty {
		result.addError("%s must be an integer between %d and %d", FieldDifficulty, MinDifficulty, MaxDifficulty)
	}

	requireString(&result, raw, FieldModelID)
	optionalString(&result, raw, FieldExclusions)

	return result
}

// ValidateTutorialRequest applies the exercise checks plus the tutorial-only
// fields.
func ValidateTutorialRequest(raw map[string]any) ValidationResult {
	result := ValidateRequest(raw)

	optionalString(&result, raw, FieldFocusAreas)

	if v, ok := raw[FieldLessonCount]; ok && v != nil {
		n, ok := toNumber(v)
		if !ok {
			result.addError("%s must be a number", FieldLessonCount)
		} else if n != math.Trunc(n) || n < MinLessonCount || n > MaxLessonCount {
			result.addError("%s must be an integer between %d and %d", FieldLessonCount, MinLessonCount, MaxLessonCount)
		}
	}

	return result
}

func requireString(result *ValidationResult, raw map[string]any, field string) {
	v, ok := raw[field]
	if !ok || v == nil {
		result.addError("%s is required", field)
		return
	}
	if _, ok := v.(string); !ok {
		result.addError("%s must be a string", field)
	}
}

func optionalString(result *ValidationResult, raw map[string]any, field string) {
	v, ok := raw[field]
	if !ok || v == nil {
		return
	}
	if _, ok := v.(string); !ok {
		result.addError("%s must be a string", field)
	}
}

// Sanitize coerces a raw request into its canonical form. It never fails:
// value correctness is the validators' job.
func Sanitize(raw map[string]any) CanonicalRequest {
	req := CanonicalRequest{
		TopicOrQuestion: coerceString(raw[FieldTopic]),
		TargetLanguage:  coerceString(raw[FieldLanguage]),
		Difficulty:      coerceInt(raw[FieldDifficulty], defaultDifficulty),
		ModelID:         coerceString(raw[FieldModelID]),
		Exclusions:      coerceString(raw[FieldExclusions]),
		FocusAreas:      coerceString(raw[FieldFocusAreas]),
		LessonCount:     coerceInt(raw[FieldLessonCount], DefaultLessons),
	}
	return req
}

// ValidateParams runs the value-aware checks on a sanitized request.
func ValidateParams(req CanonicalRequest, catalog *ModelCatalog) ValidationResult {
	result := newResult()

	topicLen := utf8.RuneCountInString(req.TopicOrQuestion)
	if topicLen < MinTopicLength || topicLen > MaxTopicLength {
		result.addError("%s must be between %d and %d characters", FieldTopic, MinTopicLength, MaxTopicLength)
	}

	if utf8.RuneCountInString(req.TargetLanguage) < 1 {
		result.addError("%s must not be empty", FieldLanguage)
	}

	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if _, ok := catalog.Lookup(req.ModelID); !ok {
		result.addError("%s %q is not supported; valid options: %s", FieldModelID, req.ModelID, strings.Join(catalog.IDs(), ", "))
	}

	if utf8.RuneCountInString(req.Exclusions) > MaxExclusions {
		result.addError("%s must be at most %d characters", FieldExclusions, MaxExclusions)
	}
	if utf8.RuneCountInString(req.FocusAreas) > MaxFocusAreas {
		result.addError("%s must be at most %d characters", FieldFocusAreas, MaxFocusAreas)
	}

	return result
}

func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case bool:
		if !s {
			return ""
		}
		return "true"
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// coerceInt truncates numeric values. Zero, NaN and non-numeric values
// yield fallback.
func coerceInt(v any, fallback int) int {
	n, ok := toNumber(v)
	if !ok || n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return fallback
	}
	return int(math.Trunc(n))
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
