package generation

import (
	"encoding/json"
	"strings"
	"testing"
)

func validRaw() map[string]any {
	return map[string]any{
		"topicOrQuestion": "reverse a string",
		"targetLanguage":  "python",
		"difficulty":      float64(1),
		"modelId":         "google/gemini-2.5-flash-lite",
	}
}

func containsError(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(map[string]any)
		wantValid bool
		wantErrs  []string
	}{
		{
			name:      "valid",
			mutate:    func(map[string]any) {},
			wantValid: true,
		},
		{
			name:     "missing topic",
			mutate:   func(m map[string]any) { delete(m, "topicOrQuestion") },
			wantErrs: []string{"topicOrQuestion is required"},
		},
		{
			name:     "missing language",
			mutate:   func(m map[string]any) { delete(m, "targetLanguage") },
			wantErrs: []string{"targetLanguage is required"},
		},
		{
			name:     "missing model",
			mutate:   func(m map[string]any) { delete(m, "modelId") },
			wantErrs: []string{"modelId is required"},
		},
		{
			name:     "missing difficulty",
			mutate:   func(m map[string]any) { delete(m, "difficulty") },
			wantErrs: []string{"difficulty is required"},
		},
		{
			name:     "null topic",
			mutate:   func(m map[string]any) { m["topicOrQuestion"] = nil },
			wantErrs: []string{"topicOrQuestion is required"},
		},
		{
			name:     "topic not a string",
			mutate:   func(m map[string]any) { m["topicOrQuestion"] = float64(42) },
			wantErrs: []string{"topicOrQuestion must be a string"},
		},
		{
			name:     "difficulty not a number",
			mutate:   func(m map[string]any) { m["difficulty"] = "hard" },
			wantErrs: []string{"difficulty must be a number"},
		},
		{
			name:     "difficulty out of range",
			mutate:   func(m map[string]any) { m["difficulty"] = float64(7) },
			wantErrs: []string{"difficulty must be an integer between 1 and 5"},
		},
		{
			name:     "difficulty fractional",
			mutate:   func(m map[string]any) { m["difficulty"] = 1.5 },
			wantErrs: []string{"difficulty must be an integer between 1 and 5"},
		},
		{
			name:      "difficulty numeric string",
			mutate:    func(m map[string]any) { m["difficulty"] = "2" },
			wantValid: true,
		},
		{
			name:     "exclusions not a string",
			mutate:   func(m map[string]any) { m["exclusions"] = []any{"loops"} },
			wantErrs: []string{"exclusions must be a string"},
		},
		{
			name: "errors are collected",
			mutate: func(m map[string]any) {
				delete(m, "topicOrQuestion")
				m["difficulty"] = float64(7)
			},
			wantErrs: []string{"topicOrQuestion is required", "difficulty must be an integer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)

			got := ValidateRequest(raw)
			if got.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (errors %v)", got.Valid, tt.wantValid, got.Errors)
			}
			if len(got.Errors) != len(tt.wantErrs) {
				t.Errorf("Errors = %v, want %d entries", got.Errors, len(tt.wantErrs))
			}
			for _, want := range tt.wantErrs {
				if !containsError(got.Errors, want) {
					t.Errorf("Errors = %v, missing %q", got.Errors, want)
				}
			}
		})
	}
}

func TestValidateTutorialRequest(t *testing.T) {
	raw := validRaw()
	raw["focusAreas"] = "recursion"
	raw["lessonCount"] = float64(4)
	if got := ValidateTutorialRequest(raw); !got.Valid {
		t.Fatalf("ValidateTutorialRequest() errors = %v", got.Errors)
	}

	raw["lessonCount"] = float64(11)
	raw["focusAreas"] = true
	got := ValidateTutorialRequest(raw)
	if got.Valid {
		t.Fatal("expected invalid tutorial request")
	}
	if !containsError(got.Errors, "lessonCount must be an integer between 1 and 10") {
		t.Errorf("Errors = %v, missing lessonCount error", got.Errors)
	}
	if !containsError(got.Errors, "focusAreas must be a string") {
		t.Errorf("Errors = %v, missing focusAreas error", got.Errors)
	}
}

func TestSanitize(t *testing.T) {
	raw := map[string]any{
		"topicOrQuestion": "  reverse a string  ",
		"targetLanguage":  "\tgo\n",
		"difficulty":      "3",
		"modelId":         " openai/gpt-4o-mini ",
		"exclusions":      "  recursion ",
	}

	got := Sanitize(raw)

	want := CanonicalRequest{
		TopicOrQuestion: "reverse a string",
		TargetLanguage:  "go",
		Difficulty:      3,
		ModelID:         "openai/gpt-4o-mini",
		Exclusions:      "recursion",
		LessonCount:     DefaultLessons,
	}
	if got != want {
		t.Errorf("Sanitize() = %+v, want %+v", got, want)
	}
}

func TestSanitize_Defaults(t *testing.T) {
	tests := []struct {
		name       string
		difficulty any
		want       int
	}{
		{"absent", nil, 1},
		{"zero", float64(0), 1},
		{"garbage", "hard", 1},
		{"json number", json.Number("2"), 2},
		{"float truncates", 2.9, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{"difficulty": tt.difficulty}
			if got := Sanitize(raw).Difficulty; got != tt.want {
				t.Errorf("Difficulty = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitize_DoesNotMutateInput(t *testing.T) {
	raw := validRaw()
	raw["topicOrQuestion"] = "  padded  "
	_ = Sanitize(raw)
	if raw["topicOrQuestion"] != "  padded  " {
		t.Error("Sanitize() must not modify the raw request")
	}
}

func TestValidateParams(t *testing.T) {
	base := CanonicalRequest{
		TopicOrQuestion: "reverse a string",
		TargetLanguage:  "python",
		Difficulty:      1,
		ModelID:         "google/gemini-2.5-flash-lite",
	}

	tests := []struct {
		name    string
		mutate  func(*CanonicalRequest)
		wantErr string
	}{
		{"valid", func(*CanonicalRequest) {}, ""},
		{"topic too short", func(r *CanonicalRequest) { r.TopicOrQuestion = "ab" }, "topicOrQuestion must be between 3 and 500 characters"},
		{"topic too long", func(r *CanonicalRequest) { r.TopicOrQuestion = strings.Repeat("x", 501) }, "topicOrQuestion must be between 3 and 500 characters"},
		{"topic at bound", func(r *CanonicalRequest) { r.TopicOrQuestion = strings.Repeat("é", 500) }, ""},
		{"empty language", func(r *CanonicalRequest) { r.TargetLanguage = "" }, "targetLanguage must not be empty"},
		{"unknown model", func(r *CanonicalRequest) { r.ModelID = "not-a-real-model" }, `modelId "not-a-real-model" is not supported`},
		{"exclusions too long", func(r *CanonicalRequest) { r.Exclusions = strings.Repeat("x", 1001) }, "exclusions must be at most 1000 characters"},
		{"focus too long", func(r *CanonicalRequest) { r.FocusAreas = strings.Repeat("x", 1001) }, "focusAreas must be at most 1000 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)

			got := ValidateParams(req, nil)
			if tt.wantErr == "" {
				if !got.Valid {
					t.Errorf("ValidateParams() errors = %v", got.Errors)
				}
				return
			}
			if got.Valid {
				t.Fatal("ValidateParams() should fail")
			}
			if !containsError(got.Errors, tt.wantErr) {
				t.Errorf("Errors = %v, want %q", got.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateParams_UnknownModelListsOptions(t *testing.T) {
	req := CanonicalRequest{TopicOrQuestion: "abc", TargetLanguage: "go", Difficulty: 1, ModelID: "nope"}
	got := ValidateParams(req, DefaultCatalog())
	for _, id := range DefaultCatalog().IDs() {
		if !containsError(got.Errors, id) {
			t.Errorf("error should list %s, got %v", id, got.Errors)
		}
	}
}
