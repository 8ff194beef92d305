package generation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Heuristic thresholds for code completeness warnings.
const (
	MinSolutionLength    = 50
	MinBoilerplateLength = 30
)

// ValidationReport is the outcome of checking a generated artifact. Error is
// set only for hard failures; warnings never affect Valid.
type ValidationReport struct {
	Valid    bool     `json:"isValid"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings"`
	Summary  Summary  `json:"summary"`
}

// Summary describes the shape of a validated artifact.
type Summary struct {
	ExecutionSteps    int  `json:"execution_steps"`
	Concepts          int  `json:"concepts"`
	Hints             int  `json:"hints"`
	Explanations      int  `json:"explanations"`
	SolutionLength    int  `json:"solution_length"`
	BoilerplateLength int  `json:"boilerplate_length"`
	HasMermaid        bool `json:"has_mermaid"`
	WarningCount      int  `json:"warning_count"`
}

var (
	htmlCodeTag   = regexp.MustCompile(`(?i)</?(pre|code)\b`)
	codeRefMarker = regexp.MustCompile(`\[(\d+)\]`)
)

// ResponseValidator checks generated artifacts against the structural
// contract and the soft heuristics.
type ResponseValidator struct{}

// NewResponseValidator creates a new response validator
func NewResponseValidator() *ResponseValidator {
	return &ResponseValidator{}
}

// ValidateArtifact validates an artifact with the default validator.
func ValidateArtifact(a *Artifact, targetLanguage string) ValidationReport {
	return NewResponseValidator().Validate(a, targetLanguage)
}

// Validate runs the hard structural checks followed by the soft heuristics.
func (v *ResponseValidator) Validate(a *Artifact, targetLanguage string) ValidationReport {
	report := ValidationReport{
		Valid:    true,
		Warnings: []string{},
	}

	if a == nil {
		report.Valid = false
		report.Error = "artifact is empty"
		return report
	}

	report.Warnings = append(report.Warnings, a.decodeWarnings...)

	v.checkStructure(a, &report)
	if !report.Valid {
		report.Summary = summarize(a, report.Warnings)
		return report
	}

	v.checkCodeFormat(a, &report)
	v.checkCompleteness(a, targetLanguage, &report)
	v.checkMermaid(a, &report)
	v.checkExecutionSteps(a, &report)
	v.checkExplanations(a, &report)

	report.Summary = summarize(a, report.Warnings)
	return report
}

func (v *ResponseValidator) checkStructure(a *Artifact, report *ValidationReport) {
	switch {
	case a.VisualElements == nil:
		report.Valid = false
		report.Error = "missing visual_elements: execution_steps and concepts are required"
	case a.VisualElements.ExecutionSteps == nil:
		report.Valid = false
		report.Error = "visual_elements.execution_steps is missing or not a list"
	case a.VisualElements.Concepts == nil:
		report.Valid = false
		report.Error = "visual_elements.concepts is missing or not a list"
	}
}

func (v *ResponseValidator) checkCodeFormat(a *Artifact, report *ValidationReport) {
	if htmlCodeTag.MatchString(a.SolutionCode) {
		report.Warnings = append(report.Warnings, "solution_code contains HTML formatting (<pre>/<code>); code must be plain text")
	}
	if htmlCodeTag.MatchString(a.BoilerplateCode) {
		report.Warnings = append(report.Warnings, "boilerplate_code contains HTML formatting (<pre>/<code>); code must be plain text")
	}
	for i, hint := range a.Hints {
		if htmlCodeTag.MatchString(hint.CodeSnippet) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("hints[%d].code_snippet contains HTML formatting (<pre>/<code>)", i))
		}
	}
}

// checkCompleteness applies substring heuristics; they are not a parser.
func (v *ResponseValidator) checkCompleteness(a *Artifact, targetLanguage string, report *ValidationReport) {
	if len(a.SolutionCode) < MinSolutionLength {
		report.Warnings = append(report.Warnings, fmt.Sprintf("solution_code is suspiciously short (%d chars, expected at least %d)", len(a.SolutionCode), MinSolutionLength))
	}
	if len(a.BoilerplateCode) < MinBoilerplateLength {
		report.Warnings = append(report.Warnings, fmt.Sprintf("boilerplate_code is suspiciously short (%d chars, expected at least %d)", len(a.BoilerplateCode), MinBoilerplateLength))
	}

	if needsMainFunction(targetLanguage) && !strings.Contains(a.SolutionCode, "main(") {
		report.Warnings = append(report.Warnings, fmt.Sprintf("solution_code has no main( entry point for %s", targetLanguage))
	}
	if !strings.Contains(a.SolutionCode, "return") {
		report.Warnings = append(report.Warnings, "solution_code contains no return statement")
	}
	if !strings.Contains(a.BoilerplateCode, "TODO") {
		report.Warnings = append(report.Warnings, "boilerplate_code has no TODO markers")
	}
}

// needsMainFunction is the entry-point heuristic: the lower-cased language
// name contains "c" or "java".
func needsMainFunction(language string) bool {
	lang := strings.ToLower(language)
	return strings.Contains(lang, "c") || strings.Contains(lang, "java")
}

func (v *ResponseValidator) checkMermaid(a *Artifact, report *ValidationReport) {
	if strings.Contains(a.MermaidDiagram, "'") && !strings.Contains(a.MermaidDiagram, `"`) {
		report.Warnings = append(report.Warnings, "mermaid_diagram uses single quotes without double quotes; labels may be unescaped")
	}
}

func (v *ResponseValidator) checkExecutionSteps(a *Artifact, report *ValidationReport) {
	for i, step := range a.VisualElements.ExecutionSteps {
		if step.Step != i+1 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("execution_steps are not contiguous from 1: position %d has step %d", i+1, step.Step))
			return
		}
	}
}

func (v *ResponseValidator) checkExplanations(a *Artifact, report *ValidationReport) {
	markers := make(map[int]bool)
	for _, m := range codeRefMarker.FindAllStringSubmatch(a.SolutionCode, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			markers[n] = true
		}
	}

	for i, item := range a.Explanation {
		switch item.Type {
		case ExplanationText, ExplanationConcept, ExplanationWarning, ExplanationTip:
		default:
			report.Warnings = append(report.Warnings, fmt.Sprintf("explanation[%d] has unknown type %q", i, item.Type))
		}
		for _, ref := range item.CodeRef {
			if !markers[ref] {
				report.Warnings = append(report.Warnings, fmt.Sprintf("explanation[%d].code_ref %d has no [%d] marker in solution_code", i, ref, ref))
			}
		}
	}
}

func summarize(a *Artifact, warnings []string) Summary {
	s := Summary{
		Hints:             len(a.Hints),
		Explanations:      len(a.Explanation),
		SolutionLength:    len(a.SolutionCode),
		BoilerplateLength: len(a.BoilerplateCode),
		HasMermaid:        strings.TrimSpace(a.MermaidDiagram) != "",
		WarningCount:      len(warnings),
	}
	if a.VisualElements != nil {
		s.ExecutionSteps = len(a.VisualElements.ExecutionSteps)
		s.Concepts = len(a.VisualElements.Concepts)
	}
	return s
}
