package generation

// Artifact is a generated exercise. Field names follow schema/exercise.json.
type Artifact struct {
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	SolutionCode       string            `json:"solution_code"`
	BoilerplateCode    string            `json:"boilerplate_code"`
	MermaidDiagram     string            `json:"mermaid_diagram"`
	Hints              []Hint            `json:"hints"`
	Explanation        []ExplanationItem `json:"explanation"`
	Tags               []string          `json:"tags"`
	LearningObjectives []string          `json:"learning_objectives"`
	VisualElements     *VisualElements   `json:"visual_elements"`

	decodeWarnings []string
}

// Hint is one progressive hint.
type Hint struct {
	Text        string `json:"text"`
	CodeSnippet string `json:"code_snippet,omitempty"`
}

// Explanation item types.
const (
	ExplanationText    = "text"
	ExplanationConcept = "concept"
	ExplanationWarning = "warning"
	ExplanationTip     = "tip"
)

// ExplanationItem explains part of the solution. CodeRef points at [n]
// markers in the solution code.
type ExplanationItem struct {
	Text    string `json:"text"`
	Type    string `json:"type"`
	CodeRef []int  `json:"code_ref,omitempty"`
}

// VisualElements holds the execution trace and concept cards.
type VisualElements struct {
	ExecutionSteps []ExecutionStep `json:"execution_steps"`
	Concepts       []Concept       `json:"concepts"`
}

// ExecutionStep is one step of the traced program run.
type ExecutionStep struct {
	Step        int         `json:"step"`
	LineNumber  *int        `json:"line_number,omitempty"`
	Line        string      `json:"line"`
	Description string      `json:"description"`
	Output      string      `json:"output,omitempty"`
	MemoryState []MemoryVar `json:"memory_state"`
}

// MemoryVar is a variable snapshot at a step.
type MemoryVar struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Type    string `json:"type"`
	Changed bool   `json:"changed"`
}

// Concept is a named idea with a visual metaphor.
type Concept struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	VisualMetaphor string `json:"visual_metaphor"`
}

// Lesson types of the tutorial variant.
const (
	LessonConcept            = "concept"
	LessonPracticalExample   = "practical_example"
	LessonMCQ                = "mcq"
	LessonInteractiveContent = "interactive_content"
)

// Tutorial is a generated multi-lesson tutorial. Field names follow
// schema/tutorial.json.
type Tutorial struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Tags               []string `json:"tags"`
	LearningObjectives []string `json:"learning_objectives"`
	Lessons            []Lesson `json:"lessons"`

	decodeWarnings []string
}

// Lesson is one tutorial lesson. Only the fields of its Type are set.
type Lesson struct {
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Content     string   `json:"content"`
	CodeExample string   `json:"code_example,omitempty"`
	Question    string   `json:"question,omitempty"`
	Options     []string `json:"options,omitempty"`
	AnswerIndex *int     `json:"answer_index,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Task        string   `json:"task,omitempty"`
	StarterCode string   `json:"starter_code,omitempty"`
	Solution    string   `json:"solution,omitempty"`
}
