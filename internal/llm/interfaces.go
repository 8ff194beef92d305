package llm

// LLMRegistry defines the interface for LLM provider registry operations
// used by the generation service and daemon handlers
type LLMRegistry interface {
	// List returns all registered provider names
	List() []string

	// Default returns the default provider
	Default() (Provider, error)

	// DefaultName returns the configured default provider name
	DefaultName() string

	// Get retrieves a provider by name
	Get(name string) (Provider, error)
}

// Ensure Registry implements LLMRegistry
var _ LLMRegistry = (*Registry)(nil)
