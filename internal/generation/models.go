package generation

import (
	"sort"
	"strings"
)

// Model describes one entry of the model allow-list.
type Model struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	VendorModel string `json:"vendor_model"`
	DisplayName string `json:"display_name"`
}

// ModelCatalog is the allow-list of models a request may name.
type ModelCatalog struct {
	models map[string]Model
}

var defaultModels = []Model{
	{ID: "google/gemini-2.5-flash-lite", Vendor: "google", VendorModel: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash Lite"},
	{ID: "google/gemini-2.5-flash", Vendor: "google", VendorModel: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash"},
	{ID: "google/gemini-2.5-pro", Vendor: "google", VendorModel: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"},
	{ID: "openai/gpt-4o-mini", Vendor: "openai", VendorModel: "gpt-4o-mini", DisplayName: "GPT-4o mini"},
	{ID: "openai/gpt-4.1-mini", Vendor: "openai", VendorModel: "gpt-4.1-mini", DisplayName: "GPT-4.1 mini"},
	{ID: "anthropic/claude-3.5-haiku", Vendor: "anthropic", VendorModel: "claude-3-5-haiku-latest", DisplayName: "Claude 3.5 Haiku"},
	{ID: "anthropic/claude-sonnet-4", Vendor: "anthropic", VendorModel: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4"},
	{ID: "deepseek/deepseek-chat-v3-0324", Vendor: "deepseek", VendorModel: "deepseek-chat", DisplayName: "DeepSeek V3"},
}

// vendorProviders maps a model vendor to the native provider name that can
// serve it when direct routing is enabled.
var vendorProviders = map[string]string{
	"google":    "gemini",
	"openai":    "openai",
	"anthropic": "claude",
}

// NewModelCatalog creates a catalog from the given models.
func NewModelCatalog(models []Model) *ModelCatalog {
	c := &ModelCatalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		c.models[m.ID] = m
	}
	return c
}

// DefaultCatalog returns the built-in allow-list.
func DefaultCatalog() *ModelCatalog {
	return NewModelCatalog(defaultModels)
}

// Lookup returns the model with the given id.
func (c *ModelCatalog) Lookup(id string) (Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// IDs returns the sorted model ids.
func (c *ModelCatalog) IDs() []string {
	ids := make([]string, 0, len(c.models))
	for id := range c.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all models sorted by id.
func (c *ModelCatalog) List() []Model {
	ids := c.IDs()
	models := make([]Model, len(ids))
	for i, id := range ids {
		models[i] = c.models[id]
	}
	return models
}

// Route is the resolved provider and model name for a request.
type Route struct {
	Provider string
	Model    string
}

// Resolve picks the provider for a model id. The aggregator provider serves
// every id unless direct routing is on and the vendor has a native provider
// in available.
func (c *ModelCatalog) Resolve(id, aggregator string, direct bool, available []string) Route {
	route := Route{Provider: aggregator, Model: id}
	if !direct {
		return route
	}

	m, ok := c.models[id]
	if !ok {
		return route
	}
	native, ok := vendorProviders[strings.ToLower(m.Vendor)]
	if !ok {
		return route
	}
	for _, name := range available {
		if name == native {
			return Route{Provider: native, Model: m.VendorModel}
		}
	}
	return route
}
