package generation

import "testing"

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	ids := c.IDs()
	if len(ids) != 8 {
		t.Fatalf("IDs() = %d models, want 8", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Errorf("IDs() not sorted at %d: %q >= %q", i, ids[i-1], ids[i])
		}
	}

	m, ok := c.Lookup("anthropic/claude-sonnet-4")
	if !ok {
		t.Fatal("Lookup() missing anthropic/claude-sonnet-4")
	}
	if m.Vendor != "anthropic" || m.VendorModel == "" {
		t.Errorf("model = %+v", m)
	}
	if _, ok := c.Lookup("not-a-real-model"); ok {
		t.Error("Lookup() should reject unknown ids")
	}
	if len(c.List()) != 8 || c.List()[0].ID != ids[0] {
		t.Error("List() should follow IDs() order")
	}
}

func TestModelCatalog_Resolve(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		name      string
		id        string
		direct    bool
		available []string
		want      Route
	}{
		{
			name:      "aggregator by default",
			id:        "anthropic/claude-sonnet-4",
			available: []string{"claude", "openrouter"},
			want:      Route{Provider: "openrouter", Model: "anthropic/claude-sonnet-4"},
		},
		{
			name:      "direct to native provider",
			id:        "anthropic/claude-sonnet-4",
			direct:    true,
			available: []string{"claude", "openrouter"},
			want:      Route{Provider: "claude", Model: "claude-sonnet-4-20250514"},
		},
		{
			name:      "direct without native provider",
			id:        "google/gemini-2.5-pro",
			direct:    true,
			available: []string{"openrouter"},
			want:      Route{Provider: "openrouter", Model: "google/gemini-2.5-pro"},
		},
		{
			name:      "vendor without native provider",
			id:        "deepseek/deepseek-chat-v3-0324",
			direct:    true,
			available: []string{"openrouter", "openai"},
			want:      Route{Provider: "openrouter", Model: "deepseek/deepseek-chat-v3-0324"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Resolve(tt.id, "openrouter", tt.direct, tt.available)
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
