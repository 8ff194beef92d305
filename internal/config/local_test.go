package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// clearEnv blanks every variable ApplyEnv reads so host settings don't leak
// into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CODEHUB_PORT", "CODEHUB_BIND", "CODEHUB_LOG_LEVEL",
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
		"OLLAMA_URL", "CODEHUB_DEFAULT_PROVIDER", "CODEHUB_DIRECT_ROUTING",
		"CODEHUB_MAX_TOKENS", "CODEHUB_TEMPERATURE", "CODEHUB_PROMPTS_DIR",
		"CODEHUB_HISTORY_DRIVER", "CODEHUB_HISTORY_DSN", "RABBITMQ_URL",
		"CODEHUB_QUEUE_WORKERS", "REDIS_ADDR", "CODEHUB_JWT_SECRET",
		"OTEL_ENABLED", "OTEL_SAMPLER_RATIO",
	} {
		t.Setenv(key, "")
	}
}

func TestCodehubDir(t *testing.T) {
	dir, err := CodehubDir()
	if err != nil {
		t.Fatalf("CodehubDir() error = %v", err)
	}

	if filepath.Base(dir) != ".codehub" {
		t.Errorf("CodehubDir() = %q, want ending with .codehub", dir)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("CodehubDir() = %q, want absolute path", dir)
	}
}

func TestEnsureCodehubDir(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir, err := EnsureCodehubDir()
	if err != nil {
		t.Fatalf("EnsureCodehubDir() error = %v", err)
	}

	expectedDir := filepath.Join(tmpHome, ".codehub")
	if dir != expectedDir {
		t.Errorf("EnsureCodehubDir() = %q, want %q", dir, expectedDir)
	}

	for _, subdir := range []string{"logs", "prompts"} {
		if _, err := os.Stat(filepath.Join(dir, subdir)); os.IsNotExist(err) {
			t.Errorf("EnsureCodehubDir() should create %s", subdir)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()
	if cfg == nil {
		t.Fatal("DefaultLocalConfig() returned nil")
	}

	if cfg.Daemon.Port != 7432 {
		t.Errorf("Daemon.Port = %d, want 7432", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want 127.0.0.1", cfg.Daemon.Bind)
	}
	if cfg.LLM.DefaultProvider != "openrouter" {
		t.Errorf("LLM.DefaultProvider = %q, want openrouter", cfg.LLM.DefaultProvider)
	}
	if len(cfg.LLM.Providers) != 5 {
		t.Errorf("LLM.Providers count = %d, want 5", len(cfg.LLM.Providers))
	}

	g := cfg.Generation
	if g.MaxTokens != 8000 || g.Temperature != 0.3 || g.TopP != 0.9 || g.FrequencyPenalty != 0.1 || g.PresencePenalty != 0.1 {
		t.Errorf("Generation = %+v", g)
	}
	if cfg.History.Driver != "sqlite" {
		t.Errorf("History.Driver = %q, want sqlite", cfg.History.Driver)
	}
	if cfg.Queue.Enabled || cfg.Cache.Enabled || cfg.Auth.Enabled || cfg.Tracing.Enabled {
		t.Error("optional services should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultLocalConfig_ProviderDetails(t *testing.T) {
	cfg := DefaultLocalConfig()

	tests := []struct {
		name    string
		enabled bool
		model   string
	}{
		{"openrouter", true, "google/gemini-2.5-flash-lite"},
		{"openai", false, "gpt-4o-mini"},
		{"claude", false, "claude-sonnet-4-20250514"},
		{"gemini", false, "gemini-2.5-flash-lite"},
		{"ollama", false, "qwen2.5-coder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := cfg.LLM.Providers[tt.name]
			if !ok {
				t.Fatalf("provider %s not found", tt.name)
			}
			if p.Enabled != tt.enabled {
				t.Errorf("Enabled = %v, want %v", p.Enabled, tt.enabled)
			}
			if p.Model != tt.model {
				t.Errorf("Model = %q, want %q", p.Model, tt.model)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultLocalConfig()
	if got := cfg.LLM.Resilience.AttemptTimeout().Seconds(); got != 90 {
		t.Errorf("AttemptTimeout() = %vs, want 90s", got)
	}
	if got := cfg.LLM.Resilience.Deadline().Seconds(); got != 180 {
		t.Errorf("Deadline() = %vs, want 180s", got)
	}
	if got := cfg.Generation.RequestTimeout().Seconds(); got != 180 {
		t.Errorf("RequestTimeout() = %vs, want 180s", got)
	}
	if got := cfg.Cache.TTL().Hours(); got != 1 {
		t.Errorf("TTL() = %vh, want 1h", got)
	}
}

func TestLoadSecrets(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultLocalConfig()

	secretsContent := `providers:
  claude:
    api_key: sk-claude-test-key
  openrouter:
    api_key: sk-or-test-key
jwt_secret: signing-secret
`
	if err := os.WriteFile(filepath.Join(tmpDir, "secrets.yaml"), []byte(secretsContent), 0600); err != nil {
		t.Fatalf("Failed to write secrets file: %v", err)
	}

	if err := loadSecrets(tmpDir, cfg); err != nil {
		t.Fatalf("loadSecrets() error = %v", err)
	}

	if cfg.LLM.Providers["claude"].APIKey != "sk-claude-test-key" {
		t.Errorf("claude APIKey = %q", cfg.LLM.Providers["claude"].APIKey)
	}
	if cfg.LLM.Providers["openrouter"].APIKey != "sk-or-test-key" {
		t.Errorf("openrouter APIKey = %q", cfg.LLM.Providers["openrouter"].APIKey)
	}
	if cfg.LLM.Providers["ollama"].APIKey != "" {
		t.Errorf("ollama APIKey = %q, want empty", cfg.LLM.Providers["ollama"].APIKey)
	}
	if cfg.Auth.Secret != "signing-secret" {
		t.Errorf("Auth.Secret = %q, want signing-secret", cfg.Auth.Secret)
	}
}

func TestLoadSecrets_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if err := loadSecrets(t.TempDir(), DefaultLocalConfig()); err != nil {
			t.Errorf("loadSecrets() should not error when secrets file is missing: %v", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte("invalid: yaml: content:"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := loadSecrets(dir, DefaultLocalConfig()); err == nil {
			t.Error("loadSecrets() should error on invalid YAML")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		dir := t.TempDir()
		content := "providers:\n  unknown_provider:\n    api_key: some-key\n"
		if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if err := loadSecrets(dir, DefaultLocalConfig()); err != nil {
			t.Errorf("loadSecrets() should ignore unknown providers: %v", err)
		}
	})
}

func TestLoadLocalConfig_DefaultsWhenNoFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Daemon.Port != 7432 {
		t.Errorf("Daemon.Port = %d, want 7432 (default)", cfg.Daemon.Port)
	}
}

func TestLoadLocalConfig_WithConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	configContent := `daemon:
  port: 9999
  bind: "0.0.0.0"
  log_level: debug
llm:
  default_provider: claude
  direct_routing: true
generation:
  temperature: 0.7
history:
  driver: none
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}

	if cfg.Daemon.Port != 9999 || cfg.Daemon.Bind != "0.0.0.0" || cfg.Daemon.LogLevel != "debug" {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.LLM.DefaultProvider != "claude" || !cfg.LLM.DirectRouting {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Generation.Temperature != 0.7 {
		t.Errorf("Generation.Temperature = %v, want 0.7", cfg.Generation.Temperature)
	}
	// Unset keys keep their defaults
	if cfg.Generation.TopP != 0.9 {
		t.Errorf("Generation.TopP = %v, want default 0.9", cfg.Generation.TopP)
	}
	if cfg.History.Driver != "none" {
		t.Errorf("History.Driver = %q, want none", cfg.History.Driver)
	}
	if _, ok := cfg.LLM.Providers["gemini"]; !ok {
		t.Error("default providers should survive a partial config file")
	}
}

func TestLoadLocalConfig_EnvBeatsFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("daemon:\n  port: 9999\n"), 0644); err != nil {
		t.Fatal(err)
	}
	secrets := "providers:\n  openai:\n    api_key: from-file\n"
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(secrets), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODEHUB_PORT", "8088")
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}
	if cfg.Daemon.Port != 8088 {
		t.Errorf("Daemon.Port = %d, want 8088", cfg.Daemon.Port)
	}
	if cfg.LLM.Providers["openai"].APIKey != "from-env" {
		t.Errorf("openai APIKey = %q, want from-env", cfg.LLM.Providers["openai"].APIKey)
	}
}

func TestLoadLocalConfig_InvalidConfigYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("daemon: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadLocalConfigFrom(dir); err == nil {
		t.Error("LoadLocalConfigFrom() should error on invalid YAML")
	}
}

func TestSaveLocalConfig(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg := DefaultLocalConfig()
	cfg.Daemon.Port = 8888
	cfg.LLM.Providers["claude"].APIKey = "must-not-be-written"

	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpHome, ".codehub", "config.yaml"))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	var loaded LocalConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	if loaded.Daemon.Port != 8888 {
		t.Errorf("saved Daemon.Port = %d, want 8888", loaded.Daemon.Port)
	}
	if loaded.LLM.Providers["claude"].APIKey != "" {
		t.Error("API keys must not be written to config.yaml")
	}
}

func TestSaveSecrets(t *testing.T) {
	clearEnv(t)
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	keys := map[string]string{"openrouter": "sk-or-saved"}
	if err := SaveSecrets(keys, "jwt-saved"); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	path := filepath.Join(tmpHome, ".codehub", "secrets.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets.yaml mode = %o, want 600", perm)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.LLM.Providers["openrouter"].APIKey != "sk-or-saved" {
		t.Errorf("openrouter APIKey = %q, want sk-or-saved", cfg.LLM.Providers["openrouter"].APIKey)
	}
	if cfg.Auth.Secret != "jwt-saved" {
		t.Errorf("Auth.Secret = %q, want jwt-saved", cfg.Auth.Secret)
	}
}
