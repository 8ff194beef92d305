package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// providerKeyEnv maps provider names to the environment variable holding
// their API key.
var providerKeyEnv = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"claude":     "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

// ProviderKeyEnv returns the environment variable read for a provider's
// API key, or "" for providers that take no key.
func ProviderKeyEnv(provider string) string {
	return providerKeyEnv[provider]
}

// ApplyEnv overrides file configuration with environment variables
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("CODEHUB_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("CODEHUB_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("CODEHUB_LOG_LEVEL", cfg.Daemon.LogLevel)

	for name, env := range providerKeyEnv {
		p, ok := cfg.LLM.Providers[name]
		if !ok {
			continue
		}
		if key := getEnv(env, ""); key != "" {
			p.APIKey = key
			p.Enabled = true
		}
	}
	if p, ok := cfg.LLM.Providers["ollama"]; ok {
		p.URL = getEnv("OLLAMA_URL", p.URL)
	}
	cfg.LLM.DefaultProvider = getEnv("CODEHUB_DEFAULT_PROVIDER", cfg.LLM.DefaultProvider)
	cfg.LLM.DirectRouting = getEnvBool("CODEHUB_DIRECT_ROUTING", cfg.LLM.DirectRouting)

	cfg.Generation.MaxTokens = getEnvInt("CODEHUB_MAX_TOKENS", cfg.Generation.MaxTokens)
	cfg.Generation.Temperature = getEnvFloat("CODEHUB_TEMPERATURE", cfg.Generation.Temperature)
	cfg.Generation.PromptsDir = getEnv("CODEHUB_PROMPTS_DIR", cfg.Generation.PromptsDir)

	cfg.History.Driver = getEnv("CODEHUB_HISTORY_DRIVER", cfg.History.Driver)
	if dsn := getEnv("CODEHUB_HISTORY_DSN", ""); dsn != "" {
		cfg.History.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			cfg.History.Driver = "postgres"
		}
	}

	if url := getEnv("RABBITMQ_URL", ""); url != "" {
		cfg.Queue.URL = url
		cfg.Queue.Enabled = true
	}
	cfg.Queue.Workers = getEnvInt("CODEHUB_QUEUE_WORKERS", cfg.Queue.Workers)

	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		cfg.Cache.Addr = addr
		cfg.Cache.Enabled = true
	}

	if secret := getEnv("CODEHUB_JWT_SECRET", ""); secret != "" {
		cfg.Auth.Secret = secret
		cfg.Auth.Enabled = true
	}

	cfg.Tracing.Enabled = getEnvBool("OTEL_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.SampleRatio = getEnvFloat("OTEL_SAMPLER_RATIO", cfg.Tracing.SampleRatio)
}

// Validate checks settings that would otherwise fail late at startup
func (c *LocalConfig) Validate() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	switch c.History.Driver {
	case "sqlite", "file", "none", "":
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown history.driver %q (sqlite, file, postgres, none)", c.History.Driver)
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth is enabled but no jwt_secret is set (secrets.yaml or CODEHUB_JWT_SECRET)")
	}
	if c.Queue.Enabled && c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v must be between 0 and 1", c.Tracing.SampleRatio)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
