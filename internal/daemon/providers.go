package daemon

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/felixgeelhaar/codehub/internal/config"
	"github.com/felixgeelhaar/codehub/internal/generation"
	"github.com/felixgeelhaar/codehub/internal/llm"
)

// BuildRegistry registers every enabled provider from cfg, each wrapped in
// the configured resilience policy, and sets the default provider.
func BuildRegistry(cfg *config.LocalConfig, logger *slog.Logger) (*llm.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := llm.NewRegistry()
	resilience := resilientConfig(cfg.LLM.Resilience, logger)

	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		providerCfg := cfg.LLM.Providers[name]
		if !providerCfg.Enabled {
			continue
		}

		var provider llm.Provider
		switch name {
		case "openrouter":
			// The key may also arrive through the environment at call time.
			provider = llm.NewOpenRouterProvider(llm.OpenRouterConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
				Title:   "CodeHub",
				Timeout: cfg.LLM.Resilience.AttemptTimeout(),
			})

		case "claude":
			if providerCfg.APIKey == "" {
				logger.Debug("Claude provider enabled but no API key set")
				continue
			}
			provider = llm.NewClaudeProvider(llm.ClaudeConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})

		case "openai":
			if providerCfg.APIKey == "" {
				logger.Debug("OpenAI provider enabled but no API key set")
				continue
			}
			provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})

		case "gemini":
			if providerCfg.APIKey == "" {
				logger.Debug("Gemini provider enabled but no API key set")
				continue
			}
			provider = llm.NewGeminiProvider(llm.GeminiConfig{
				APIKey: providerCfg.APIKey,
				Model:  providerCfg.Model,
			})

		case "ollama":
			provider = llm.NewOllamaProvider(llm.OllamaConfig{
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
				Timeout: cfg.LLM.Resilience.AttemptTimeout(),
			})

		default:
			logger.Warn("unknown LLM provider in config", "name", name)
			continue
		}

		registry.Register(name, llm.NewResilientProvider(provider, resilience))
		logger.Info("registered LLM provider", "name", name, "model", providerCfg.Model)
	}

	available := registry.List()
	if len(available) == 0 {
		return registry, nil
	}
	if err := registry.SetDefault(cfg.LLM.DefaultProvider); err != nil {
		logger.Warn("default provider not available, falling back",
			"configured", cfg.LLM.DefaultProvider,
			"using", available[0],
		)
	}
	return registry, nil
}

// NewGenerationService builds the pipeline from cfg. Prompt fragments are
// read from cfg.Generation.PromptsDir when it is set.
func NewGenerationService(cfg *config.LocalConfig, registry llm.LLMRegistry, logger *slog.Logger) (*generation.Service, error) {
	var builder *generation.PromptBuilder
	if dir := cfg.Generation.PromptsDir; dir != "" {
		b, err := generation.NewPromptBuilderFromDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load prompts from %s: %w", dir, err)
		}
		builder = b
	}

	return generation.NewService(registry, generation.ServiceConfig{
		Aggregator:    "openrouter",
		DirectRouting: cfg.LLM.DirectRouting,
		Params: generation.GenerationParams{
			MaxTokens:        cfg.Generation.MaxTokens,
			Temperature:      cfg.Generation.Temperature,
			TopP:             cfg.Generation.TopP,
			FrequencyPenalty: cfg.Generation.FrequencyPenalty,
			PresencePenalty:  cfg.Generation.PresencePenalty,
		},
		Builder: builder,
		Logger:  logger,
	}), nil
}

func resilientConfig(r config.ResilienceConfig, logger *slog.Logger) llm.ResilientConfig {
	return llm.ResilientConfig{
		AttemptTimeout:       r.AttemptTimeout(),
		Deadline:             r.Deadline(),
		MaxAttempts:          r.MaxAttempts,
		InitialDelay:         time.Duration(r.InitialBackoffMS) * time.Millisecond,
		MaxDelay:             time.Duration(r.MaxBackoffMS) * time.Millisecond,
		EnableCircuitBreaker: r.CircuitBreaker,
		FailureThreshold:     r.FailureThreshold,
		EnableBulkhead:       r.Bulkhead,
		MaxConcurrent:        r.MaxConcurrent,
		EnableRateLimit:      r.RateLimit,
		RatePerSecond:        r.RatePerSecond,
		Logger:               logger,
	}
}
