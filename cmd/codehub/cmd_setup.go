package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/codehub/internal/auth"
	"github.com/felixgeelhaar/codehub/internal/config"
)

// cmdInit initializes CodeHub for first-time use
func cmdInit() error {
	fmt.Println("CodeHub - First-Time Setup")
	fmt.Println("==========================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Creating ~/.codehub directory structure... ")
	codehubDir, err := config.EnsureCodehubDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	configPath := filepath.Join(codehubDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Print("Creating default configuration... ")
		if err := config.SaveLocalConfig(config.DefaultLocalConfig()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println()
	fmt.Println("LLM Provider Setup")
	fmt.Println("------------------")
	fmt.Println("Every catalog model is served through OpenRouter by default.")
	fmt.Println()

	keys := existingKeys(cfg)
	if keys["openrouter"] != "" {
		fmt.Println("OpenRouter API key: already configured ✓")
	} else {
		fmt.Print("Enter OpenRouter API key (or press Enter to skip): ")
		key, _ := reader.ReadString('\n')
		if key = strings.TrimSpace(key); key != "" {
			keys["openrouter"] = key
		}
	}

	jwtSecret := cfg.Auth.Secret
	if jwtSecret == "" {
		if jwtSecret, err = randomSecret(); err != nil {
			return fmt.Errorf("generate token secret: %w", err)
		}
	}

	if err := config.SaveSecrets(keys, jwtSecret); err != nil {
		fmt.Printf("  ⚠ Failed to save secrets: %v\n", err)
	} else {
		fmt.Println("Secrets saved ✓")
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. codehub start     # Start the daemon")
	fmt.Println("  2. codehub status    # Verify providers")
	fmt.Println("  3. codehub models    # See the model catalog")
	fmt.Println()
	fmt.Println("For IDE integration:")
	fmt.Println("  - Cursor / Claude Desktop: configure MCP with the 'codehub mcp' command")

	return nil
}

// existingKeys collects configured provider keys so saving one key does
// not drop the others
func existingKeys(cfg *config.LocalConfig) map[string]string {
	keys := make(map[string]string)
	for name, provider := range cfg.LLM.Providers {
		if provider.APIKey != "" {
			keys[name] = provider.APIKey
		}
	}
	return keys
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func providerNames(cfg *config.LocalConfig) []string {
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hasKey reports whether a provider can authenticate
func hasKey(name string, provider *config.ProviderConfig) bool {
	return provider.APIKey != "" || config.ProviderKeyEnv(name) == ""
}

// cmdConfig shows current configuration
func cmdConfig() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("CodeHub Configuration")

	fmt.Println("\nDaemon:")
	fmt.Printf("  bind: %s:%d\n", cfg.Daemon.Bind, cfg.Daemon.Port)
	fmt.Printf("  log_level: %s\n", cfg.Daemon.LogLevel)

	fmt.Println("\nLLM:")
	fmt.Printf("  default_provider: %s\n", cfg.LLM.DefaultProvider)
	fmt.Printf("  direct_routing: %t\n", cfg.LLM.DirectRouting)
	for _, name := range providerNames(cfg) {
		provider := cfg.LLM.Providers[name]
		if !provider.Enabled {
			continue
		}
		keyStatus := "✗"
		if hasKey(name, provider) {
			keyStatus = "✓"
		}
		fmt.Printf("  %s: model=%s key=%s\n", name, provider.Model, keyStatus)
	}

	fmt.Println("\nGeneration:")
	fmt.Printf("  max_tokens: %d\n", cfg.Generation.MaxTokens)
	fmt.Printf("  temperature: %.2f\n", cfg.Generation.Temperature)
	fmt.Printf("  request_timeout: %s\n", cfg.Generation.RequestTimeout())
	if cfg.Generation.PromptsDir != "" {
		fmt.Printf("  prompts_dir: %s\n", cfg.Generation.PromptsDir)
	}

	fmt.Println("\nBackends:")
	fmt.Printf("  history: %s\n", cfg.History.Driver)
	fmt.Printf("  queue: %s\n", onOff(cfg.Queue.Enabled))
	fmt.Printf("  cache: %s\n", onOff(cfg.Cache.Enabled))
	fmt.Printf("  auth: %s\n", onOff(cfg.Auth.Enabled))
	fmt.Printf("  tracing: %s\n", onOff(cfg.Tracing.Enabled))

	codehubDir, _ := config.CodehubDir()
	fmt.Printf("\nConfig path: %s\n", filepath.Join(codehubDir, "config.yaml"))

	return nil
}

// cmdProvider manages LLM provider API keys
func cmdProvider(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Provider management commands:

  codehub provider list              List configured providers
  codehub provider set-key <name>    Set API key for a provider`)
		return nil
	}

	switch args[0] {
	case "list":
		return cmdProviderList()
	case "set-key":
		if len(args) < 2 {
			return fmt.Errorf("provider name required")
		}
		return cmdProviderSetKey(args[1])
	default:
		return fmt.Errorf("unknown provider command: %s", args[0])
	}
}

func cmdProviderList() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("Configured LLM Providers:")
	for _, name := range providerNames(cfg) {
		provider := cfg.LLM.Providers[name]
		status := "disabled"
		if provider.Enabled {
			status = "needs API key"
			if hasKey(name, provider) {
				status = "ready"
			}
		}

		isDefault := ""
		if name == cfg.LLM.DefaultProvider {
			isDefault = " (default)"
		}

		fmt.Printf("  %s%s\n", name, isDefault)
		fmt.Printf("    status: %s\n", status)
		fmt.Printf("    model:  %s\n", provider.Model)
		if provider.URL != "" {
			fmt.Printf("    url:    %s\n", provider.URL)
		}
		fmt.Println()
	}

	return nil
}

func cmdProviderSetKey(provider string) error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, ok := cfg.LLM.Providers[provider]; !ok {
		return fmt.Errorf("unknown provider: %s (valid: %s)", provider, strings.Join(providerNames(cfg), ", "))
	}
	if config.ProviderKeyEnv(provider) == "" {
		fmt.Printf("%s doesn't require an API key.\n", provider)
		return nil
	}

	fmt.Printf("Enter %s API key: ", provider)
	key, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	keys := existingKeys(cfg)
	keys[provider] = key
	if err := config.SaveSecrets(keys, cfg.Auth.Secret); err != nil {
		return fmt.Errorf("save secrets: %w", err)
	}

	fmt.Printf("✓ API key saved for %s\n", provider)
	fmt.Println("Restart the daemon for changes to take effect.")
	return nil
}

// cmdToken issues a bearer token signed with the configured secret
func cmdToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: codehub token <subject> [ttl]")
	}

	ttl := 24 * time.Hour
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[1], err)
		}
		ttl = d
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("setup issuer (run 'codehub init' to create a secret): %w", err)
	}
	token, err := issuer.Issue(args[0], ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	if !cfg.Auth.Enabled {
		fmt.Fprintln(os.Stderr, "note: auth is disabled in config.yaml; the daemon will not require this token")
	}
	return nil
}
