package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to querygate! Let's connect your databases.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"openai", "openrouter", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.LLM.Provider = ProviderType(providerStr)

	// 2. Model.
	modelPrompt := promptui.Prompt{
		Label:   "Model",
		Default: DefaultModel(cfg.LLM.Provider),
	}
	if cfg.LLM.Model, err = modelPrompt.Run(); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	// 3. Stores.
	dsnPrompt := promptui.Prompt{
		Label: "PostgreSQL DSN (leave blank to skip)",
	}
	if cfg.Postgres.DSN, err = dsnPrompt.Run(); err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}

	uriPrompt := promptui.Prompt{
		Label: "MongoDB URI (leave blank to skip)",
	}
	if cfg.Mongo.URI, err = uriPrompt.Run(); err != nil {
		return nil, fmt.Errorf("mongo uri: %w", err)
	}
	if cfg.Mongo.URI != "" {
		dbPrompt := promptui.Prompt{
			Label: "MongoDB database",
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("database is required")
				}
				return nil
			},
		}
		if cfg.Mongo.Database, err = dbPrompt.Run(); err != nil {
			return nil, fmt.Errorf("mongo database: %w", err)
		}
	}

	// 4. Cache backend.
	cachePrompt := promptui.Select{
		Label: "Select cache backend",
		Items: []string{
			"memory - per process, lost on restart",
			"sqlite - persisted to a local file",
		},
	}
	cacheIdx, _, err := cachePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("cache selection: %w", err)
	}
	if cacheIdx == 1 {
		cfg.Cache.Backend = CacheSQLite
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.LLM.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment or .env file before running querygate.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}
