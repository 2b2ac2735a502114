package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: QUERYGATE_POSTGRES__DSN sets postgres.dsn.
const EnvPrefix = "QUERYGATE_"

// LoadDotenv loads the first of paths that exists into the process
// environment and returns it, or "" when none was found. Variables already
// set are not overwritten.
func LoadDotenv(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{".env", "config/.env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("loading %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (QUERYGATE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKey maps QUERYGATE_CACHE__SCHEMA_TTL to cache.schema_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path. API keys are
// not written.
func (c *Config) Save(path string) error {
	out := *c
	out.LLM.APIKey = ""
	data, err := yamlv3.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[ProviderType]bool{
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
	ProviderOllama:     true,
}

var validBackends = map[CacheBackend]bool{
	CacheMemory: true,
	CacheSQLite: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("invalid llm.provider %q: must be one of openai, openrouter, ollama", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be non-negative")
	}

	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache.backend %q: must be memory or sqlite", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheSQLite && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required for the sqlite backend")
	}
	if c.Cache.SchemaTTL <= 0 || c.Cache.ResultTTL <= 0 || c.Cache.HistoryTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Cache.HistorySize <= 0 {
		return fmt.Errorf("cache.history_size must be positive")
	}

	if c.Postgres.DSN == "" && c.Mongo.URI == "" {
		return fmt.Errorf("at least one of postgres.dsn or mongo.uri is required")
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required when mongo.uri is set")
	}

	l := c.Limits
	if l.MaxInputLength <= 0 || l.MaxRows <= 0 || l.PreviewRows <= 0 || l.MaxSchemaColumns <= 0 ||
		l.MaxDocumentDepth <= 0 || l.MaxPipelineStages <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if l.QueryTimeout <= 0 || l.RequestTimeout <= 0 {
		return fmt.Errorf("limits timeouts must be positive")
	}

	if c.Audit.Enabled && (c.Audit.Path == "" || c.Audit.Retention <= 0) {
		return fmt.Errorf("audit.path and a positive audit.retention are required when audit is enabled")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: must be text or json", c.Log.Format)
	}
	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
