package config

import "time"

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "querygate.yml"

// defaultModels maps each provider to the model used when none is set.
var defaultModels = map[ProviderType]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderOpenRouter: "openai/gpt-4o-mini",
	ProviderOllama:     "llama3",
}

// DefaultModel returns the default model for provider, falling back to the
// OpenAI default.
func DefaultModel(provider ProviderType) string {
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels[ProviderOpenAI]
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Mongo: MongoConfig{
			MaxPoolSize: 10,
		},
		LLM: LLMConfig{
			Provider:          ProviderOpenAI,
			Model:             DefaultModel(ProviderOpenAI),
			Temperature:       0,
			MaxTokens:         1000,
			Timeout:           60 * time.Second,
			RequestsPerMinute: 60,
		},
		Cache: CacheConfig{
			Backend:     CacheMemory,
			Path:        "querygate-cache.db",
			SchemaTTL:   time.Hour,
			ResultTTL:   5 * time.Minute,
			HistoryTTL:  24 * time.Hour,
			HistorySize: 10,
			OpTimeout:   2 * time.Second,
		},
		Limits: LimitsConfig{
			MaxInputLength:    1000,
			MaxRows:           100,
			PreviewRows:       10,
			QueryTimeout:      30 * time.Second,
			RequestTimeout:    90 * time.Second,
			MaxSchemaColumns:  60,
			MaxDocumentDepth:  10,
			MaxPipelineStages: 20,
		},
		Stores: StoresConfig{
			RelationalNames: []string{"postgres", "postgresql", "sql"},
			DocumentNames:   []string{"mongo", "mongodb", "document", "documents"},
		},
		Audit: AuditConfig{
			Enabled:   true,
			Path:      "querygate-audit.db",
			Retention: 30 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}
