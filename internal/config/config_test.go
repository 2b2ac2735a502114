package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Postgres.DSN = "postgres://reader@localhost:5432/cases"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LLM.Provider != ProviderOpenAI {
		t.Errorf("expected default provider %q, got %q", ProviderOpenAI, cfg.LLM.Provider)
	}
	if cfg.Cache.HistorySize != 10 {
		t.Errorf("expected default history_size 10, got %d", cfg.Cache.HistorySize)
	}
	if cfg.Limits.MaxRows != 100 {
		t.Errorf("expected default max_rows 100, got %d", cfg.Limits.MaxRows)
	}
	if cfg.Cache.SchemaTTL != time.Hour {
		t.Errorf("expected default schema_ttl 1h, got %v", cfg.Cache.SchemaTTL)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "querygate.yml")

	original := validConfig()
	original.LLM.Provider = ProviderOllama
	original.LLM.Model = "llama3:70b"
	original.LLM.APIKey = "sk-should-not-persist"
	original.Mongo.URI = "mongodb://localhost:27017"
	original.Mongo.Database = "cases"
	original.Cache.Backend = CacheSQLite
	original.Cache.ResultTTL = 90 * time.Second
	original.Limits.AllowedTables = []string{"persons", "crimes"}

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != original.LLM.Provider || loaded.LLM.Model != original.LLM.Model {
		t.Errorf("llm: got %+v", loaded.LLM)
	}
	if loaded.LLM.APIKey != "" {
		t.Error("api key was written to disk")
	}
	if loaded.Mongo != original.Mongo {
		t.Errorf("mongo: got %+v, want %+v", loaded.Mongo, original.Mongo)
	}
	if loaded.Cache.Backend != CacheSQLite || loaded.Cache.ResultTTL != 90*time.Second {
		t.Errorf("cache: got %+v", loaded.Cache)
	}
	if len(loaded.Limits.AllowedTables) != 2 || loaded.Limits.AllowedTables[1] != "crimes" {
		t.Errorf("allowed_tables: got %v", loaded.Limits.AllowedTables)
	}
	if original.LLM.APIKey != "sk-should-not-persist" {
		t.Error("Save modified the receiver")
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.yml")

	// Loading a missing file should return defaults, not an error.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not fail for missing file: %v", err)
	}
	if cfg.LLM.Provider != ProviderOpenAI {
		t.Errorf("expected default provider, got %q", cfg.LLM.Provider)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "querygate.yml")
	if err := validConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("QUERYGATE_LLM__PROVIDER", "openrouter")
	t.Setenv("QUERYGATE_POSTGRES__DSN", "postgres://other@db:5432/cases")
	t.Setenv("QUERYGATE_LIMITS__MAX_ROWS", "25")
	t.Setenv("QUERYGATE_CACHE__SCHEMA_TTL", "10m")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LLM.Provider != ProviderOpenRouter {
		t.Errorf("provider: got %q", loaded.LLM.Provider)
	}
	if loaded.Postgres.DSN != "postgres://other@db:5432/cases" {
		t.Errorf("dsn: got %q", loaded.Postgres.DSN)
	}
	if loaded.Limits.MaxRows != 25 {
		t.Errorf("max_rows: got %d", loaded.Limits.MaxRows)
	}
	if loaded.Cache.SchemaTTL != 10*time.Minute {
		t.Errorf("schema_ttl: got %v", loaded.Cache.SchemaTTL)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("QUERYGATE_TEST_DOTENV=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUERYGATE_TEST_DOTENV", "")
	os.Unsetenv("QUERYGATE_TEST_DOTENV")

	got, err := LoadDotenv(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got != path {
		t.Errorf("loaded %q, want %q", got, path)
	}
	if v := os.Getenv("QUERYGATE_TEST_DOTENV"); v != "loaded" {
		t.Errorf("env = %q", v)
	}

	got, err = LoadDotenv(filepath.Join(dir, "missing.env"))
	if err != nil || got != "" {
		t.Errorf("missing files: got %q, %v", got, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.LLM.Provider = "anthropic" }},
		{"model", func(c *Config) { c.LLM.Model = "" }},
		{"backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"sqlite path", func(c *Config) { c.Cache.Backend = CacheSQLite; c.Cache.Path = "" }},
		{"ttl", func(c *Config) { c.Cache.ResultTTL = 0 }},
		{"history", func(c *Config) { c.Cache.HistorySize = 0 }},
		{"no stores", func(c *Config) { c.Postgres.DSN = "" }},
		{"mongo database", func(c *Config) { c.Mongo.URI = "mongodb://localhost"; c.Mongo.Database = "" }},
		{"max rows", func(c *Config) { c.Limits.MaxRows = 0 }},
		{"timeout", func(c *Config) { c.Limits.QueryTimeout = -time.Second }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"rpm", func(c *Config) { c.LLM.RequestsPerMinute = -1 }},
		{"audit retention", func(c *Config) { c.Audit.Retention = 0 }},
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDefaultModel(t *testing.T) {
	if DefaultModel(ProviderOllama) != "llama3" {
		t.Errorf("ollama default = %q", DefaultModel(ProviderOllama))
	}
	if DefaultModel("unknown") != DefaultModel(ProviderOpenAI) {
		t.Error("unknown provider should fall back to openai")
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	tests := []struct {
		provider ProviderType
		want     string
	}{
		{ProviderOpenAI, "OPENAI_API_KEY"},
		{ProviderOpenRouter, "OPENROUTER_API_KEY"},
		{ProviderOllama, ""},
	}
	for _, tt := range tests {
		got := APIKeyEnvVar(tt.provider)
		if got != tt.want {
			t.Errorf("APIKeyEnvVar(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}
