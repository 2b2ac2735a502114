package config

import "time"

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOllama     ProviderType = "ollama"
)

// CacheBackend selects the cache substrate.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheSQLite CacheBackend = "sqlite"
)

// Config is the top-level querygate configuration, corresponding to querygate.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server" koanf:"server"`
	Postgres PostgresConfig `yaml:"postgres" koanf:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo" koanf:"mongo"`
	LLM      LLMConfig      `yaml:"llm" koanf:"llm"`
	Cache    CacheConfig    `yaml:"cache" koanf:"cache"`
	Limits   LimitsConfig   `yaml:"limits" koanf:"limits"`
	Stores   StoresConfig   `yaml:"stores" koanf:"stores"`
	Entities EntitiesConfig `yaml:"entities" koanf:"entities"`
	Audit    AuditConfig    `yaml:"audit" koanf:"audit"`
	Log      LogConfig      `yaml:"log" koanf:"log"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port        int      `yaml:"port" koanf:"port"`
	CORSOrigins []string `yaml:"cors_origins" koanf:"cors_origins"`
}

// PostgresConfig holds the relational store connection. An empty DSN
// disables the store.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" koanf:"dsn"`
	MaxConns int32  `yaml:"max_conns" koanf:"max_conns"`
}

// MongoConfig holds the document store connection. An empty URI disables
// the store.
type MongoConfig struct {
	URI         string `yaml:"uri" koanf:"uri"`
	Database    string `yaml:"database" koanf:"database"`
	MaxPoolSize uint64 `yaml:"max_pool_size" koanf:"max_pool_size"`
}

// LLMConfig selects the query generation model.
type LLMConfig struct {
	Provider          ProviderType  `yaml:"provider" koanf:"provider"`
	Model             string        `yaml:"model" koanf:"model"`
	APIKey            string        `yaml:"api_key,omitempty" koanf:"api_key"`
	BaseURL           string        `yaml:"base_url,omitempty" koanf:"base_url"`
	Temperature       float64       `yaml:"temperature" koanf:"temperature"`
	MaxTokens         int           `yaml:"max_tokens" koanf:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout" koanf:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// CacheConfig selects the cache substrate and its lifetimes.
type CacheConfig struct {
	Backend     CacheBackend  `yaml:"backend" koanf:"backend"`
	Path        string        `yaml:"path" koanf:"path"`
	SchemaTTL   time.Duration `yaml:"schema_ttl" koanf:"schema_ttl"`
	ResultTTL   time.Duration `yaml:"result_ttl" koanf:"result_ttl"`
	HistoryTTL  time.Duration `yaml:"history_ttl" koanf:"history_ttl"`
	HistorySize int           `yaml:"history_size" koanf:"history_size"`
	OpTimeout   time.Duration `yaml:"op_timeout" koanf:"op_timeout"`
}

// LimitsConfig bounds requests and queries.
type LimitsConfig struct {
	MaxInputLength    int           `yaml:"max_input_length" koanf:"max_input_length"`
	MaxRows           int           `yaml:"max_rows" koanf:"max_rows"`
	PreviewRows       int           `yaml:"preview_rows" koanf:"preview_rows"`
	QueryTimeout      time.Duration `yaml:"query_timeout" koanf:"query_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
	MaxSchemaColumns  int           `yaml:"max_schema_columns" koanf:"max_schema_columns"`
	MaxDocumentDepth  int           `yaml:"max_document_depth" koanf:"max_document_depth"`
	MaxPipelineStages int           `yaml:"max_pipeline_stages" koanf:"max_pipeline_stages"`
	AllowedTables     []string      `yaml:"allowed_tables" koanf:"allowed_tables"`
}

// StoresConfig lists the words that route a question to one store.
type StoresConfig struct {
	RelationalNames []string `yaml:"relational_names" koanf:"relational_names"`
	DocumentNames   []string `yaml:"document_names" koanf:"document_names"`
}

// EntitiesConfig points at an optional YAML entity dictionary.
type EntitiesConfig struct {
	DictionaryFile string `yaml:"dictionary_file" koanf:"dictionary_file"`
}

// AuditConfig controls the SQLite trail of validation verdicts.
type AuditConfig struct {
	Enabled   bool          `yaml:"enabled" koanf:"enabled"`
	Path      string        `yaml:"path" koanf:"path"`
	Retention time.Duration `yaml:"retention" koanf:"retention"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}
