package llm

import (
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewProvider creates a provider from s. Supported providers: "openai",
// "openrouter", "ollama". An empty APIKey is read from the provider's usual
// environment variable. A positive RequestsPerMinute wraps the result in a
// RateLimitedProvider.
func NewProvider(s Settings) (Provider, error) {
	var cfg openai.ClientConfig

	switch s.Provider {
	case "openai":
		key := firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		cfg = openai.DefaultConfig(key)

	case "openrouter":
		key := firstNonEmpty(s.APIKey, os.Getenv("OPENROUTER_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable is not set")
		}
		cfg = openai.DefaultConfig(key)
		cfg.BaseURL = openRouterBaseURL

	case "ollama":
		cfg = openai.DefaultConfig("ollama")
		cfg.BaseURL = firstNonEmpty(os.Getenv("OLLAMA_HOST"), ollamaBaseURL)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", s.Provider)
	}

	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	if s.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: s.Timeout}
	}

	var p Provider = NewChatClient(s.Provider, cfg, s.Model, s.MaxTokens)
	if s.RequestsPerMinute > 0 {
		p = NewRateLimitedProvider(p, s.RequestsPerMinute)
	}
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
