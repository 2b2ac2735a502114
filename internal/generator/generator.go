// Package generator asks a chat model for query text. Its output is
// untrusted until the validator has screened it.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dopamas/querygate/internal/llm"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
)

// ErrNoQuery is returned when the model replied without a usable query.
var ErrNoQuery = errors.New("no query in model reply")

// Options configure a Generator.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRows     int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Generator turns a question plus a reduced schema into query text.
type Generator struct {
	provider llm.Provider
	opts     Options
	logger   *slog.Logger
}

// New creates a Generator backed by provider.
func New(provider llm.Provider, opts Options) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{provider: provider, opts: opts, logger: logger}
}

// Generate returns one candidate query for dialect d.
func (g *Generator) Generate(ctx context.Context, d validator.Dialect, reduced *schema.Snapshot, message string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Model: g.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(d, g.opts.MaxRows)},
			{Role: llm.RoleUser, Content: buildPrompt(d, reduced, message)},
		},
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		JSONMode:    d == validator.DialectDocument,
	})
	if err != nil {
		return "", fmt.Errorf("generating %s query: %w", d, err)
	}

	var query string
	if d == validator.DialectDocument {
		query = ExtractJSON(resp.Content)
	} else {
		query = CleanSQL(resp.Content)
	}
	if query == "" {
		return "", fmt.Errorf("generating %s query: %w", d, ErrNoQuery)
	}
	g.logger.Debug("generated query", "dialect", d, "provider", g.provider.Name(), "query", query)
	return query, nil
}
