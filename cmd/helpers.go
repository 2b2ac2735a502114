package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dopamas/querygate/internal/audit"
	"github.com/dopamas/querygate/internal/cache"
	"github.com/dopamas/querygate/internal/config"
	"github.com/dopamas/querygate/internal/db"
	"github.com/dopamas/querygate/internal/generator"
	"github.com/dopamas/querygate/internal/intent"
	"github.com/dopamas/querygate/internal/llm"
	"github.com/dopamas/querygate/internal/sanitize"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/server"
	"github.com/dopamas/querygate/internal/store"
	"github.com/dopamas/querygate/internal/validator"
	"github.com/dopamas/querygate/internal/workflow"
)

const connectTimeout = 10 * time.Second

// loadConfig loads .env, the config file and env overrides, and validates
// the result.
func loadConfig() (*config.Config, error) {
	cfg, err := loadConfigUnchecked()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadConfigUnchecked loads the configuration without requiring any store
// to be configured. The validate command runs offline with it.
func loadConfigUnchecked() (*config.Config, error) {
	if _, err := config.LoadDotenv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `querygate init` to create a config file", err)
	}
	return cfg, nil
}

// newLogger builds the slog handler named by cfg. Logs always go to stderr
// so stdout stays free for results and the MCP protocol.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// app holds everything a command needs to run the pipeline.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	validator *validator.Validator
	orch      *workflow.Orchestrator
	checks    map[string]server.Check
	audit     *audit.Store
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newValidator builds the validator from the configured limits. It needs no
// connections, so the validate command uses it directly.
func newValidator(cfg *config.Config) *validator.Validator {
	return validator.New(validator.Options{
		AllowedTables:     cfg.Limits.AllowedTables,
		MaxDocumentDepth:  cfg.Limits.MaxDocumentDepth,
		MaxPipelineStages: cfg.Limits.MaxPipelineStages,
	})
}

// buildApp connects the configured stores, the cache and, when withLLM is
// set, the LLM provider, and wires them into an orchestrator. A store that
// cannot be reached is left out and reported as unavailable by the health
// checks. Commands that never generate queries pass withLLM false so they
// work without an API key.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withLLM bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, validator: newValidator(cfg), checks: map[string]server.Check{}}

	substrate, err := openCache(cfg.Cache, a)
	if err != nil {
		return nil, err
	}
	svc := cache.NewService(substrate, cache.Options{
		SchemaTTL:   cfg.Cache.SchemaTTL,
		ResultTTL:   cfg.Cache.ResultTTL,
		HistoryTTL:  cfg.Cache.HistoryTTL,
		HistorySize: cfg.Cache.HistorySize,
		OpTimeout:   cfg.Cache.OpTimeout,
		Logger:      logger,
	})
	a.checks["cache"] = func(ctx context.Context) error {
		if !svc.Healthy(ctx) {
			return errors.New("cache unreachable")
		}
		return nil
	}

	wf := workflow.Config{
		Validator: a.validator,
		Reducer:   schema.NewReducer(cfg.Limits.MaxSchemaColumns),
		Selector:  intent.NewSelector(cfg.Stores.RelationalNames, cfg.Stores.DocumentNames),
		Cache:     svc,
		Limits: workflow.Limits{
			MaxInputLength: cfg.Limits.MaxInputLength,
			MaxRows:        cfg.Limits.MaxRows,
			PreviewRows:    cfg.Limits.PreviewRows,
			QueryTimeout:   cfg.Limits.QueryTimeout,
			RequestTimeout: cfg.Limits.RequestTimeout,
		},
		Logger: logger,
	}

	if withLLM {
		provider, err := llm.NewProvider(llm.Settings{
			Provider:          string(cfg.LLM.Provider),
			Model:             cfg.LLM.Model,
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			MaxTokens:         cfg.LLM.MaxTokens,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating LLM provider: %w", err)
		}
		wf.Generator = generator.New(provider, generator.Options{
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			MaxRows:     cfg.Limits.MaxRows,
			Timeout:     cfg.LLM.Timeout,
			Logger:      logger,
		})
	}

	detector, err := intent.NewDetector(cfg.Entities.DictionaryFile)
	if err != nil {
		logger.Warn("entity dictionary not loaded, using pattern detection", "error", err)
	}
	wf.Detector = detector

	intro := &store.Introspector{Logger: logger, Mask: sanitize.Mask}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if cfg.Postgres.DSN != "" {
		pg, err := store.NewPostgres(connectCtx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			logger.Warn("postgres unavailable", "error", sanitize.Mask(err.Error()))
			a.checks["postgres"] = func(context.Context) error { return err }
		} else {
			wf.Relational = pg
			intro.Tables = pg
			a.checks["postgres"] = pg.Ping
			a.closers = append(a.closers, pg.Close)
		}
	}
	if cfg.Mongo.URI != "" {
		mg, err := store.NewMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.MaxPoolSize)
		if err != nil {
			logger.Warn("mongo unavailable", "error", sanitize.Mask(err.Error()))
			a.checks["mongo"] = func(context.Context) error { return err }
		} else {
			wf.Document = mg
			intro.Collections = mg
			a.checks["mongo"] = mg.Ping
			a.closers = append(a.closers, func() { _ = mg.Close(context.Background()) })
		}
	}
	wf.Schema = intro

	if cfg.Audit.Enabled {
		trail, err := openAudit(ctx, cfg.Audit, a)
		if err != nil {
			logger.Warn("audit trail disabled", "error", err)
		} else {
			a.audit = trail
			wf.Audit = trail
		}
	}

	a.orch = workflow.New(wf)
	return a, nil
}

// openAudit opens the verdict trail and drops entries past retention.
func openAudit(ctx context.Context, cfg config.AuditConfig, a *app) (*audit.Store, error) {
	database, err := db.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	a.closers = append(a.closers, func() { database.Close() })
	trail := audit.NewStore(database)
	if n, err := trail.DeleteBefore(ctx, time.Now().Add(-cfg.Retention)); err != nil {
		a.logger.Warn("audit retention sweep failed", "error", err)
	} else if n > 0 {
		a.logger.Info("audit retention sweep", "deleted", n)
	}
	return trail, nil
}

// openCache returns the configured cache substrate and registers its closer.
func openCache(cfg config.CacheConfig, a *app) (cache.Store, error) {
	if cfg.Backend != config.CacheSQLite {
		return cache.NewMemoryStore(nil), nil
	}
	database, err := db.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	a.closers = append(a.closers, func() { database.Close() })
	return database, nil
}
