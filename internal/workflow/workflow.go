// Package workflow carries one question through input checks, intent and
// store selection, schema reduction, query generation, the validation gate,
// bounded execution and response shaping.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dopamas/querygate/internal/cache"
	"github.com/dopamas/querygate/internal/intent"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/store"
	"github.com/dopamas/querygate/internal/validator"
)

// Generator produces untrusted query text for one dialect.
type Generator interface {
	Generate(ctx context.Context, d validator.Dialect, reduced *schema.Snapshot, message string) (string, error)
}

// RelationalExecutor runs SQL under a row cap and statement timeout.
type RelationalExecutor interface {
	Execute(ctx context.Context, query string, maxRows int, timeout time.Duration) (*store.Result, error)
}

// DocumentExecutor runs a validated document query under a row cap and
// operation timeout.
type DocumentExecutor interface {
	Execute(ctx context.Context, q *validator.DocumentQuery, maxRows int, timeout time.Duration) (*store.Result, error)
}

// SchemaSource introspects the stores on a schema cache miss.
type SchemaSource interface {
	FetchSchema(ctx context.Context) (*schema.Snapshot, error)
}

// VerdictRecorder receives every validation verdict. A failed write is
// logged and never fails the request.
type VerdictRecorder interface {
	RecordVerdict(ctx context.Context, sessionID string, d validator.Dialect, query string, res validator.Result) error
}

// Limits bound a single request.
type Limits struct {
	MaxInputLength int
	MaxRows        int
	PreviewRows    int
	QueryTimeout   time.Duration
	RequestTimeout time.Duration
}

// DefaultLimits returns the limits used when a field is left zero.
func DefaultLimits() Limits {
	return Limits{
		MaxInputLength: 1000,
		MaxRows:        100,
		PreviewRows:    10,
		QueryTimeout:   30 * time.Second,
		RequestTimeout: 90 * time.Second,
	}
}

// Config wires an Orchestrator. Relational and Document may be nil when that
// store is not configured; Detector and Audit may be nil.
type Config struct {
	Validator  *validator.Validator
	Reducer    *schema.Reducer
	Selector   *intent.Selector
	Detector   intent.Detector
	Generator  Generator
	Relational RelationalExecutor
	Document   DocumentExecutor
	Schema     SchemaSource
	Cache      *cache.Service
	Audit      VerdictRecorder
	Limits     Limits
	Logger     *slog.Logger
}

// Orchestrator runs the request pipeline. It is safe for concurrent use;
// each request gets its own RequestState.
type Orchestrator struct {
	validator  *validator.Validator
	reducer    *schema.Reducer
	selector   *intent.Selector
	detector   intent.Detector
	generator  Generator
	relational RelationalExecutor
	document   DocumentExecutor
	schemas    SchemaSource
	cache      *cache.Service
	audit      VerdictRecorder
	limits     Limits
	logger     *slog.Logger
}

// New builds an Orchestrator, filling unset collaborators with defaults.
func New(cfg Config) *Orchestrator {
	def := DefaultLimits()
	l := cfg.Limits
	if l.MaxInputLength <= 0 {
		l.MaxInputLength = def.MaxInputLength
	}
	if l.MaxRows <= 0 {
		l.MaxRows = def.MaxRows
	}
	if l.PreviewRows <= 0 {
		l.PreviewRows = def.PreviewRows
	}
	if l.QueryTimeout <= 0 {
		l.QueryTimeout = def.QueryTimeout
	}
	if l.RequestTimeout <= 0 {
		l.RequestTimeout = def.RequestTimeout
	}

	o := &Orchestrator{
		validator:  cfg.Validator,
		reducer:    cfg.Reducer,
		selector:   cfg.Selector,
		detector:   cfg.Detector,
		generator:  cfg.Generator,
		relational: cfg.Relational,
		document:   cfg.Document,
		schemas:    cfg.Schema,
		cache:      cfg.Cache,
		audit:      cfg.Audit,
		limits:     l,
		logger:     cfg.Logger,
	}
	if o.validator == nil {
		o.validator = validator.New(validator.DefaultOptions())
	}
	if o.reducer == nil {
		o.reducer = schema.NewReducer(schema.DefaultMaxColumns)
	}
	if o.selector == nil {
		o.selector = intent.DefaultSelector()
	}
	if o.detector == nil {
		o.detector = intent.RegexDetector{}
	}
	if o.cache == nil {
		o.cache = cache.NewService(nil, cache.Options{Logger: cfg.Logger})
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "workflow")
	return o
}

type stage struct {
	name string
	fn   func(context.Context, *RequestState)
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{"input", o.checkInput},
		{"intent", o.detectIntent},
		{"target", o.selectTarget},
		{"schema", o.reduceSchema},
		{"generate", o.generate},
		{"validate", o.validate},
		{"execute", o.execute},
		{"format", o.format},
		{"record", o.record},
	}
}

// Run answers message for sessionID. An empty sessionID skips history. It
// always returns a response; backend errors reach the caller only through
// the sanitizer.
func (o *Orchestrator) Run(ctx context.Context, message, sessionID string) *Response {
	ctx, cancel := context.WithTimeout(ctx, o.limits.RequestTimeout)
	defer cancel()

	state := &RequestState{Raw: message, SessionID: sessionID}
	for _, st := range o.stages() {
		if err := o.runStage(ctx, st, state); err != nil {
			o.logger.Error("request failed", "stage", st.name, "error", err)
			state.Response = &Response{
				Text:      "Something went wrong while processing your request. Please try again.",
				ErrorKind: KindInternal,
			}
			break
		}
		if state.done {
			break
		}
	}
	if state.Response == nil {
		state.Response = &Response{
			Text:      "Something went wrong while processing your request. Please try again.",
			ErrorKind: KindInternal,
		}
	}
	resp := state.Response
	resp.Intent = state.Intent
	resp.Target = state.Target
	resp.SessionID = sessionID
	return resp
}

// Process is Run for callers that must reject malformed session ids before
// any work is done.
func (o *Orchestrator) Process(ctx context.Context, message, sessionID string) (*Response, error) {
	if sessionID != "" && !ValidSessionID(sessionID) {
		return nil, ErrInvalidSession
	}
	return o.Run(ctx, message, sessionID), nil
}

func (o *Orchestrator) runStage(ctx context.Context, st stage, s *RequestState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", st.name, r)
		}
	}()
	st.fn(ctx, s)
	return nil
}

// Schema returns the cached snapshot, or introspects and caches a fresh one
// when refresh is set or the cache misses.
func (o *Orchestrator) Schema(ctx context.Context, refresh bool) (*schema.Snapshot, error) {
	if refresh {
		o.cache.InvalidateSchema(ctx)
	}
	return o.loadSchema(ctx)
}

func (o *Orchestrator) loadSchema(ctx context.Context) (*schema.Snapshot, error) {
	if snap, ok := o.cache.GetSchema(ctx); ok {
		return snap, nil
	}
	if o.schemas == nil {
		return nil, fmt.Errorf("loading schema: %w", store.ErrUnavailable)
	}
	snap, err := o.schemas.FetchSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	o.cache.PutSchema(ctx, snap)
	return snap, nil
}

// History returns the recorded exchanges for sessionID, oldest first.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]cache.Exchange, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrInvalidSession
	}
	return o.cache.GetHistory(ctx, sessionID), nil
}

// ClearHistory drops the history for sessionID.
func (o *Orchestrator) ClearHistory(ctx context.Context, sessionID string) error {
	if !ValidSessionID(sessionID) {
		return ErrInvalidSession
	}
	o.cache.ClearHistory(ctx, sessionID)
	return nil
}

// Validate exposes the validation gate on its own.
func (o *Orchestrator) Validate(query string, d validator.Dialect) validator.Result {
	if d == validator.DialectDocument {
		_, res := o.validator.PrepareDocument(query)
		return res
	}
	return o.validator.Validate(query, d)
}
