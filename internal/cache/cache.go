package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dopamas/querygate/internal/schema"
)

const (
	schemaKey     = "schema:snapshot"
	resultPrefix  = "query_cache:"
	historyPrefix = "history:"
)

// Options configures a Service. Zero durations and sizes use the defaults.
type Options struct {
	SchemaTTL   time.Duration
	ResultTTL   time.Duration
	HistoryTTL  time.Duration
	HistorySize int
	OpTimeout   time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

// DefaultOptions returns the cache defaults.
func DefaultOptions() Options {
	return Options{
		SchemaTTL:   time.Hour,
		ResultTTL:   5 * time.Minute,
		HistoryTTL:  24 * time.Hour,
		HistorySize: 10,
		OpTimeout:   2 * time.Second,
	}
}

// Exchange is one question and answer in a session's history.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

type schemaEntry struct {
	Fingerprint string           `json:"fingerprint"`
	Snapshot    *schema.Snapshot `json:"snapshot"`
}

// Service implements the schema, result and history caches over a Store.
type Service struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// NewService wraps store. A nil store yields a Service whose reads always
// miss.
func NewService(store Store, opts Options) *Service {
	def := DefaultOptions()
	if opts.SchemaTTL <= 0 {
		opts.SchemaTTL = def.SchemaTTL
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = def.ResultTTL
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = def.HistoryTTL
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = def.HistorySize
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = def.OpTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, opts: opts, logger: logger.With("component", "cache")}
}

// HistorySize is the number of exchanges kept per session.
func (s *Service) HistorySize() int { return s.opts.HistorySize }

// GetSchema returns the cached snapshot when its stored fingerprint still
// matches one recomputed from the cached payload. A mismatching or
// undecodable entry is deleted.
func (s *Service) GetSchema(ctx context.Context) (*schema.Snapshot, bool) {
	raw, ok := s.get(ctx, schemaKey)
	if !ok {
		return nil, false
	}
	var e schemaEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Snapshot == nil {
		s.logger.Warn("discarding undecodable schema entry", "error", err)
		s.del(ctx, schemaKey)
		return nil, false
	}
	if fp := schema.Fingerprint(e.Snapshot); fp != e.Fingerprint {
		s.logger.Info("schema fingerprint mismatch, invalidating", "stored", e.Fingerprint, "computed", fp)
		s.del(ctx, schemaKey)
		return nil, false
	}
	return e.Snapshot, true
}

// PutSchema stores snap with its fingerprint.
func (s *Service) PutSchema(ctx context.Context, snap *schema.Snapshot) {
	if snap == nil {
		return
	}
	s.put(ctx, schemaKey, schemaEntry{Fingerprint: schema.Fingerprint(snap), Snapshot: snap}, s.opts.SchemaTTL)
}

// InvalidateSchema drops the cached snapshot.
func (s *Service) InvalidateSchema(ctx context.Context) {
	s.del(ctx, schemaKey)
}

// GetResult decodes the cached result for query into v.
func (s *Service) GetResult(ctx context.Context, query string, v any) bool {
	raw, ok := s.get(ctx, ResultKey(query))
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("discarding undecodable result entry", "error", err)
		s.del(ctx, ResultKey(query))
		return false
	}
	return true
}

// PutResult caches v for query.
func (s *Service) PutResult(ctx context.Context, query string, v any) {
	s.put(ctx, ResultKey(query), v, s.opts.ResultTTL)
}

// AppendHistory adds one exchange and keeps only the most recent entries.
// The TTL restarts on every append.
func (s *Service) AppendHistory(ctx context.Context, sessionID, user, assistant string) {
	h := s.GetHistory(ctx, sessionID)
	h = append(h, Exchange{User: user, Assistant: assistant, Timestamp: s.opts.Clock().UTC()})
	if n := len(h) - s.opts.HistorySize; n > 0 {
		h = h[n:]
	}
	s.put(ctx, historyPrefix+sessionID, h, s.opts.HistoryTTL)
}

// GetHistory returns the session's exchanges, oldest first.
func (s *Service) GetHistory(ctx context.Context, sessionID string) []Exchange {
	raw, ok := s.get(ctx, historyPrefix+sessionID)
	if !ok {
		return nil
	}
	var h []Exchange
	if err := json.Unmarshal(raw, &h); err != nil {
		s.logger.Warn("discarding undecodable history", "error", err)
		return nil
	}
	return h
}

// ClearHistory removes the session's exchanges.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) {
	s.del(ctx, historyPrefix+sessionID)
}

// Healthy reports whether the substrate answers a ping.
func (s *Service) Healthy(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	return s.store.Ping(ctx) == nil
}

// ResultKey derives the result cache key from whitespace-normalized query
// text.
func ResultKey(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return resultPrefix + hex.EncodeToString(sum[:])
}

// NormalizeQuery collapses whitespace runs and trims trailing semicolons.
func NormalizeQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	return strings.TrimRight(q, "; ")
}

func (s *Service) get(ctx context.Context, key string) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	return raw, ok
}

func (s *Service) put(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	if err := s.store.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (s *Service) del(ctx context.Context, key string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}
