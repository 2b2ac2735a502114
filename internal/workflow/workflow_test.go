package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dopamas/querygate/internal/cache"
	"github.com/dopamas/querygate/internal/sanitize"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/store"
	"github.com/dopamas/querygate/internal/validator"
)

type fakeGenerator struct {
	mu      sync.Mutex
	replies map[validator.Dialect]string
	err     error
	panics  bool
	calls   int
}

func (g *fakeGenerator) Generate(_ context.Context, d validator.Dialect, reduced *schema.Snapshot, _ string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.panics {
		panic("generator exploded")
	}
	if g.err != nil {
		return "", g.err
	}
	if reduced == nil {
		return "", errors.New("no schema")
	}
	return g.replies[d], nil
}

type fakeSQL struct {
	mu      sync.Mutex
	result  *store.Result
	err     error
	queries []string
}

func (f *fakeSQL) Execute(_ context.Context, query string, _ int, _ time.Duration) (*store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.result, f.err
}

type fakeDocs struct {
	mu     sync.Mutex
	result *store.Result
	err    error
	calls  int
	last   *validator.DocumentQuery
}

func (f *fakeDocs) Execute(_ context.Context, q *validator.DocumentQuery, _ int, _ time.Duration) (*store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = q
	return f.result, f.err
}

type fakeSchema struct {
	snap  *schema.Snapshot
	err   error
	calls int
}

func (f *fakeSchema) FetchSchema(context.Context) (*schema.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func caseSchema() *schema.Snapshot {
	return &schema.Snapshot{
		Tables: map[string][]schema.Column{
			"persons": {
				{Name: "id", Type: "integer"},
				{Name: "full_name", Type: "text", Nullable: true},
				{Name: "present_state_ut", Type: "text", Nullable: true},
				{Name: "permanent_state_ut", Type: "text", Nullable: true},
			},
			"crimes": {
				{Name: "id", Type: "integer"},
				{Name: "crime_type", Type: "text"},
				{Name: "reg_dt", Type: "date"},
			},
		},
		Collections: map[string][]schema.Field{
			"reports": {{Name: "_id", Type: "objectId"}, {Name: "title", Type: "string"}},
		},
	}
}

type harness struct {
	orch   *Orchestrator
	gen    *fakeGenerator
	sql    *fakeSQL
	docs   *fakeDocs
	schema *fakeSchema
	cache  *cache.Service
}

// newHarness wires an orchestrator against fakes. withDocs adds the document
// store.
func newHarness(t *testing.T, withDocs bool) *harness {
	t.Helper()
	h := &harness{
		gen:    &fakeGenerator{replies: map[validator.Dialect]string{}},
		sql:    &fakeSQL{result: &store.Result{}},
		docs:   &fakeDocs{result: &store.Result{}},
		schema: &fakeSchema{snap: caseSchema()},
		cache:  cache.NewService(cache.NewMemoryStore(nil), cache.Options{}),
	}
	cfg := Config{
		Generator:  h.gen,
		Relational: h.sql,
		Schema:     h.schema,
		Cache:      h.cache,
	}
	if withDocs {
		cfg.Document = h.docs
	}
	h.orch = New(cfg)
	return h
}

func TestBlockedWriteIsRefused(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "DROP TABLE crimes;"

	resp := h.orch.Run(context.Background(), "DROP TABLE crimes;", "")

	if resp.Success || resp.ErrorKind != KindBlocked {
		t.Fatalf("expected validation-blocked, got %+v", resp)
	}
	if !strings.Contains(resp.Text, "write-operation") {
		t.Errorf("refusal should name the category: %q", resp.Text)
	}
	if strings.Contains(resp.Text, "DROP") || strings.Contains(resp.Text, "crimes") {
		t.Errorf("refusal echoes the rejected query: %q", resp.Text)
	}
	if len(h.sql.queries) != 0 {
		t.Error("blocked query reached the executor")
	}
	if resp.Queries != nil || resp.Stores[0].Query != "" || resp.Stores[0].Status != StatusBlocked {
		t.Errorf("blocked query leaked into the response: %+v", resp)
	}
}

func TestVerifiedEmptyResult(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "SELECT full_name FROM persons WHERE present_state_ut = 'Telangana'"

	resp := h.orch.Run(context.Background(), "show me all persons from state Telangana", "")

	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Text != VerifiedEmptyText {
		t.Errorf("text = %q, want verified-empty", resp.Text)
	}
	if len(h.sql.queries) != 1 || !strings.HasSuffix(h.sql.queries[0], "LIMIT 100") {
		t.Errorf("executed queries = %q, want a capped query", h.sql.queries)
	}
	if !resp.Stores[0].Verified {
		t.Error("outcome should be verified")
	}
	if resp.Queries["relational"] != h.sql.queries[0] {
		t.Errorf("reported query %q differs from executed %q", resp.Queries["relational"], h.sql.queries[0])
	}
}

func TestUnverifiedEmptyResult(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "SELECT * FROM suspects LIMIT 10"

	resp := h.orch.Run(context.Background(), "show me all persons from state Telangana", "")

	if !resp.Success || resp.Text != NoRecordsText {
		t.Errorf("got %+v, want no-records text", resp)
	}
}

func TestSchemaUnavailable(t *testing.T) {
	h := newHarness(t, false)
	h.schema.snap = nil
	h.schema.err = fmt.Errorf("fetching schema: %w", store.ErrUnavailable)

	resp := h.orch.Run(context.Background(), "show me all persons from state Telangana", "")

	if resp.Success || resp.ErrorKind != KindExecution || resp.ErrorCategory != sanitize.CategoryConnection {
		t.Fatalf("got %+v, want execution-failure/connection", resp)
	}
	if h.gen.calls != 0 {
		t.Error("generation ran without a schema")
	}
	if _, ok := h.cache.GetSchema(context.Background()); ok {
		t.Error("failed fetch should not populate the cache")
	}
}

func TestInputErrors(t *testing.T) {
	h := newHarness(t, false)
	tests := []struct {
		name, msg, session string
	}{
		{"empty", "   ", ""},
		{"too long", strings.Repeat("a", 1001), ""},
		{"control", "show persons\x00", ""},
		{"session", "show persons", "bad id!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.orch.Run(context.Background(), tt.msg, tt.session)
			if resp.Success || resp.ErrorKind != KindInput {
				t.Errorf("got %+v, want input-error", resp)
			}
		})
	}
	if h.schema.calls != 0 {
		t.Error("input errors should stop before schema loading")
	}
}

func TestSanitizeInput(t *testing.T) {
	got, err := SanitizeInput("  show\tme \n\n persons  ", 100)
	if err != nil {
		t.Fatal(err)
	}
	if got != "show me persons" {
		t.Errorf("got %q", got)
	}
	var ie *InputError
	if _, err := SanitizeInput("a\x1bb", 100); !errors.As(err, &ie) {
		t.Errorf("escape byte: err = %v", err)
	}
}

func TestClarificationAndHelp(t *testing.T) {
	h := newHarness(t, false)

	resp := h.orch.Run(context.Background(), "show me", "")
	if !resp.Success || resp.Text != clarificationText {
		t.Errorf("clarification: got %+v", resp)
	}
	if h.schema.calls != 0 {
		t.Error("clarification should exit before schema loading")
	}

	resp = h.orch.Run(context.Background(), "hello there friend", "")
	if !resp.Success || resp.Text != helpText {
		t.Errorf("help: got %+v", resp)
	}
	if h.gen.calls != 0 {
		t.Error("no generation expected")
	}
}

func TestGenerationFailure(t *testing.T) {
	h := newHarness(t, false)
	h.gen.err = errors.New("model overloaded")

	resp := h.orch.Run(context.Background(), "list crimes by type", "")
	if resp.Success || resp.ErrorKind != KindGeneration {
		t.Errorf("got %+v, want generation-failure", resp)
	}
}

// stallingGenerator blocks until the request context ends.
type stallingGenerator struct{}

func (stallingGenerator) Generate(ctx context.Context, _ validator.Dialect, _ *schema.Snapshot, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// stallingSQL blocks until the request context ends.
type stallingSQL struct{}

func (stallingSQL) Execute(ctx context.Context, _ string, _ int, _ time.Duration) (*store.Result, error) {
	<-ctx.Done()
	return nil, errors.New("query interrupted")
}

func TestRequestBudgetDuringGeneration(t *testing.T) {
	sql := &fakeSQL{result: &store.Result{}}
	orch := New(Config{
		Generator:  stallingGenerator{},
		Relational: sql,
		Schema:     &fakeSchema{snap: caseSchema()},
		Limits:     Limits{RequestTimeout: 50 * time.Millisecond},
	})

	resp := orch.Run(context.Background(), "list crimes", "")

	if resp.Success || resp.ErrorKind != KindExecution || resp.ErrorCategory != sanitize.CategoryTimeout {
		t.Fatalf("got %+v, want execution-failure with timeout category", resp)
	}
	if resp.Text != sanitize.CategoryTimeout.Message() {
		t.Errorf("text = %q", resp.Text)
	}
	if len(sql.queries) != 0 {
		t.Errorf("nothing should execute after the budget ran out: %v", sql.queries)
	}
}

func TestRequestBudgetDuringExecution(t *testing.T) {
	gen := &fakeGenerator{replies: map[validator.Dialect]string{
		validator.DialectRelational: "SELECT crime_type FROM crimes LIMIT 5",
	}}
	orch := New(Config{
		Generator:  gen,
		Relational: stallingSQL{},
		Schema:     &fakeSchema{snap: caseSchema()},
		Limits:     Limits{RequestTimeout: 50 * time.Millisecond},
	})

	resp := orch.Run(context.Background(), "list crimes", "")

	if resp.Success || resp.ErrorCategory != sanitize.CategoryTimeout {
		t.Fatalf("got %+v, want timeout category", resp)
	}
}

func TestExecutionFailureIsSanitized(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "SELECT * FROM crimes LIMIT 5"
	h.sql.err = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused (password=hunter2)")

	resp := h.orch.Run(context.Background(), "list crimes", "")

	if resp.Success || resp.ErrorKind != KindExecution || resp.ErrorCategory != sanitize.CategoryConnection {
		t.Fatalf("got %+v", resp)
	}
	for _, leak := range []string{"10.0.0.5", "hunter2", "5432"} {
		if strings.Contains(resp.Text, leak) {
			t.Errorf("response leaks %q: %q", leak, resp.Text)
		}
	}
}

func TestHistoryAndResultCache(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "SELECT full_name FROM persons LIMIT 10"
	h.sql.result = &store.Result{Columns: []string{"full_name"}, Records: []map[string]any{{"full_name": "Ravi"}}}
	ctx := context.Background()
	const sid = "session-1234"

	first := h.orch.Run(ctx, "show persons", sid)
	second := h.orch.Run(ctx, "show persons", sid)

	if !first.Success || !second.Success {
		t.Fatalf("expected success: %+v / %+v", first, second)
	}
	if len(h.sql.queries) != 1 {
		t.Errorf("executor ran %d times, want 1 (second answer cached)", len(h.sql.queries))
	}
	if !second.Stores[0].Cached || !strings.Contains(second.Text, "Ravi") {
		t.Errorf("second response not served from cache: %+v", second)
	}
	if h.schema.calls != 1 {
		t.Errorf("schema fetched %d times, want 1", h.schema.calls)
	}

	hist, err := h.orch.History(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].User != "show persons" {
		t.Errorf("history = %+v", hist)
	}
	if err := h.orch.ClearHistory(ctx, sid); err != nil {
		t.Fatal(err)
	}
	if hist, _ := h.orch.History(ctx, sid); len(hist) != 0 {
		t.Errorf("history after clear = %+v", hist)
	}
	if _, err := h.orch.History(ctx, "x"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("err = %v, want ErrInvalidSession", err)
	}
}

func TestAggregationIsNotCached(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "SELECT count(*) FROM crimes"
	h.sql.result = &store.Result{Columns: []string{"count"}, Records: []map[string]any{{"count": int64(7)}}}

	h.orch.Run(context.Background(), "how many crimes", "")
	h.orch.Run(context.Background(), "how many crimes", "")

	if len(h.sql.queries) != 2 {
		t.Errorf("executor ran %d times, want 2", len(h.sql.queries))
	}
}

func TestBlockedQuerySuppressesOtherStore(t *testing.T) {
	h := newHarness(t, true)
	h.gen.replies[validator.DialectRelational] = "SELECT title FROM crimes LIMIT 5"
	h.gen.replies[validator.DialectDocument] = `{"collection":"reports","filter":{"$where":"this.title.length > 0"}}`

	resp := h.orch.Run(context.Background(), "list reports and crimes", "")

	if resp.ErrorKind != KindBlocked || !strings.Contains(resp.Text, "code-injection") {
		t.Fatalf("got %+v", resp)
	}
	if len(h.sql.queries) != 0 || h.docs.calls != 0 {
		t.Error("no store should execute when any query is blocked")
	}
}

func TestBothStoresPartialFailure(t *testing.T) {
	h := newHarness(t, true)
	h.gen.replies[validator.DialectRelational] = "SELECT crime_type FROM crimes LIMIT 5"
	h.gen.replies[validator.DialectDocument] = `{"collection":"reports","filter":{"title":"theft"}}`
	h.sql.result = &store.Result{Columns: []string{"crime_type"}, Records: []map[string]any{{"crime_type": "theft"}}}
	h.docs.err = errors.New("server selection error: context deadline exceeded")

	resp := h.orch.Run(context.Background(), "list crimes and reports", "")

	if !resp.Success {
		t.Fatalf("expected partial success, got %+v", resp)
	}
	if !strings.Contains(resp.Text, "PostgreSQL:") || !strings.Contains(resp.Text, "MongoDB:") {
		t.Errorf("missing store headings: %q", resp.Text)
	}
	if h.docs.last == nil || h.docs.last.Limit != 100 {
		t.Errorf("document query not capped: %+v", h.docs.last)
	}
	if resp.Stores[1].Error == nil || resp.Stores[1].Error.Category != sanitize.CategoryTimeout {
		t.Errorf("document outcome = %+v", resp.Stores[1])
	}
}

func TestPreviewAndTruncation(t *testing.T) {
	h := newHarness(t, false)
	h.gen.replies[validator.DialectRelational] = "SELECT id FROM crimes"
	res := &store.Result{Columns: []string{"id"}, Truncated: true}
	for i := 0; i < 15; i++ {
		res.Records = append(res.Records, map[string]any{"id": i})
	}
	h.sql.result = res

	resp := h.orch.Run(context.Background(), "list crimes", "")

	for _, want := range []string{"Found 15 records.", "10. id: 9", "(showing 10 of 15)", "limited to the first 100 rows"} {
		if !strings.Contains(resp.Text, want) {
			t.Errorf("text missing %q:\n%s", want, resp.Text)
		}
	}
	if strings.Contains(resp.Text, "11. ") {
		t.Errorf("preview shows too many rows:\n%s", resp.Text)
	}
}

func TestPanicBecomesInternalDefect(t *testing.T) {
	h := newHarness(t, false)
	h.gen.panics = true

	resp := h.orch.Run(context.Background(), "list crimes", "")
	if resp.Success || resp.ErrorKind != KindInternal {
		t.Errorf("got %+v, want internal-defect", resp)
	}
	if strings.Contains(resp.Text, "exploded") {
		t.Errorf("panic value leaked: %q", resp.Text)
	}
}

func TestProcessRejectsMalformedSession(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.orch.Process(context.Background(), "list crimes", "no"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("err = %v, want ErrInvalidSession", err)
	}
}

func TestRelationalVerified(t *testing.T) {
	full := caseSchema()
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT * FROM persons LIMIT 5", true},
		{`SELECT * FROM public."persons" p JOIN crimes c ON c.id = p.id`, true},
		{"SELECT EXTRACT(YEAR FROM reg_dt) AS y, count(*) FROM crimes GROUP BY y", true},
		{"WITH recent AS (SELECT * FROM crimes) SELECT * FROM recent", true},
		{"SELECT * FROM persons JOIN suspects ON true", false},
		{"SELECT 1", false},
	}
	for _, tt := range tests {
		if got := relationalVerified(full, tt.query); got != tt.want {
			t.Errorf("relationalVerified(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestDocumentVerified(t *testing.T) {
	full := caseSchema()
	q, _ := validator.New(validator.DefaultOptions()).PrepareDocument(`{"collection":"reports","filter":{"title":"x"}}`)
	if !documentVerified(full, q) {
		t.Error("expected verified")
	}
	q, _ = validator.New(validator.DefaultOptions()).PrepareDocument(`{"collection":"reports","filter":{"author":"x"}}`)
	if documentVerified(full, q) {
		t.Error("unknown field should not verify")
	}
}

type fakeAudit struct {
	mu       sync.Mutex
	sessions []string
	verdicts []validator.Verdict
	err      error
}

func (f *fakeAudit) RecordVerdict(_ context.Context, sessionID string, _ validator.Dialect, _ string, res validator.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	f.verdicts = append(f.verdicts, res.Verdict)
	return f.err
}

func TestVerdictsAreAudited(t *testing.T) {
	h := newHarness(t, false)
	trail := &fakeAudit{}
	h.orch.audit = trail

	h.gen.replies[validator.DialectRelational] = "DROP TABLE crimes;"
	h.orch.Run(context.Background(), "DROP TABLE crimes;", "session-01")
	if len(trail.verdicts) != 1 || trail.verdicts[0] != validator.VerdictBlocked || trail.sessions[0] != "session-01" {
		t.Fatalf("audit = %+v", trail)
	}

	trail.err = errors.New("disk full")
	h.gen.replies[validator.DialectRelational] = "SELECT full_name FROM persons"
	resp := h.orch.Run(context.Background(), "show me all persons", "session-01")
	if !resp.Success {
		t.Errorf("audit failure should not fail the request: %+v", resp)
	}
	if len(trail.verdicts) != 2 || trail.verdicts[1] != validator.VerdictSafe {
		t.Errorf("audit = %+v", trail)
	}
}
