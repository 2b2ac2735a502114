package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dopamas/querygate/internal/schema"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)
	svc := NewService(store, Options{
		SchemaTTL:   time.Hour,
		ResultTTL:   5 * time.Minute,
		HistoryTTL:  time.Hour,
		HistorySize: 10,
		Clock:       clock.Now,
	})
	return svc, store, clock
}

func snapshot() *schema.Snapshot {
	return &schema.Snapshot{
		Tables:      map[string][]schema.Column{"persons": {{Name: "id", Type: "integer"}}},
		Collections: map[string][]schema.Field{"reports": {{Name: "title", Type: "string"}}},
	}
}

func TestResultRoundTripAndExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	type payload struct {
		Rows int `json:"rows"`
	}
	svc.PutResult(ctx, "SELECT * FROM persons  LIMIT 10", payload{Rows: 3})

	var got payload
	if !svc.GetResult(ctx, "SELECT *   FROM persons LIMIT 10;", &got) {
		t.Fatal("expected hit for whitespace-equivalent query")
	}
	if got.Rows != 3 {
		t.Errorf("rows = %d", got.Rows)
	}

	clock.Advance(5*time.Minute + time.Second)
	if svc.GetResult(ctx, "SELECT * FROM persons LIMIT 10", &got) {
		t.Error("expected miss after TTL")
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	if _, ok := svc.GetSchema(ctx); ok {
		t.Fatal("expected miss on empty cache")
	}
	svc.PutSchema(ctx, snapshot())
	got, ok := svc.GetSchema(ctx)
	if !ok {
		t.Fatal("expected hit")
	}
	if !got.HasTable("persons") || !got.HasCollection("reports") {
		t.Errorf("unexpected snapshot %+v", got)
	}

	clock.Advance(time.Hour)
	if _, ok := svc.GetSchema(ctx); ok {
		t.Error("expected miss after TTL")
	}
}

func TestSchemaFingerprintMismatchInvalidates(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	stale, _ := json.Marshal(schemaEntry{Fingerprint: "0000000000000000", Snapshot: snapshot()})
	if err := store.Set(ctx, schemaKey, stale, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.GetSchema(ctx); ok {
		t.Fatal("expected miss for mismatched fingerprint")
	}
	if _, ok, _ := store.Get(ctx, schemaKey); ok {
		t.Error("mismatched entry was not deleted")
	}

	if err := store.Set(ctx, schemaKey, []byte("{not json"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.GetSchema(ctx); ok {
		t.Error("expected miss for corrupt entry")
	}
}

func TestHistoryBound(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	k := svc.HistorySize()
	for i := 0; i < k+5; i++ {
		svc.AppendHistory(ctx, "session-1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		clock.Advance(time.Second)
	}
	h := svc.GetHistory(ctx, "session-1")
	if len(h) != k {
		t.Fatalf("len = %d, want %d", len(h), k)
	}
	if h[0].User != "q5" || h[k-1].User != fmt.Sprintf("q%d", k+4) {
		t.Errorf("wrong window: first %q last %q", h[0].User, h[k-1].User)
	}
	if !h[0].Timestamp.Before(h[k-1].Timestamp) {
		t.Error("timestamps not increasing")
	}
}

func TestHistoryTTLRefreshedOnWrite(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	svc.AppendHistory(ctx, "s", "q1", "a1")
	clock.Advance(50 * time.Minute)
	svc.AppendHistory(ctx, "s", "q2", "a2")
	clock.Advance(50 * time.Minute)
	if got := len(svc.GetHistory(ctx, "s")); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
	svc.ClearHistory(ctx, "s")
	if got := svc.GetHistory(ctx, "s"); got != nil {
		t.Errorf("expected cleared history, got %v", got)
	}
}

type brokenStore struct{}

var errDown = errors.New("cache down")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenStore) Delete(context.Context, string) error { return errDown }
func (brokenStore) Ping(context.Context) error           { return errDown }

func TestUnreachableStoreDegrades(t *testing.T) {
	svc := NewService(brokenStore{}, Options{})
	ctx := context.Background()

	svc.PutSchema(ctx, snapshot())
	if _, ok := svc.GetSchema(ctx); ok {
		t.Error("expected schema miss")
	}
	svc.PutResult(ctx, "q", 1)
	var v int
	if svc.GetResult(ctx, "q", &v) {
		t.Error("expected result miss")
	}
	svc.AppendHistory(ctx, "s", "u", "a")
	if h := svc.GetHistory(ctx, "s"); h != nil {
		t.Errorf("expected empty history, got %v", h)
	}
	svc.ClearHistory(ctx, "s")
	if svc.Healthy(ctx) {
		t.Error("broken store reported healthy")
	}
}

func TestNilStore(t *testing.T) {
	svc := NewService(nil, Options{})
	ctx := context.Background()
	svc.PutSchema(ctx, snapshot())
	if _, ok := svc.GetSchema(ctx); ok {
		t.Error("expected miss")
	}
	if svc.Healthy(ctx) {
		t.Error("nil store reported healthy")
	}
}

func TestNormalizeQuery(t *testing.T) {
	if got := NormalizeQuery("  SELECT *\n\tFROM t ;  "); got != "SELECT * FROM t" {
		t.Errorf("got %q", got)
	}
	if ResultKey("SELECT 1") == ResultKey("SELECT 2") {
		t.Error("distinct queries share a key")
	}
}
