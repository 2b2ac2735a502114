package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dopamas/querygate/internal/cache"
)

var _ cache.Store = (*DB)(nil)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenMemory(t *testing.T) {
	d := setupTestDB(t)

	var count int
	if err := d.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&count); err != nil {
		t.Errorf("cache_entries: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	d := setupTestDB(t)

	// Running migrate again should not fail.
	if err := d.migrate(); err != nil {
		t.Fatalf("second migrate() error: %v", err)
	}
}

func TestSetGetDelete(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := d.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := d.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := d.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, ok, err := d.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v2" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	if err := d.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := d.Get(ctx, "k"); ok {
		t.Error("entry still present after Delete")
	}
}

func TestExpiry(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return now })

	if err := d.Set(ctx, "short", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := d.Set(ctx, "long", []byte("y"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := d.Get(ctx, "short"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := d.Get(ctx, "short"); ok {
		t.Error("expected miss after expiry")
	}
	n, err := d.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("purged %d, want 0 (short already removed on read)", n)
	}

	now = now.Add(time.Hour)
	if n, _ := d.Purge(ctx); n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if d.Path() != path {
		t.Errorf("Path = %q", d.Path())
	}
	if err := d.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
