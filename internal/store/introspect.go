package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dopamas/querygate/internal/schema"
)

// TableSource describes relational tables.
type TableSource interface {
	FetchTables(ctx context.Context) (map[string][]schema.Column, error)
}

// CollectionSource describes document collections.
type CollectionSource interface {
	FetchCollections(ctx context.Context) (map[string][]schema.Field, error)
}

// Introspector builds a schema.Snapshot from whichever stores are
// configured. Nil sources are skipped.
type Introspector struct {
	Tables      TableSource
	Collections CollectionSource
	Logger      *slog.Logger
	Now         func() time.Time
	// Mask strips credentials and hosts from an error message before it is
	// logged. When nil, source errors are logged without their text.
	Mask        func(string) string
}

// FetchSchema queries both sources concurrently. A source that fails is
// left out of the snapshot and logged; the call fails only when no source
// succeeded.
func (in *Introspector) FetchSchema(ctx context.Context) (*schema.Snapshot, error) {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := in.Now
	if now == nil {
		now = time.Now
	}

	var (
		tables      map[string][]schema.Column
		collections map[string][]schema.Field
		tableErr    error
		collErr     error
	)
	var g errgroup.Group
	if in.Tables != nil {
		g.Go(func() error {
			tables, tableErr = in.Tables.FetchTables(ctx)
			return nil
		})
	}
	if in.Collections != nil {
		g.Go(func() error {
			collections, collErr = in.Collections.FetchCollections(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if in.Tables == nil && in.Collections == nil {
		return nil, fmt.Errorf("fetching schema: no store configured: %w", ErrUnavailable)
	}
	tablesOK := in.Tables != nil && tableErr == nil
	collectionsOK := in.Collections != nil && collErr == nil
	if !tablesOK && !collectionsOK {
		return nil, fmt.Errorf("fetching schema: %w", errors.Join(tableErr, collErr))
	}
	if tableErr != nil {
		logger.Warn("relational schema unavailable", "error", in.errorText(tableErr))
	}
	if collErr != nil {
		logger.Warn("document schema unavailable", "error", in.errorText(collErr))
	}

	snap := &schema.Snapshot{
		Tables:      map[string][]schema.Column{},
		Collections: map[string][]schema.Field{},
		FetchedAt:   now().UTC(),
	}
	for k, v := range tables {
		snap.Tables[k] = v
	}
	for k, v := range collections {
		snap.Collections[k] = v
	}
	return snap, nil
}

func (in *Introspector) errorText(err error) string {
	if in.Mask == nil {
		return "redacted"
	}
	return in.Mask(err.Error())
}
