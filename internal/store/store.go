// Package store runs validated queries against PostgreSQL and MongoDB and
// describes their schemas.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when a store is not configured or cannot be
// reached.
var ErrUnavailable = errors.New("store unavailable")

// Result holds the records returned by one query, in store order.
type Result struct {
	Columns   []string         `json:"columns"`
	Records   []map[string]any `json:"records"`
	Truncated bool             `json:"truncated"`
}

// Count returns the number of records.
func (r *Result) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// plainValue converts driver values that do not render well as JSON.
func plainValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return formatUUID(t[:])
	case []byte:
		if len(t) == 16 {
			return formatUUID(t)
		}
		return fmt.Sprintf("\\x%x", t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

func formatUUID(b []byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
