// Package schema describes the shape of the backing stores and reduces it to
// the part relevant for one question.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column describes one relational column.
type Column struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Nullable  bool   `json:"nullable"`
	MaxLength int    `json:"max_length,omitempty"`
}

// Field describes one document field with its inferred type.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Snapshot is the schema of both stores at one point in time.
type Snapshot struct {
	Tables      map[string][]Column `json:"tables"`
	Collections map[string][]Field  `json:"collections"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 16

// Fingerprint hashes the sorted table and collection names. Column and field
// lists do not contribute, so it changes only when containers are added or
// removed.
func Fingerprint(s *Snapshot) string {
	if s == nil {
		s = &Snapshot{}
	}
	shape := "pg:" + strings.Join(s.TableNames(), ",") + "|mongo:" + strings.Join(s.CollectionNames(), ",")
	sum := sha256.Sum256([]byte(shape))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// TableNames returns the table names in ascending order.
func (s *Snapshot) TableNames() []string {
	return sortedKeys(s.Tables)
}

// CollectionNames returns the collection names in ascending order.
func (s *Snapshot) CollectionNames() []string {
	return sortedKeys(s.Collections)
}

// Empty reports whether the snapshot has no containers at all.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Tables) == 0 && len(s.Collections) == 0)
}

// HasTable reports whether name is a known table, ignoring case.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := lookup(s.Tables, name)
	return ok
}

// HasCollection reports whether name is a known collection, ignoring case.
func (s *Snapshot) HasCollection(name string) bool {
	_, ok := lookup(s.Collections, name)
	return ok
}

// HasField reports whether collection has a field whose name, or the first
// segment of a dotted path, equals field.
func (s *Snapshot) HasField(collection, field string) bool {
	fields, ok := lookup(s.Collections, collection)
	if !ok {
		return false
	}
	head, _, _ := strings.Cut(field, ".")
	for _, f := range fields {
		if strings.EqualFold(f.Name, field) || strings.EqualFold(f.Name, head) {
			return true
		}
	}
	return false
}

// ColumnCount returns the total number of columns and fields.
func (s *Snapshot) ColumnCount() int {
	n := 0
	for _, cols := range s.Tables {
		n += len(cols)
	}
	for _, fields := range s.Collections {
		n += len(fields)
	}
	return n
}

// Format renders the relational part, the document part, or both, as plain
// text for a generation prompt.
func (s *Snapshot) Format(relational, document bool) string {
	var b strings.Builder
	if relational {
		for _, name := range s.TableNames() {
			fmt.Fprintf(&b, "Table %s:\n", name)
			for _, c := range s.Tables[name] {
				typ := c.Type
				if c.MaxLength > 0 {
					typ = fmt.Sprintf("%s(%d)", typ, c.MaxLength)
				}
				null := "null"
				if !c.Nullable {
					null = "not null"
				}
				fmt.Fprintf(&b, "  - %s %s %s\n", c.Name, typ, null)
			}
		}
	}
	if document {
		for _, name := range s.CollectionNames() {
			fmt.Fprintf(&b, "Collection %s:\n", name)
			for _, f := range s.Collections[name] {
				fmt.Fprintf(&b, "  - %s %s\n", f.Name, f.Type)
			}
		}
	}
	return b.String()
}

func lookup[V any](m map[string]V, name string) (V, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
