package schema

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxColumns bounds the reduced schema handed to query generation.
const DefaultMaxColumns = 60

// Reducer picks the containers relevant to a question.
type Reducer struct {
	MaxColumns int
}

// NewReducer returns a Reducer with the given column budget.
func NewReducer(maxColumns int) *Reducer {
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumns
	}
	return &Reducer{MaxColumns: maxColumns}
}

type candidate struct {
	name     string
	document bool
	columns  int
	score    int
}

// Reduce scores every table and collection against message and the entity
// spans, then keeps the best matches within the column budget. Ties go to the
// alphabetically smaller name. When nothing matches, containers are taken in
// name order until the budget is spent. The result is a new Snapshot; full is
// not modified.
func (r *Reducer) Reduce(full *Snapshot, message string, entities map[string][]string) *Snapshot {
	out := &Snapshot{
		Tables:      map[string][]Column{},
		Collections: map[string][]Field{},
	}
	if full.Empty() {
		return out
	}
	out.FetchedAt = full.FetchedAt

	words := wordSet(message, entities)

	var cands []candidate
	for name, cols := range full.Tables {
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		cands = append(cands, candidate{name: name, columns: len(cols), score: score(name, names, words)})
	}
	for name, fields := range full.Collections {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Name
		}
		cands = append(cands, candidate{name: name, document: true, columns: len(fields), score: score(name, names, words)})
	}

	matched := cands[:0:0]
	for _, c := range cands {
		if c.score > 0 {
			matched = append(matched, c)
		}
	}

	budget := r.MaxColumns
	if len(matched) > 0 {
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].score != matched[j].score {
				return matched[i].score > matched[j].score
			}
			return less(matched[i], matched[j])
		})
		for _, c := range matched {
			if c.columns <= budget || len(out.Tables)+len(out.Collections) == 0 {
				budget -= r.take(full, out, c, budget)
			}
		}
		return out
	}

	sort.Slice(cands, func(i, j int) bool { return less(cands[i], cands[j]) })
	for _, c := range cands {
		if c.columns > budget && len(out.Tables)+len(out.Collections) > 0 {
			break
		}
		budget -= r.take(full, out, c, budget)
	}
	return out
}

// Relevant reports whether any table or collection in full scores above zero
// for message and the entity spans.
func (r *Reducer) Relevant(full *Snapshot, message string, entities map[string][]string) bool {
	if full == nil {
		return false
	}
	words := wordSet(message, entities)
	for name, cols := range full.Tables {
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		if score(name, names, words) > 0 {
			return true
		}
	}
	for name, fields := range full.Collections {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Name
		}
		if score(name, names, words) > 0 {
			return true
		}
	}
	return false
}

func less(a, b candidate) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	return !a.document && b.document
}

// take copies c into out, truncated to budget columns, and returns the number
// of columns used.
func (r *Reducer) take(full, out *Snapshot, c candidate, budget int) int {
	n := c.columns
	if n > budget {
		n = budget
	}
	if c.document {
		out.Collections[c.name] = append([]Field(nil), full.Collections[c.name][:n]...)
	} else {
		out.Tables[c.name] = append([]Column(nil), full.Tables[c.name][:n]...)
	}
	return n
}

// score counts how many of the container's names appear as whole words. A
// container name hit weighs three, a column name two, and a column name part
// of four letters or more one.
func score(container string, columns []string, words map[string]bool) int {
	s := 0
	for _, v := range variants(strings.ToLower(container)) {
		if words[v] {
			s += 3
			break
		}
	}
	for _, col := range columns {
		lc := strings.ToLower(col)
		if words[lc] {
			s += 2
			continue
		}
		for _, part := range strings.Split(lc, "_") {
			if len(part) < 4 {
				continue
			}
			if words[part] || words[part+"s"] {
				s++
				break
			}
		}
	}
	return s
}

// variants returns name with its likely singular and plural forms.
func variants(name string) []string {
	v := []string{name}
	switch {
	case strings.HasSuffix(name, "ies"):
		v = append(v, strings.TrimSuffix(name, "ies")+"y")
	case strings.HasSuffix(name, "es"):
		v = append(v, strings.TrimSuffix(name, "es"), strings.TrimSuffix(name, "s"))
	case strings.HasSuffix(name, "s"):
		v = append(v, strings.TrimSuffix(name, "s"))
	case strings.HasSuffix(name, "y"):
		v = append(v, strings.TrimSuffix(name, "y")+"ies")
	default:
		v = append(v, name+"s", name+"es")
	}
	return v
}

// wordSet splits message and entity spans into lower-case identifier words.
// Multi-word spans also contribute their underscore-joined form.
func wordSet(message string, entities map[string][]string) map[string]bool {
	words := map[string]bool{}
	add := func(text string, span bool) {
		parts := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
		})
		for _, p := range parts {
			words[p] = true
		}
		if span && len(parts) > 1 {
			words[strings.Join(parts, "_")] = true
		}
	}
	add(message, false)
	for _, spans := range entities {
		for _, s := range spans {
			add(s, true)
		}
	}
	return words
}
