package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
)

// VerifiedEmptyText answers a query that ran against fields known to exist
// but matched nothing.
const VerifiedEmptyText = "I verified the database, but no data is available for the requested information. " +
	"The fields exist in the database schema, but they are currently empty or not populated in the records."

// NoRecordsText answers a query that matched nothing when the referenced
// fields could not be confirmed against the schema.
const NoRecordsText = "No records found matching your question."

var (
	fromTarget = regexp.MustCompile(`(?i)\b(?:from|join)\s+("?[A-Za-z_][\w$]*"?(?:\s*\.\s*"?[A-Za-z_][\w$]*"?)?)`)
	cteName    = regexp.MustCompile(`(?i)(?:\bwith(?:\s+recursive)?|,)\s*"?([A-Za-z_]\w*)"?\s+as\s*\(`)
)

// relationalVerified reports whether every table the query reads from is in
// full. Common table expressions are not tables and are ignored.
func relationalVerified(full *schema.Snapshot, query string) bool {
	ctes := map[string]bool{}
	for _, m := range cteName.FindAllStringSubmatch(query, -1) {
		ctes[strings.ToLower(m[1])] = true
	}
	seen := 0
	for _, loc := range fromTarget.FindAllStringSubmatchIndex(query, -1) {
		if inKeywordFunction(query, loc[0]) {
			continue
		}
		name := strings.ReplaceAll(query[loc[2]:loc[3]], `"`, "")
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		name = strings.TrimSpace(name)
		if ctes[strings.ToLower(name)] {
			continue
		}
		if !full.HasTable(name) {
			return false
		}
		seen++
	}
	return seen > 0
}

// keywordFunctions take FROM inside their argument list.
var keywordFunctions = map[string]bool{
	"extract": true, "substring": true, "trim": true, "overlay": true, "position": true,
}

// inKeywordFunction reports whether pos sits inside the parentheses of one of
// keywordFunctions.
func inKeywordFunction(query string, pos int) bool {
	depth := 0
	open := -1
	for i := pos - 1; i >= 0 && open < 0; i-- {
		switch query[i] {
		case ')':
			depth++
		case '(':
			if depth == 0 {
				open = i
			} else {
				depth--
			}
		}
	}
	if open < 0 {
		return false
	}
	end := open
	for end > 0 && query[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && isWordByte(query[start-1]) {
		start--
	}
	return keywordFunctions[strings.ToLower(query[start:end])]
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// documentVerified reports whether the collection and every plain field the
// filter names are in full.
func documentVerified(full *schema.Snapshot, q *validator.DocumentQuery) bool {
	if q == nil || !full.HasCollection(q.Collection) {
		return false
	}
	for _, e := range q.Filter {
		if strings.HasPrefix(e.Key, "$") {
			continue
		}
		if !full.HasField(q.Collection, e.Key) {
			return false
		}
	}
	return true
}

// formatText renders each store's outcome. Headings are added only when more
// than one store ran.
func formatText(runs []*storeRun, headings bool, preview, maxRows int) string {
	var parts []string
	for _, r := range runs {
		var body string
		switch r.Status {
		case StatusOK:
			body = formatResult(r, preview, maxRows)
		case StatusFailed:
			if !headings {
				continue
			}
			body = r.Failure.Message
		default:
			continue
		}
		if headings {
			body = label(r.Dialect) + ":\n" + body
		}
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n\n")
}

func formatResult(r *storeRun, preview, maxRows int) string {
	n := r.Result.Count()
	if n == 0 {
		if r.Verified {
			return VerifiedEmptyText
		}
		return NoRecordsText
	}

	var b strings.Builder
	if n == 1 {
		b.WriteString("Found 1 record.\n")
	} else {
		fmt.Fprintf(&b, "Found %d records.\n", n)
	}
	columns := r.Result.Columns
	if len(columns) == 0 {
		columns = recordKeys(r.Result.Records[0])
	}
	shown := n
	if preview > 0 && shown > preview {
		shown = preview
	}
	for i, rec := range r.Result.Records[:shown] {
		fields := make([]string, 0, len(columns))
		for _, c := range columns {
			fields = append(fields, fmt.Sprintf("%s: %s", c, displayValue(rec[c])))
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(fields, ", "))
	}
	if shown < n {
		fmt.Fprintf(&b, "(showing %d of %d)\n", shown, n)
	}
	if r.Result.Truncated {
		fmt.Fprintf(&b, "Results were limited to the first %d rows.\n", maxRows)
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return t
	}
	return fmt.Sprint(v)
}

func recordKeys(rec map[string]any) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
