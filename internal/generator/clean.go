package generator

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedBlock  = regexp.MustCompile("(?s)```[A-Za-z]*\\s*\\n?(.*?)```")
	labelPrefix  = regexp.MustCompile(`(?im)^\s*(postgresql|postgres|mongodb|sql|query|json)\s*:\s*`)
	statementTop = regexp.MustCompile(`(?im)^\s*(select|with)\b`)
)

// stripFences returns the body of the first fenced code block, or text with
// stray fence markers removed.
func stripFences(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.ReplaceAll(text, "```", "")
}

// CleanSQL extracts the SQL statement from a model reply. Prose lines before
// the first line that starts with SELECT or WITH are dropped unless they hold
// a statement separator. Everything after that point is kept so the
// validator sees it.
func CleanSQL(reply string) string {
	s := stripFences(reply)
	s = labelPrefix.ReplaceAllString(s, "")
	if loc := statementTop.FindStringIndex(s); loc != nil && !strings.Contains(s[:loc[0]], ";") {
		s = s[loc[0]:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	return s
}

// ExtractJSON returns the first complete JSON object in a model reply, or ""
// when there is none.
func ExtractJSON(reply string) string {
	s := labelPrefix.ReplaceAllString(stripFences(reply), "")
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return string(bytes.TrimSpace(raw))
		}
	}
	return ""
}
