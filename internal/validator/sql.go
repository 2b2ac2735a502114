package validator

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	wordPattern     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$]*`)
	dottedPattern   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$]*(?:\s*\.\s*[A-Za-z_][A-Za-z0-9_$]*)*`)
	firstWord       = regexp.MustCompile(`^[\s(]*([A-Za-z_]+)`)
	leadingComments = regexp.MustCompile(`^(?:\s*(?:--[^\n]*(?:\n|$)|/\*(?s:.*?)\*/))+`)
	stackPattern    = regexp.MustCompile(`;\s*\S`)

	// An equality whose two sides are the same constant. The leading group
	// keeps <=, >= and != out of the match.
	equalConstants = regexp.MustCompile(`(^|[^<>!=])\s*(#+|\b\d+(?:\.\d+)?\b)\s*={1,2}\s*(#+|\b\d+(?:\.\d+)?\b)`)
	alwaysTrue     = regexp.MustCompile(`(?i)\b(?:WHERE|OR)\s+(?:\(\s*)?(?:TRUE|NOT\s+FALSE)\b`)

	delayCall  = regexp.MustCompile(`(?i)\b(?:pg_sleep|pg_sleep_for|pg_sleep_until|sleep|benchmark)\s*\(|\bwaitfor\s+delay\b`)
	fileAccess = regexp.MustCompile(`(?i)\b(?:pg_read_file|pg_read_binary_file|pg_ls_dir|pg_stat_file|lo_import|lo_export|load_file)\s*\(|\binto\s+(?:outfile|dumpfile)\b|\bcopy\b`)
	joinWord   = regexp.MustCompile(`(?i)\bjoin\b`)
	limitWord  = regexp.MustCompile(`(?i)\blimit\b|\bfetch\s+(?:first|next)\b`)
	aggregate  = regexp.MustCompile(`(?i)\b(?:count|sum|avg|min|max)\s*\(`)
	groupBy    = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	whereWord  = regexp.MustCompile(`(?i)\bwhere\b`)
)

// writeVerbs are statement keywords that change data, schema or privileges.
var writeVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "TRUNCATE": true, "GRANT": true, "REVOKE": true,
	"CREATE": true, "MERGE": true, "UPSERT": true, "CALL": true,
	"EXEC": true, "EXECUTE": true, "VACUUM": true, "REINDEX": true,
	"CLUSTER": true, "LOCK": true, "SET": true, "RESET": true,
}

// catalogPatterns match identifiers that expose system metadata.
var catalogPatterns = []string{
	"pg_catalog",
	"pg_catalog.*",
	"information_schema",
	"information_schema.*",
	"pg_*",
	"*.pg_*",
	"sqlite_master",
	"sqlite_schema",
	"mysql.*",
}

// disclosureCalls reveal server configuration when invoked.
var disclosureCalls = map[string]bool{
	"version": true, "current_setting": true, "inet_server_addr": true,
	"inet_server_port": true, "pg_postmaster_start_time": true,
}

// relationalRule inspects a masked statement and reports at most one finding.
type relationalRule func(v *Validator, raw string, m *maskedSQL) (Finding, bool)

// relationalRules run in order; the first blocking finding ends the scan.
var relationalRules = []relationalRule{
	ruleWriteVerb,
	ruleStacking,
	ruleFileAccess,
	ruleCatalog,
	ruleTautology,
	ruleLeadingVerb,
	ruleDelay,
	ruleComment,
	ruleComplexity,
	ruleMissingLimit,
}

func (v *Validator) validateRelational(query string) Result {
	if strings.TrimSpace(query) == "" {
		return newResult([]Finding{{Type: ThreatMalformedQuery, Level: LevelDangerous}})
	}
	m := maskSQL(query)
	if m.unterminated {
		return newResult([]Finding{{Type: ThreatMalformedQuery, Level: LevelDangerous}})
	}

	var findings []Finding
	for _, rule := range relationalRules {
		f, hit := rule(v, query, &m)
		if !hit {
			continue
		}
		findings = append(findings, f)
		if f.Level.Blocks() {
			break
		}
	}
	return newResult(findings)
}

func ruleWriteVerb(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	for _, w := range wordPattern.FindAllString(m.text, -1) {
		if writeVerbs[strings.ToUpper(w)] {
			return Finding{Type: ThreatWriteOperation, Level: LevelCritical}, true
		}
	}
	return Finding{}, false
}

func ruleStacking(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	if stackPattern.MatchString(m.code) {
		return Finding{Type: ThreatStatementStacking, Level: LevelCritical}, true
	}
	return Finding{}, false
}

func ruleFileAccess(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	if fileAccess.MatchString(m.text) {
		return Finding{Type: ThreatInformationDisclosure, Level: LevelCritical}, true
	}
	return Finding{}, false
}

func ruleCatalog(v *Validator, _ string, m *maskedSQL) (Finding, bool) {
	text := m.text
	for _, loc := range dottedPattern.FindAllStringIndex(text, -1) {
		name := normalizeIdent(text[loc[0]:loc[1]])
		call := strings.HasPrefix(strings.TrimLeft(text[loc[1]:], " \t\r\n"), "(")
		if call {
			if disclosureCalls[lastPart(name)] {
				return Finding{Type: ThreatInformationDisclosure, Level: LevelDangerous}, true
			}
			continue
		}
		if v.allowed[name] || v.allowed[lastPart(name)] {
			continue
		}
		if isCatalogName(name) {
			return Finding{Type: ThreatInformationDisclosure, Level: LevelDangerous}, true
		}
	}
	return Finding{}, false
}

func isCatalogName(name string) bool {
	for _, p := range catalogPatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func ruleTautology(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	loc := whereWord.FindStringIndex(m.text)
	if loc == nil {
		return Finding{}, false
	}
	offset := loc[0]
	clause := m.text[offset:]

	if alwaysTrue.MatchString(clause) {
		return Finding{Type: ThreatTautologyInjection, Level: LevelDangerous}, true
	}
	for _, g := range equalConstants.FindAllStringSubmatchIndex(clause, -1) {
		left, right := clause[g[4]:g[5]], clause[g[6]:g[7]]
		if left[0] == literalMark && right[0] == literalMark {
			l, okL := m.literalAt(offset + g[4])
			r, okR := m.literalAt(offset + g[6])
			if okL && okR && l.value == r.value {
				return Finding{Type: ThreatTautologyInjection, Level: LevelDangerous}, true
			}
			continue
		}
		if left == right {
			return Finding{Type: ThreatTautologyInjection, Level: LevelDangerous}, true
		}
	}
	return Finding{}, false
}

func ruleLeadingVerb(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	w := firstWord.FindStringSubmatch(leadingComments.ReplaceAllString(m.text, ""))
	if w != nil {
		switch strings.ToUpper(w[1]) {
		case "SELECT", "WITH":
			return Finding{}, false
		}
	}
	return Finding{Type: ThreatDisallowedStatement, Level: LevelDangerous}, true
}

func ruleDelay(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	if delayCall.MatchString(m.text) {
		return Finding{Type: ThreatResourceExhaustion, Level: LevelDangerous}, true
	}
	return Finding{}, false
}

func ruleComment(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	if m.hasComment {
		return Finding{Type: ThreatCommentInjection, Level: LevelSuspicious}, true
	}
	return Finding{}, false
}

func ruleComplexity(v *Validator, raw string, m *maskedSQL) (Finding, bool) {
	if len(raw) > v.opts.MaxQueryLength || len(joinWord.FindAllStringIndex(m.text, -1)) > v.opts.MaxJoins {
		return Finding{Type: ThreatResourceExhaustion, Level: LevelSuspicious}, true
	}
	return Finding{}, false
}

func ruleMissingLimit(_ *Validator, _ string, m *maskedSQL) (Finding, bool) {
	if limitWord.MatchString(m.code) {
		return Finding{}, false
	}
	if aggregate.MatchString(m.text) && !groupBy.MatchString(m.text) {
		return Finding{}, false
	}
	return Finding{Type: ThreatResourceExhaustion, Level: LevelSuspicious}, true
}

func normalizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func lastPart(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
