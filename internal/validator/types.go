package validator

import (
	"sort"
	"strings"
)

// Dialect identifies the query surface a candidate query is written for.
type Dialect string

const (
	DialectRelational Dialect = "relational"
	DialectDocument   Dialect = "document"
)

// Valid reports whether d is one of the known dialects.
func (d Dialect) Valid() bool {
	return d == DialectRelational || d == DialectDocument
}

// ThreatLevel is the ordered severity of a finding: none < suspicious < dangerous < critical.
type ThreatLevel int

const (
	LevelNone ThreatLevel = iota
	LevelSuspicious
	LevelDangerous
	LevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelSuspicious:
		return "suspicious"
	case LevelDangerous:
		return "dangerous"
	case LevelCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalText encodes the level by name.
func (l ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Blocks reports whether a finding at this level prevents execution.
func (l ThreatLevel) Blocks() bool {
	return l >= LevelDangerous
}

// ThreatType names the category of a finding.
type ThreatType int

const (
	ThreatWriteOperation ThreatType = iota + 1
	ThreatStatementStacking
	ThreatInformationDisclosure
	ThreatTautologyInjection
	ThreatCommentInjection
	ThreatResourceExhaustion
	ThreatCodeInjection
	ThreatDisallowedStatement
	ThreatDisallowedOperator
	ThreatIdentifierPassthrough
	ThreatMalformedQuery
)

// AllThreatTypes lists every threat type in declaration order.
var AllThreatTypes = []ThreatType{
	ThreatWriteOperation,
	ThreatStatementStacking,
	ThreatInformationDisclosure,
	ThreatTautologyInjection,
	ThreatCommentInjection,
	ThreatResourceExhaustion,
	ThreatCodeInjection,
	ThreatDisallowedStatement,
	ThreatDisallowedOperator,
	ThreatIdentifierPassthrough,
	ThreatMalformedQuery,
}

func (t ThreatType) String() string {
	switch t {
	case ThreatWriteOperation:
		return "write-operation"
	case ThreatStatementStacking:
		return "statement-stacking"
	case ThreatInformationDisclosure:
		return "information-disclosure"
	case ThreatTautologyInjection:
		return "tautology-injection"
	case ThreatCommentInjection:
		return "comment-injection"
	case ThreatResourceExhaustion:
		return "resource-exhaustion"
	case ThreatCodeInjection:
		return "code-injection"
	case ThreatDisallowedStatement:
		return "disallowed-statement"
	case ThreatDisallowedOperator:
		return "disallowed-operator"
	case ThreatIdentifierPassthrough:
		return "identifier-passthrough"
	case ThreatMalformedQuery:
		return "malformed-query"
	}
	return "unknown"
}

// MarshalText encodes the threat type by name.
func (t ThreatType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Describe returns the human-safe sentence used in refusals for this category.
// It never includes query text.
func (t ThreatType) Describe() string {
	switch t {
	case ThreatWriteOperation:
		return "the query attempted to modify data or schema"
	case ThreatStatementStacking:
		return "the query contained more than one statement"
	case ThreatInformationDisclosure:
		return "the query tried to read system metadata or files"
	case ThreatTautologyInjection:
		return "the query filter was always true"
	case ThreatCommentInjection:
		return "the query contained inline comments"
	case ThreatResourceExhaustion:
		return "the query could consume excessive resources"
	case ThreatCodeInjection:
		return "the query tried to run server-side code"
	case ThreatDisallowedStatement:
		return "only read queries are permitted"
	case ThreatDisallowedOperator:
		return "the query used an operator that is not permitted"
	case ThreatIdentifierPassthrough:
		return "the query used an identifier lookup that is not permitted"
	case ThreatMalformedQuery:
		return "the query could not be understood"
	}
	return "the query was rejected"
}

// Verdict is the overall decision for a query.
type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictBlocked Verdict = "blocked"
)

// Finding is a single rule match.
type Finding struct {
	Type  ThreatType
	Level ThreatLevel
}

// Result is the immutable outcome of validating one query.
// Verdict is blocked iff Level >= LevelDangerous.
type Result struct {
	Verdict     Verdict      `json:"verdict"`
	Level       ThreatLevel  `json:"threat_level"`
	Threats     []ThreatType `json:"threat_types,omitempty"`
	Explanation string       `json:"explanation"`
}

// Safe reports whether the query may be executed.
func (r Result) Safe() bool {
	return r.Verdict == VerdictSafe
}

// Has reports whether t is among the matched threat types.
func (r Result) Has(t ThreatType) bool {
	for _, m := range r.Threats {
		if m == t {
			return true
		}
	}
	return false
}

// Primary returns the threat type that decided the verdict: the first match at the highest level.
func (r Result) Primary() (ThreatType, bool) {
	if len(r.Threats) == 0 {
		return 0, false
	}
	return r.Threats[0], true
}

// newResult folds findings into a Result. The finding with the highest level is
// listed first; ties keep rule order.
func newResult(findings []Finding) Result {
	if len(findings) == 0 {
		return Result{Verdict: VerdictSafe, Level: LevelNone, Explanation: "no threats detected"}
	}

	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Level > ordered[j].Level
	})

	res := Result{Level: ordered[0].Level}
	seen := make(map[ThreatType]bool, len(ordered))
	for _, f := range ordered {
		if seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		res.Threats = append(res.Threats, f.Type)
	}

	if res.Level.Blocks() {
		res.Verdict = VerdictBlocked
		res.Explanation = "blocked: " + res.Threats[0].Describe()
	} else {
		res.Verdict = VerdictSafe
		names := make([]string, len(res.Threats))
		for i, t := range res.Threats {
			names[i] = t.String()
		}
		res.Explanation = "allowed with warnings: " + strings.Join(names, ", ")
	}
	return res
}
