// Package intent classifies a question and decides which stores it targets.
package intent

import (
	"strings"
	"unicode"
)

// Intent is the closed set of question kinds.
type Intent string

const (
	Retrieval     Intent = "retrieval"
	Aggregation   Intent = "aggregation"
	Clarification Intent = "clarification-needed"
	General       Intent = "general"
)

// Target names the stores a question is routed to.
type Target string

const (
	TargetRelational Target = "relational"
	TargetDocument   Target = "document"
	TargetBoth       Target = "both"
)

// Relational reports whether t includes the relational store.
func (t Target) Relational() bool { return t == TargetRelational || t == TargetBoth }

// Document reports whether t includes the document store.
func (t Target) Document() bool { return t == TargetDocument || t == TargetBoth }

var aggregationWords = wordList(
	"count", "counts", "sum", "total", "totals", "average", "avg", "mean",
	"group", "grouped", "maximum", "minimum", "max", "min", "statistics",
	"stats", "distribution", "breakdown",
)

// aggregationPhrases are multi-word aggregation signals.
var aggregationPhrases = []string{"how many", "number of", "group by"}

var retrievalWords = wordList(
	"show", "list", "find", "get", "display", "fetch", "give", "search",
	"retrieve", "lookup", "details", "records", "view",
)

var interrogatives = wordList(
	"what", "who", "whom", "whose", "which", "where", "when", "how",
	"is", "are", "does", "do", "did", "was", "were",
)

var stopwords = wordList(
	"a", "an", "the", "me", "my", "us", "our", "i", "you", "please", "all",
	"of", "for", "in", "on", "to", "from", "with", "and", "or", "by", "at",
	"there", "any", "some", "can", "could", "would", "will", "tell", "about",
	"many", "much", "number", "data", "info", "information", "it", "this", "that",
)

func wordList(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Words lower-cases text and splits it into identifier-like words.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// Classify picks the intent of message. A message made only of intent
// keywords, interrogatives and filler words needs clarification. Otherwise
// aggregation keywords win over retrieval keywords, and a question mark or
// interrogative alone still means retrieval.
func Classify(message string) Intent {
	words := Words(message)

	var agg, ret, question, content bool
	for _, w := range words {
		switch {
		case aggregationWords[w]:
			agg = true
		case retrievalWords[w]:
			ret = true
		case interrogatives[w]:
			question = true
		case !stopwords[w]:
			content = true
		}
	}
	lower := strings.ToLower(message)
	for _, p := range aggregationPhrases {
		if strings.Contains(lower, p) {
			agg = true
		}
	}
	if strings.Contains(message, "?") {
		question = true
	}

	switch {
	case !content:
		return Clarification
	case agg:
		return Aggregation
	case ret, question:
		return Retrieval
	default:
		return General
	}
}

// Selector routes questions to stores by explicit store names.
type Selector struct {
	relational map[string]bool
	document   map[string]bool
}

// NewSelector builds a Selector from the words that name each store.
func NewSelector(relationalNames, documentNames []string) *Selector {
	s := &Selector{relational: map[string]bool{}, document: map[string]bool{}}
	for _, n := range relationalNames {
		s.relational[strings.ToLower(n)] = true
	}
	for _, n := range documentNames {
		s.document[strings.ToLower(n)] = true
	}
	return s
}

// DefaultSelector recognises the usual names for PostgreSQL and MongoDB.
func DefaultSelector() *Selector {
	return NewSelector(
		[]string{"postgres", "postgresql", "sql", "relational"},
		[]string{"mongo", "mongodb", "document", "documents"},
	)
}

// Select returns the store mentioned in message, or TargetBoth when neither
// or both are named.
func (s *Selector) Select(message string) Target {
	var rel, doc bool
	for _, w := range Words(message) {
		rel = rel || s.relational[w]
		doc = doc || s.document[w]
	}
	switch {
	case rel && !doc:
		return TargetRelational
	case doc && !rel:
		return TargetDocument
	default:
		return TargetBoth
	}
}
