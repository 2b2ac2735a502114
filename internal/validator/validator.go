// Package validator decides whether a generated query may run. It knows two
// dialects: relational SQL and a JSON rendering of document-store queries.
package validator

import "strings"

// Options tunes the structural limits. Zero values fall back to defaults.
type Options struct {
	// AllowedTables are names that may match a catalog pattern but belong to
	// the application schema.
	AllowedTables     []string
	MaxQueryLength    int
	MaxJoins          int
	MaxDocumentDepth  int
	MaxPipelineStages int
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxQueryLength:    5000,
		MaxJoins:          5,
		MaxDocumentDepth:  10,
		MaxPipelineStages: 20,
	}
}

// Validator holds immutable configuration and is safe for concurrent use.
type Validator struct {
	opts    Options
	allowed map[string]bool
}

// New creates a Validator.
func New(opts Options) *Validator {
	def := DefaultOptions()
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = def.MaxQueryLength
	}
	if opts.MaxJoins <= 0 {
		opts.MaxJoins = def.MaxJoins
	}
	if opts.MaxDocumentDepth <= 0 {
		opts.MaxDocumentDepth = def.MaxDocumentDepth
	}
	if opts.MaxPipelineStages <= 0 {
		opts.MaxPipelineStages = def.MaxPipelineStages
	}
	allowed := make(map[string]bool, len(opts.AllowedTables))
	for _, t := range opts.AllowedTables {
		allowed[strings.ToLower(t)] = true
	}
	return &Validator{opts: opts, allowed: allowed}
}

// Validate classifies query for the given dialect. It performs no I/O and
// returns the same result for the same input.
func (v *Validator) Validate(query string, dialect Dialect) Result {
	switch dialect {
	case DialectRelational:
		return v.validateRelational(query)
	case DialectDocument:
		_, res := v.validateDocument(query)
		return res
	default:
		return newResult([]Finding{{Type: ThreatMalformedQuery, Level: LevelDangerous}})
	}
}

// PrepareDocument validates a document query and, when it is safe, returns
// the parsed form with identifiers converted to their native type.
func (v *Validator) PrepareDocument(query string) (*DocumentQuery, Result) {
	q, res := v.validateDocument(query)
	if q != nil {
		ConvertIdentifiers(q)
	}
	return q, res
}

// Validate runs a Validator built from DefaultOptions.
func Validate(query string, dialect Dialect) Result {
	return defaultValidator.Validate(query, dialect)
}

var defaultValidator = New(DefaultOptions())
