package intent

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entities maps an entity type to the spans matched in the text.
type Entities map[string][]string

// Empty reports whether no entity was found.
func (e Entities) Empty() bool {
	for _, spans := range e {
		if len(spans) > 0 {
			return false
		}
	}
	return true
}

func (e Entities) add(kind, span string) {
	for _, s := range e[kind] {
		if strings.EqualFold(s, span) {
			return
		}
	}
	e[kind] = append(e[kind], span)
}

// Detector finds domain entities in a message.
type Detector interface {
	Detect(text string) Entities
	Name() string
}

var entityPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`(?:\+91[\s-]?)?\b[6-9]\d{9}\b`)},
	{"date", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`)},
	{"year", regexp.MustCompile(`\b(?:19|20)\d{2}\b`)},
	{"object_id", regexp.MustCompile(`\b[0-9a-fA-F]{24}\b`)},
	{"quoted", regexp.MustCompile(`"([^"]+)"|'([^']+)'`)},
	{"proper_noun", regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)},
}

// RegexDetector finds entities with fixed patterns. It needs no data files.
type RegexDetector struct{}

func (RegexDetector) Name() string { return "regex" }

func (RegexDetector) Detect(text string) Entities {
	out := Entities{}
	for _, p := range entityPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			span := m[0]
			for _, g := range m[1:] {
				if g != "" {
					span = g
					break
				}
			}
			if p.kind == "proper_noun" && isSentenceStart(text, span) {
				continue
			}
			out.add(p.kind, span)
		}
	}
	return out
}

// isSentenceStart reports whether span is a lone capitalised word opening
// the text, which is usually just the first word of the question.
func isSentenceStart(text, span string) bool {
	return !strings.Contains(span, " ") && strings.HasPrefix(strings.TrimSpace(text), span)
}

// DictionaryDetector matches known terms loaded from a YAML file of the form
//
//	state: [Telangana, Andhra Pradesh]
//	crime_type: [theft, burglary]
//
// and adds the RegexDetector matches.
type DictionaryDetector struct {
	terms    map[string][]*regexp.Regexp
	spans    map[*regexp.Regexp]string
	fallback RegexDetector
}

// NewDictionaryDetector builds a detector from an in-memory dictionary.
func NewDictionaryDetector(dict map[string][]string) *DictionaryDetector {
	d := &DictionaryDetector{terms: map[string][]*regexp.Regexp{}, spans: map[*regexp.Regexp]string{}}
	for kind, words := range dict {
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
			d.terms[kind] = append(d.terms[kind], re)
			d.spans[re] = w
		}
	}
	return d
}

// LoadDictionaryDetector reads the dictionary from path.
func LoadDictionaryDetector(path string) (*DictionaryDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entity dictionary: %w", err)
	}
	var dict map[string][]string
	if err := yaml.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("parsing entity dictionary: %w", err)
	}
	return NewDictionaryDetector(dict), nil
}

func (d *DictionaryDetector) Name() string { return "dictionary" }

func (d *DictionaryDetector) Detect(text string) Entities {
	out := d.fallback.Detect(text)
	kinds := make([]string, 0, len(d.terms))
	for k := range d.terms {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		for _, re := range d.terms[kind] {
			if re.MatchString(text) {
				out.add(kind, d.spans[re])
			}
		}
	}
	return out
}

// NewDetector returns a DictionaryDetector when path names a readable
// dictionary and a RegexDetector otherwise. The error explains a fallback.
func NewDetector(path string) (Detector, error) {
	if path == "" {
		return RegexDetector{}, nil
	}
	d, err := LoadDictionaryDetector(path)
	if err != nil {
		return RegexDetector{}, err
	}
	return d, nil
}
