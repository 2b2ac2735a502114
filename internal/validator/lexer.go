package validator

import "strings"

// literalMark fills the bytes of a masked string literal.
const literalMark = '#'

// literal is a string constant found in a SQL statement.
type literal struct {
	start, end int // byte offsets into the masked text, end exclusive
	value      string
}

// maskedSQL is a copy of a statement with string literals blanked out so that
// keyword and punctuation scans only see executable text. Offsets line up with
// the original statement byte for byte.
type maskedSQL struct {
	text string
	// code is text with comments also blanked to spaces.
	code         string
	literals     []literal
	hasComment   bool
	unterminated bool
}

// literalAt returns the literal occupying offset pos.
func (m *maskedSQL) literalAt(pos int) (literal, bool) {
	for _, l := range m.literals {
		if pos >= l.start && pos < l.end {
			return l, true
		}
	}
	return literal{}, false
}

// maskSQL scans q once. Single-quoted strings (with '' escapes, and backslash
// escapes only for E'' strings) and dollar-quoted strings become runs of
// literalMark. Double-quoted identifiers keep their content, with characters
// that are not valid in a bare identifier replaced by '_'. Comment text is left
// in place so that anything hidden inside a comment is still scanned.
func maskSQL(q string) maskedSQL {
	b := []byte(q)
	m := maskedSQL{}
	n := len(b)
	var comments [][2]int

	for i := 0; i < n; {
		c := b[i]
		switch {
		case c == '-' && i+1 < n && b[i+1] == '-':
			m.hasComment = true
			start := i
			for i < n && b[i] != '\n' {
				i++
			}
			comments = append(comments, [2]int{start, i})

		case c == '/' && i+1 < n && b[i+1] == '*':
			m.hasComment = true
			start := i
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				m.unterminated = true
				i = n
				comments = append(comments, [2]int{start, i})
				break
			}
			i += 2 + end + 2
			comments = append(comments, [2]int{start, i})

		case c == '\'':
			escapes := i > 0 && (b[i-1] == 'e' || b[i-1] == 'E') && (i == 1 || !isIdentByte(b[i-2]))
			start := i
			var val strings.Builder
			i++
			closed := false
			for i < n {
				if escapes && b[i] == '\\' && i+1 < n {
					val.WriteByte(b[i+1])
					i += 2
					continue
				}
				if b[i] == '\'' {
					if i+1 < n && b[i+1] == '\'' {
						val.WriteByte('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				val.WriteByte(b[i])
				i++
			}
			if !closed {
				m.unterminated = true
			}
			fill(b, start, i)
			m.literals = append(m.literals, literal{start: start, end: i, value: val.String()})

		case c == '"':
			b[i] = ' '
			i++
			closed := false
			for i < n {
				if b[i] == '"' {
					if i+1 < n && b[i+1] == '"' {
						b[i], b[i+1] = '_', '_'
						i += 2
						continue
					}
					b[i] = ' '
					closed = true
					i++
					break
				}
				if !isIdentByte(b[i]) {
					b[i] = '_'
				}
				i++
			}
			if !closed {
				m.unterminated = true
			}

		case c == '$':
			tag, ok := dollarTag(q, i)
			if !ok {
				i++
				break
			}
			start := i
			body := i + len(tag)
			end := strings.Index(q[body:], tag)
			if end < 0 {
				m.unterminated = true
				fill(b, start, n)
				m.literals = append(m.literals, literal{start: start, end: n, value: q[body:]})
				i = n
				break
			}
			i = body + end + len(tag)
			fill(b, start, i)
			m.literals = append(m.literals, literal{start: start, end: i, value: q[body : body+end]})

		default:
			i++
		}
	}

	m.text = string(b)
	for _, c := range comments {
		for k := c[0]; k < c[1]; k++ {
			if b[k] != '\n' {
				b[k] = ' '
			}
		}
	}
	m.code = string(b)
	return m
}

// dollarTag returns the opening tag ($$ or $name$) starting at i.
func dollarTag(q string, i int) (string, bool) {
	if i > 0 && isIdentByte(q[i-1]) {
		return "", false
	}
	j := i + 1
	if j < len(q) && q[j] >= '0' && q[j] <= '9' {
		return "", false
	}
	for j < len(q) && q[j] != '$' && isIdentByte(q[j]) {
		j++
	}
	if j < len(q) && q[j] == '$' {
		return q[i : j+1], true
	}
	return "", false
}

func fill(b []byte, from, to int) {
	for k := from; k < to; k++ {
		b[k] = literalMark
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
