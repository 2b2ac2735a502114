package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSession is returned for session ids outside [A-Za-z0-9_-]{8,64}.
var ErrInvalidSession = errors.New("invalid session id")

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidSessionID reports whether id is an acceptable session id.
func ValidSessionID(id string) bool {
	return sessionPattern.MatchString(id)
}

// InputError is a problem with the caller's own message. Its text is safe to
// return verbatim.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

// SanitizeInput rejects empty, oversized or control-character input and
// collapses whitespace runs to single spaces.
func SanitizeInput(message string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", &InputError{Reason: "Message cannot be empty."}
	}
	if maxLength > 0 && len([]rune(trimmed)) > maxLength {
		return "", &InputError{Reason: fmt.Sprintf("Message is too long (maximum %d characters).", maxLength)}
	}
	for _, r := range trimmed {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0) {
			return "", &InputError{Reason: "Message contains control characters."}
		}
	}
	return strings.Join(strings.Fields(trimmed), " "), nil
}
