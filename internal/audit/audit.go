// Package audit keeps a durable trail of validation verdicts so blocked
// and flagged queries can be reviewed after the fact.
package audit

import (
	"context"
	"time"

	"github.com/dopamas/querygate/internal/sanitize"
	"github.com/dopamas/querygate/internal/validator"
)

// Entry is a single verdict record.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id,omitempty"`
	Dialect   validator.Dialect `json:"dialect"`
	Verdict   validator.Verdict `json:"verdict"`
	Level     string            `json:"threat_level"`
	Threats   []string          `json:"threat_types"`
	Query     string            `json:"query"`
}

// RecordVerdict logs one validation result. Query text is masked before it
// is stored.
func (s *Store) RecordVerdict(ctx context.Context, sessionID string, d validator.Dialect, query string, res validator.Result) error {
	threats := make([]string, len(res.Threats))
	for i, t := range res.Threats {
		threats[i] = t.String()
	}
	return s.Log(ctx, Entry{
		SessionID: sessionID,
		Dialect:   d,
		Verdict:   res.Verdict,
		Level:     res.Level.String(),
		Threats:   threats,
		Query:     sanitize.Mask(query),
	})
}
