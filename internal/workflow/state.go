package workflow

import (
	"github.com/dopamas/querygate/internal/intent"
	"github.com/dopamas/querygate/internal/sanitize"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/store"
	"github.com/dopamas/querygate/internal/validator"
)

// ErrorKind is the closed set of ways a request can fail.
type ErrorKind string

const (
	KindInput      ErrorKind = "input-error"
	KindGeneration ErrorKind = "generation-failure"
	KindBlocked    ErrorKind = "validation-blocked"
	KindExecution  ErrorKind = "execution-failure"
	KindInternal   ErrorKind = "internal-defect"
)

// Status of one store within a request.
type Status string

const (
	StatusOK          Status = "ok"
	StatusBlocked     Status = "blocked"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusUnavailable Status = "unavailable"
)

// RequestState is threaded through the stages of one request and discarded
// once the response is built.
type RequestState struct {
	Raw       string
	Message   string
	SessionID string
	Intent    intent.Intent
	Entities  intent.Entities
	Target    intent.Target
	Full      *schema.Snapshot
	Reduced   *schema.Snapshot
	Runs      []*storeRun
	Response  *Response

	// done is set by the stage that produced the final response.
	done bool
}

// storeRun tracks one targeted store. Result and Failure stay empty unless
// Verdict is safe.
type storeRun struct {
	Dialect  validator.Dialect
	Query    string
	Document *validator.DocumentQuery
	Verdict  *validator.Result
	Result   *store.Result
	Failure  *sanitize.Failure
	Status   Status
	Verified bool
	Cached   bool
	cacheKey string
}

// Response is what a caller gets back for one message.
type Response struct {
	Text          string            `json:"response"`
	Queries       map[string]string `json:"queries,omitempty"`
	Success       bool              `json:"success"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty"`
	ErrorCategory sanitize.Category `json:"error_category,omitempty"`
	Stores        []StoreOutcome    `json:"stores,omitempty"`
	Intent        intent.Intent     `json:"intent,omitempty"`
	Target        intent.Target     `json:"target,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
}

// StoreOutcome reports what happened for one store. Query is omitted for
// blocked queries.
type StoreOutcome struct {
	Dialect   validator.Dialect      `json:"dialect"`
	Status    Status                 `json:"status"`
	Query     string                 `json:"query,omitempty"`
	RowCount  int                    `json:"row_count"`
	Truncated bool                   `json:"truncated,omitempty"`
	Verified  bool                   `json:"verified,omitempty"`
	Cached    bool                   `json:"cached,omitempty"`
	Threats   []validator.ThreatType `json:"threats,omitempty"`
	Columns   []string               `json:"columns,omitempty"`
	Records   []map[string]any       `json:"records,omitempty"`
	Error     *sanitize.Failure      `json:"error,omitempty"`
}

func (s *RequestState) finish(r *Response) {
	s.Response = r
	s.done = true
}
