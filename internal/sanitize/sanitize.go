// Package sanitize turns execution errors from the backing stores into a
// small fixed set of categories with messages that are safe to show callers.
package sanitize

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dopamas/querygate/internal/store"
)

// Category classifies an execution failure.
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryRejected   Category = "query-rejected-by-backend"
	CategoryUnknown    Category = "unknown"
)

var messages = map[Category]string{
	CategoryTimeout:    "The query took too long to run and was cancelled.",
	CategoryConnection: "The database is currently unreachable. Please try again later.",
	CategoryRejected:   "The database could not run the generated query.",
	CategoryUnknown:    "An unexpected error occurred while running the query.",
}

// Message returns the generic message for c.
func (c Category) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CategoryUnknown]
}

// Failure is the caller-facing form of an execution error.
type Failure struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// plannerCodes are PostgreSQL SQLSTATEs raised while resolving a statement
// against the schema. Their primary message may be shown verbatim.
var plannerCodes = map[string]bool{
	"42703": true, // undefined_column
	"42P01": true, // undefined_table
	"42883": true, // undefined_function
	"42601": true, // syntax_error
	"42803": true, // grouping_error
	"42804": true, // datatype_mismatch
}

// Sanitize maps err to a Failure. Only the relational planner's own
// statement-validity message is passed through, and only its primary text.
func Sanitize(err error) Failure {
	cat := Classify(err)
	f := Failure{Category: cat, Message: cat.Message()}

	var pgErr *pgconn.PgError
	if cat == CategoryRejected && errors.As(err, &pgErr) && plannerCodes[pgErr.Code] {
		f.Message = "The database could not run the generated query: " + pgErr.Message
	}
	return f
}

// Classify returns the category of err without building a message.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled, raised by statement_timeout
			return CategoryTimeout
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return CategoryConnection
		default:
			return CategoryRejected
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err), mongo.IsTimeout(err):
		return CategoryTimeout
	case errors.Is(err, store.ErrUnavailable), mongo.IsNetworkError(err):
		return CategoryConnection
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return CategoryConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryConnection
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return CategoryRejected
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return CategoryRejected
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the last resort for wrapped driver errors that lost
// their type.
func classifyMessage(msg string) Category {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"):
		return CategoryTimeout
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"), strings.Contains(lower, "server selection"),
		strings.Contains(lower, "broken pipe"), strings.Contains(lower, "failed to connect"):
		return CategoryConnection
	}
	return CategoryUnknown
}
