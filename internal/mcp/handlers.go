package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dopamas/querygate/internal/validator"
	"github.com/dopamas/querygate/internal/workflow"
)

func (s *Server) handleAskDatabase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}
	sid := request.GetString("session_id", "")
	if sid == "" {
		sid = uuid.NewString()
	}

	resp, err := s.svc.Process(ctx, question, sid)
	if errors.Is(err, workflow.ErrInvalidSession) {
		return mcp.NewToolResultError("session_id must be 8 to 64 letters, digits, hyphens or underscores"), nil
	}
	if err != nil {
		s.logger.Error("ask_database failed", "error", err)
		return mcp.NewToolResultError("internal error"), nil
	}
	if resp.ErrorKind == workflow.KindInput || resp.ErrorKind == workflow.KindInternal {
		return mcp.NewToolResultError(resp.Text), nil
	}
	return mcp.NewToolResultText(formatAnswer(resp)), nil
}

func (s *Server) handleValidateQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	d := validator.Dialect(request.GetString("dialect", string(validator.DialectRelational)))
	if !d.Valid() {
		return mcp.NewToolResultError("dialect must be relational or document"), nil
	}

	res := s.svc.Validate(query, d)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\nThreat level: %s\n", res.Verdict, res.Level)
	for _, t := range res.Threats {
		fmt.Fprintf(&sb, "- %s: %s\n", t, t.Describe())
	}
	fmt.Fprintf(&sb, "%s\n", res.Explanation)
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleGetSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.svc.Schema(ctx, request.GetBool("refresh", false))
	if err != nil {
		s.logger.Warn("get_schema failed", "error", err)
		return mcp.NewToolResultError("Schema is unavailable. Check that the databases are reachable."), nil
	}
	if snap.Empty() {
		return mcp.NewToolResultText("No tables or collections found."), nil
	}
	return mcp.NewToolResultText(snap.Format(true, true)), nil
}

// formatAnswer renders the response text followed by the queries that ran,
// so the calling agent can cite them.
func formatAnswer(resp *workflow.Response) string {
	var sb strings.Builder
	sb.WriteString(resp.Text)
	if len(resp.Queries) == 0 {
		return sb.String()
	}
	names := make([]string, 0, len(resp.Queries))
	for n := range resp.Queries {
		names = append(names, n)
	}
	sort.Strings(names)
	sb.WriteString("\n\nQueries:\n")
	for _, n := range names {
		fmt.Fprintf(&sb, "[%s] %s\n", n, resp.Queries[n])
	}
	sb.WriteString("Session: " + resp.SessionID)
	return sb.String()
}
