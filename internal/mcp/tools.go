package mcp

import "github.com/mark3labs/mcp-go/mcp"

var askDatabaseTool = mcp.NewTool("ask_database",
	mcp.WithDescription("Answer a natural-language question from the connected databases. Generated queries are validated as read-only before they run."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The question to answer"),
	),
	mcp.WithString("session_id",
		mcp.Description("Conversation id used for history (8-64 letters, digits, hyphens or underscores)"),
	),
)

var validateQueryTool = mcp.NewTool("validate_query",
	mcp.WithDescription("Check a query against the safety rules without running it."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("SQL text or a JSON document query"),
	),
	mcp.WithString("dialect",
		mcp.Description("Query dialect (default relational)"),
		mcp.Enum("relational", "document"),
	),
)

var getSchemaTool = mcp.NewTool("get_schema",
	mcp.WithDescription("List the tables and collections the pipeline can query."),
	mcp.WithBoolean("refresh",
		mcp.Description("Bypass the schema cache"),
	),
)
