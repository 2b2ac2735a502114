package generator

import (
	"fmt"
	"strings"

	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
)

const sqlSystemPrompt = `You are an expert PostgreSQL query generator.
Given a database schema and a user's question, write one SQL SELECT query that answers it.

RULES:
1. Return ONLY the SQL query, no explanations and no markdown.
2. Use only SELECT (or WITH ... SELECT) statements. Never modify data.
3. Use table and column names exactly as they appear in the schema.
4. Use ILIKE with wildcards for free-text name or place matches.
5. Always end with a LIMIT clause of at most %d rows unless the query is a single aggregate.
6. Do not end the query with a semicolon.`

const documentSystemPrompt = `You are an expert MongoDB query generator.
Given a collection schema and a user's question, write one read-only MongoDB query as JSON.

RULES:
1. Return ONLY a JSON object, no explanations and no markdown.
2. For lookups return {"collection": "name", "filter": {...}, "projection": {...}, "sort": {...}, "limit": n}.
3. For statistics return {"collection": "name", "pipeline": [...]}.
4. For counts return {"collection": "name", "operation": "count", "filter": {...}}.
5. Use collection and field names exactly as they appear in the schema.
6. Put comparison operators inside a field, e.g. {"reg_dt": {"$gte": {"$date": "2023-01-01T00:00:00Z"}}}.
7. Never use $where, $function, $accumulator, $out or $merge.
8. Match _id only against 24-character hex strings, directly or with $eq, $in or $nin.
9. Return at most %d documents.`

func systemPrompt(d validator.Dialect, maxRows int) string {
	if d == validator.DialectDocument {
		return fmt.Sprintf(documentSystemPrompt, maxRows)
	}
	return fmt.Sprintf(sqlSystemPrompt, maxRows)
}

func buildPrompt(d validator.Dialect, reduced *schema.Snapshot, message string) string {
	var b strings.Builder
	if d == validator.DialectDocument {
		b.WriteString("MongoDB Schema:\n")
		b.WriteString(reduced.Format(false, true))
	} else {
		b.WriteString("Database Schema:\n")
		b.WriteString(reduced.Format(true, false))
	}
	b.WriteString("\nUser Question: ")
	b.WriteString(message)
	if d == validator.DialectDocument {
		b.WriteString("\n\nGenerate the MongoDB query (JSON only):")
	} else {
		b.WriteString("\n\nGenerate the SQL query:")
	}
	return b.String()
}
