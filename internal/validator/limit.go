package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	limitClause = regexp.MustCompile(`(?i)\blimit\s+(\d+|all)\b`)
	fetchClause = regexp.MustCompile(`(?i)\bfetch\s+(?:first|next)(?:\s+(\d+))?\s+rows?\b`)
)

// EnforceRowCap makes sure a relational statement returns at most maxRows
// rows. A missing top-level LIMIT is appended and a larger one (or LIMIT ALL)
// is lowered. Limits inside subqueries are left alone.
func EnforceRowCap(query string, maxRows int) string {
	if maxRows <= 0 {
		return query
	}
	m := maskSQL(query)
	depth := topLevelMask(m.code)

	for _, re := range []*regexp.Regexp{limitClause, fetchClause} {
		locs := re.FindAllStringSubmatchIndex(m.code, -1)
		for i := len(locs) - 1; i >= 0; i-- {
			loc := locs[i]
			if depth[loc[0]] != 0 {
				continue
			}
			if loc[2] < 0 {
				// FETCH FIRST ROW ONLY returns one row.
				return query
			}
			num := query[loc[2]:loc[3]]
			n, err := strconv.Atoi(num)
			if err == nil && n <= maxRows {
				return query
			}
			return query[:loc[2]] + strconv.Itoa(maxRows) + query[loc[3]:]
		}
	}

	// Drop trailing semicolons but keep any trailing comment.
	end := len(strings.TrimRight(m.code, " \t\r\n;"))
	var tail strings.Builder
	for k := end; k < len(query); k++ {
		if m.code[k] != ';' {
			tail.WriteByte(query[k])
		}
	}
	trimmed := query[:end] + strings.TrimRight(tail.String(), " \t\r\n")
	return fmt.Sprintf("%s\nLIMIT %d", trimmed, maxRows)
}

// topLevelMask reports the parenthesis depth at every byte of s.
func topLevelMask(s string) []int {
	depth := make([]int, len(s)+1)
	d := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ')' && d > 0 {
			d--
		}
		depth[i] = d
		if s[i] == '(' {
			d++
		}
	}
	depth[len(s)] = d
	return depth
}

// CapRows bounds the number of documents the query may return.
func (q *DocumentQuery) CapRows(maxRows int64) {
	if maxRows <= 0 {
		return
	}
	if q.Limit <= 0 || q.Limit > maxRows {
		q.Limit = maxRows
	}
	if q.Operation != OpAggregate {
		return
	}
	if n := len(q.Pipeline); n > 0 && len(q.Pipeline[n-1]) == 1 && q.Pipeline[n-1][0].Key == "$limit" {
		if cur, ok := q.Pipeline[n-1][0].Value.(int64); ok && cur <= maxRows {
			return
		}
		q.Pipeline[n-1] = bson.D{{Key: "$limit", Value: maxRows}}
		return
	}
	q.Pipeline = append(q.Pipeline, bson.D{{Key: "$limit", Value: maxRows}})
}
