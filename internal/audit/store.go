package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dopamas/querygate/internal/db"
	"github.com/dopamas/querygate/internal/validator"
)

// Store reads and writes verdict records.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts a new entry. If entry.ID is empty a UUID is generated.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Threats == nil {
		entry.Threats = []string{}
	}

	threats, err := json.Marshal(entry.Threats)
	if err != nil {
		return fmt.Errorf("marshalling threats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verdicts (id, session_id, dialect, verdict, level, threats, query)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SessionID,
		string(entry.Dialect),
		string(entry.Verdict),
		entry.Level,
		string(threats),
		entry.Query,
	)
	if err != nil {
		return fmt.Errorf("inserting verdict: %w", err)
	}
	return nil
}

// GetByID retrieves a single entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM verdicts WHERE id = ?`, id)
	return scanInto(row)
}

const columns = "id, timestamp, session_id, dialect, verdict, level, threats, query"

// QueryFilter controls which entries Query returns.
type QueryFilter struct {
	SessionID string
	Dialect   validator.Dialect
	Verdict   validator.Verdict
	Threat    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// Query returns entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Dialect != "" {
		clauses = append(clauses, "dialect = ?")
		args = append(args, string(filter.Dialect))
	}
	if filter.Verdict != "" {
		clauses = append(clauses, "verdict = ?")
		args = append(args, string(filter.Verdict))
	}
	if filter.Threat != "" {
		// JSON array stored as text; match the quoted element.
		clauses = append(clauses, "threats LIKE ?")
		args = append(args, `%"`+filter.Threat+`"%`)
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.DateTime))
	}

	query := "SELECT " + columns + " FROM verdicts"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying verdicts: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes entries older than before and returns how many were
// deleted.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM verdicts WHERE timestamp < ?",
		before.UTC().Format(time.DateTime),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old verdicts: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Entry, error) {
	var (
		e                Entry
		dialect, verdict string
		ts, threatsJSON  string
	)

	err := sc.Scan(&e.ID, &ts, &e.SessionID, &dialect, &verdict, &e.Level, &threatsJSON, &e.Query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning verdict: %w", err)
	}

	e.Dialect = validator.Dialect(dialect)
	e.Verdict = validator.Verdict(verdict)

	if t, parseErr := time.Parse(time.DateTime, ts); parseErr == nil {
		e.Timestamp = t
	} else if t, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		e.Timestamp = t
	}

	if err := json.Unmarshal([]byte(threatsJSON), &e.Threats); err != nil {
		e.Threats = nil
	}
	return &e, nil
}
