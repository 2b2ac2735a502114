package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dopamas/querygate/internal/schema"
)

// PostgresExecutor runs read-only statements over a pgx pool.
type PostgresExecutor struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool of at most maxConns connections. Connection
// failures wrap ErrUnavailable.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresExecutor, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: no dsn configured: %w", ErrUnavailable)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: %v: %w", err, ErrUnavailable)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %v: %w", err, ErrUnavailable)
	}
	return &PostgresExecutor{pool: pool}, nil
}

// Close releases the pool.
func (e *PostgresExecutor) Close() {
	e.pool.Close()
}

// Ping checks a connection can be acquired.
func (e *PostgresExecutor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Execute runs query inside a read-only transaction with statement_timeout
// set to timeout, and reads at most maxRows rows.
func (e *PostgresExecutor) Execute(ctx context.Context, query string, maxRows int, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+time.Second)
		defer cancel()
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("beginning read-only transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	if timeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("setting statement timeout: %w", err)
		}
	}

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &Result{Records: []map[string]any{}}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}

	for rows.Next() {
		if maxRows > 0 && len(res.Records) >= maxRows {
			res.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		rec := make(map[string]any, len(values))
		for i, v := range values {
			rec[res.Columns[i]] = plainValue(v)
		}
		res.Records = append(res.Records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

const columnsQuery = `
SELECT c.table_name::text, c.column_name::text, c.data_type::text,
       c.is_nullable::text = 'YES', COALESCE(c.character_maximum_length, 0)::int
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
  AND t.table_type IN ('BASE TABLE', 'VIEW')
ORDER BY c.table_name, c.ordinal_position`

// FetchTables describes every user table and view.
func (e *PostgresExecutor) FetchTables(ctx context.Context) (map[string][]schema.Column, error) {
	rows, err := e.pool.Query(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying information_schema: %w", err)
	}
	defer rows.Close()

	tables := map[string][]schema.Column{}
	for rows.Next() {
		var (
			table  string
			col    schema.Column
			maxLen int32
		)
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Nullable, &maxLen); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.MaxLength = int(maxLen)
		tables[table] = append(tables[table], col)
	}
	return tables, rows.Err()
}
