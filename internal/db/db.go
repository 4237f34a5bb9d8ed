// Package db owns the local float measurement store and executes gated
// SELECT statements against it.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"argochat/internal/logger"
)

// Result carries the rows a statement produced. Columns preserves the
// SELECT list order, which is lost in the row maps.
type Result struct {
	Columns []string
	Rows    []map[string]any
	Elapsed time.Duration
}

// Executor runs an already-validated SELECT statement. Implemented by
// Store, mocked in tests.
type Executor interface {
	Query(ctx context.Context, query string) (*Result, error)
}

// Store is a SQLite-backed measurement database.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens or creates the measurement database at path and ensures the
// schema exists. A timeout of zero disables the per-query deadline.
func Open(path string, timeout time.Duration) (*Store, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	s := &Store{db: sqlDB, timeout: timeout}
	if err := s.initSchema(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS floats (
			float_id TEXT PRIMARY KEY,
			wmo_id TEXT,
			project_name TEXT,
			pi_name TEXT,
			platform_type TEXT,
			deployment_date DATETIME,
			last_update DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle_id TEXT PRIMARY KEY,
			float_id TEXT NOT NULL,
			cycle_number INTEGER,
			profile_date DATETIME,
			latitude REAL,
			longitude REAL,
			profile_type TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			profile_id TEXT PRIMARY KEY,
			cycle_id TEXT NOT NULL,
			pressure REAL,
			temperature REAL,
			salinity REAL,
			depth REAL,
			quality_flag INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_float ON cycles(float_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_position ON cycles(latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_cycle ON profiles(cycle_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Query executes a SELECT statement and returns all rows as column name to
// value maps, with timestamps rendered in RFC 3339 and blobs as strings.
func (s *Store) Query(ctx context.Context, query string) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &Result{Columns: cols, Rows: []map[string]any{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	result.Elapsed = time.Since(start)
	logger.L.Debug("query executed", "rows", len(result.Rows), "elapsed", result.Elapsed)
	return result, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// TableCount is the row count of one table, reported by Stats.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Stats summarizes the store contents for the stats endpoint.
type Stats struct {
	Tables          []TableCount `json:"tables"`
	EarliestProfile string       `json:"earliest_profile,omitempty"`
	LatestProfile   string       `json:"latest_profile,omitempty"`
}

// Stats counts rows per table and reports the covered profile date range.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	for _, table := range []string{"floats", "cycles", "profiles"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		st.Tables = append(st.Tables, TableCount{Table: table, Rows: n})
	}

	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(profile_date), MAX(profile_date) FROM cycles").Scan(&earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("profile date range: %w", err)
	}
	if earliest.Valid {
		st.EarliestProfile = earliest.String
	}
	if latest.Valid {
		st.LatestProfile = latest.String
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
