// Package sqlitesource adapts a modernc.org/sqlite database into a
// connector.StreamSource: every user table is a stream, every row is a
// record. This simulates a vendor data source for the offline
// snapshot-ingest pipeline without needing a real third-party API
// reachable at pull time.
//
// Callers must blank-import the driver once at program startup:
//
//	import _ "modernc.org/sqlite"
package sqlitesource

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Source reads tables from a SQLite database as streams.
type Source struct {
	db       *sql.DB
	selected map[string]bool
}

// Open opens path with the "sqlite" driver and HOROS-style
// production-safe pragmas, creating parent directories if mkdirAll is
// set. Pass ":memory:" for an ephemeral database.
func Open(path string, mkdirAll bool) (*Source, error) {
	if mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitesource: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitesource: pragma: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitesource: ping: %w", err)
	}
	return &Source{db: db, selected: map[string]bool{}}, nil
}

// FromDB wraps an already-open *sql.DB, e.g. one opened with
// dbopen-style options or a :memory: handle set up by a test.
func FromDB(db *sql.DB) *Source {
	return &Source{db: db, selected: map[string]bool{}}
}

// Close closes the underlying database handle.
func (s *Source) Close() error {
	return s.db.Close()
}

// Discover lists user-defined table names as stream names.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: discover: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlitesource: scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Select marks streams as selected. Idempotent: calling it again with
// an overlapping set just re-marks the same tables.
func (s *Source) Select(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		s.selected[stream] = true
	}
	return nil
}

// Read scans up to limit rows (unlimited if nil) from the named table,
// returning each row as a field→value map keyed by column name.
func (s *Source) Read(ctx context.Context, stream string, limit *int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %q", stream)
	if limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: read %s: %w", stream, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: columns %s: %w", stream, err)
	}

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlitesource: scan %s: %w", stream, err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalizeSQLiteValue(raw[i])
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// normalizeSQLiteValue converts the driver's native scan types into the
// plain JSON-shaped values the rest of the pipeline expects.
func normalizeSQLiteValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
