package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// ErrInvalidIdentifier is returned for table or column names that cannot be safely quoted
var ErrInvalidIdentifier = errors.New("invalid identifier")

// validIdentifier only allows alphanumeric characters and underscores, starting with a letter or underscore.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// markerAlias names the single column returned by the freshness query
const markerAlias = "marker"

// MarkerSource reads the current freshness marker
type MarkerSource interface {
	Marker(ctx context.Context) (Marker, error)
}

// FreshnessSource runs `SELECT MAX(column) FROM table` against the upstream store.
// It never writes.
type FreshnessSource struct {
	conn   *sql.DB
	table  string
	column string
	query  string
}

// NewFreshnessSource builds the freshness query once for the given dialect ("mysql" or "sqlite3")
func NewFreshnessSource(conn *sql.DB, dialect, table, column string) (*FreshnessSource, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("table %q: %w", table, ErrInvalidIdentifier)
	}
	if !validIdentifier.MatchString(column) {
		return nil, fmt.Errorf("column %q: %w", column, ErrInvalidIdentifier)
	}

	query, _, err := goqu.Dialect(dialect).
		From(table).
		Select(goqu.MAX(column).As(markerAlias)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build freshness query: %w", err)
	}

	return &FreshnessSource{
		conn:   conn,
		table:  table,
		column: column,
		query:  query,
	}, nil
}

// Query returns the SQL statement issued on every poll
func (s *FreshnessSource) Query() string {
	return s.query
}

// Marker reads the current maximum of the freshness column
func (s *FreshnessSource) Marker(ctx context.Context) (Marker, error) {
	var value sql.NullString
	if err := s.conn.QueryRowContext(ctx, s.query).Scan(&value); err != nil {
		return Null(), fmt.Errorf("failed to read %s.%s: %w", s.table, s.column, err)
	}
	return markerFromNullString(value), nil
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
