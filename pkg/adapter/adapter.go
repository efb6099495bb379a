// Package adapter provides the database adapter contract shared by the
// PostgreSQL target adapter and the DuckDB download engine.
//
// Concrete adapters live in pkg/adapters/ subdirectories and embed
// BaseSQLAdapter for the database/sql plumbing.
package adapter

import (
	"context"
)

// Config holds connection settings for an adapter.
// DSN, when set, is used verbatim and the discrete fields are ignored.
type Config struct {
	Type     string
	DSN      string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string

	// Params holds adapter-specific configuration (e.g., DuckDB extensions and settings)
	Params map[string]any
}

// Adapter defines the interface that all database adapters implement.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, sql string, args ...any) error

	// QueryValue runs a query returning a single row and scans it into dest.
	QueryValue(ctx context.Context, dest []any, sql string, args ...any) error

	// CountRows returns the number of rows in a (possibly schema-qualified) table.
	CountRows(ctx context.Context, table string) (int64, error)
}
