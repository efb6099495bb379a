// Package postgres provides the PostgreSQL/PostGIS adapter used by every
// stage that touches the target database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/leapstack-labs/ltsprep/pkg/adapter"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// NewWithDB wraps an already open database handle.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Adapter {
	a := New(logger)
	a.DB = db
	return a
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = buildPostgresDSN(cfg)
	}

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a keyword/value PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		conninfoValue(host), port, conninfoValue(cfg.Database), conninfoValue(sslmode))

	if cfg.Username != "" {
		dsn += " user=" + conninfoValue(cfg.Username)
	}
	if cfg.Password != "" {
		dsn += " password=" + conninfoValue(cfg.Password)
	}

	return dsn
}

func conninfoValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// DatabaseExists reports whether a database with the given name exists.
func (a *Adapter) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := a.QueryValue(ctx, []any{&exists},
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name)
	if err != nil {
		return false, fmt.Errorf("failed to look up database %q: %w", name, err)
	}
	return exists, nil
}

// CreateDatabase issues CREATE DATABASE. It cannot run inside a transaction,
// so it goes straight to the pool, which autocommits.
func (a *Adapter) CreateDatabase(ctx context.Context, name string) error {
	if err := a.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	return nil
}

// CreateExtension enables an extension in the connected database if it is
// not enabled yet.
func (a *Adapter) CreateExtension(ctx context.Context, name string) error {
	if err := a.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to enable extension %q: %w", name, err)
	}
	return nil
}

// ExtensionVersion returns the installed version of an extension.
func (a *Adapter) ExtensionVersion(ctx context.Context, name string) (string, error) {
	var version string
	err := a.QueryValue(ctx, []any{&version},
		"SELECT extversion FROM pg_extension WHERE extname = $1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("extension %q is not installed", name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read version of extension %q: %w", name, err)
	}
	return version, nil
}

// TableExists reports whether a (possibly schema-qualified) table exists.
func (a *Adapter) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := a.QueryValue(ctx, []any{&exists}, "SELECT to_regclass($1) IS NOT NULL", table); err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return exists, nil
}

// DropSchema drops a schema and everything depending on it, if it exists.
func (a *Adapter) DropSchema(ctx context.Context, name string) error {
	if err := a.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{name}.Sanitize()+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", name, err)
	}
	return nil
}

// DropTable drops a table and everything depending on it, if it exists.
func (a *Adapter) DropTable(ctx context.Context, name string) error {
	ident := pgx.Identifier(strings.Split(name, ".")).Sanitize()
	if err := a.Exec(ctx, "DROP TABLE IF EXISTS "+ident+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
