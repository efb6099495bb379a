// Package duckdb provides the DuckDB adapter that drives Overture downloads.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/ltsprep/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
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

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	// A single connection keeps INSTALL/LOAD and SET on the session that
	// runs the later queries.
	db.SetMaxOpenConns(1)

	a.DB = db
	a.Cfg = cfg

	params, err := ParseParams(cfg.Params)
	if err != nil {
		_ = a.Close()
		return err
	}
	if err := a.Configure(ctx, params); err != nil {
		_ = a.Close()
		return err
	}
	return nil
}

// Configure installs and loads extensions, creates secrets and applies
// session settings, in that order.
func (a *Adapter) Configure(ctx context.Context, p *Params) error {
	if p == nil {
		return nil
	}
	if err := a.LoadExtensions(ctx, p.Extensions...); err != nil {
		return err
	}
	for _, s := range p.Secrets {
		stmt, err := createSecretSQL(s)
		if err != nil {
			return err
		}
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", s.Type, err)
		}
	}
	for _, stmt := range settingSQL(p.Settings) {
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting: %w", err)
		}
	}
	return nil
}

// LoadExtensions installs and loads each extension.
func (a *Adapter) LoadExtensions(ctx context.Context, names ...string) error {
	for _, name := range names {
		ident := adapter.QuoteIdent(name)
		a.Logger.Debug("loading duckdb extension", slog.String("extension", name))
		if err := a.Exec(ctx, "INSTALL "+ident); err != nil {
			return fmt.Errorf("failed to install duckdb extension %s: %w", name, err)
		}
		if err := a.Exec(ctx, "LOAD "+ident); err != nil {
			return fmt.Errorf("failed to load duckdb extension %s: %w", name, err)
		}
	}
	return nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
