// Package provision makes sure the target database exists and has the
// required extension enabled.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

// Defaults for the administrative database and the extension to enable.
const (
	DefaultAdminDatabase = "postgres"
	DefaultExtension     = "postgis"
)

// Result describes what provisioning did.
type Result struct {
	Database         string
	Created          bool
	Extension        string
	ExtensionVersion string
}

// Summary is the one-line stage summary.
func (r *Result) Summary() string {
	verb := "exists"
	if r.Created {
		verb = "created"
	}
	return fmt.Sprintf("database %s %s, %s %s", r.Database, verb, r.Extension, r.ExtensionVersion)
}

// Provisioner creates the target database and enables the extension.
type Provisioner struct {
	dialer    postgres.Dialer
	adminDB   string
	extension string
	logger    *slog.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithAdminDatabase sets the database used for the existence check.
func WithAdminDatabase(name string) Option {
	return func(p *Provisioner) {
		if name != "" {
			p.adminDB = name
		}
	}
}

// WithExtension sets the extension to enable.
func WithExtension(name string) Option {
	return func(p *Provisioner) {
		if name != "" {
			p.extension = name
		}
	}
}

// New creates a provisioner that dials through dialer.
func New(dialer postgres.Dialer, logger *slog.Logger, opts ...Option) *Provisioner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Provisioner{
		dialer:    dialer,
		adminDB:   DefaultAdminDatabase,
		extension: DefaultExtension,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision runs the existence check and creation on the administrative
// database, then reconnects to the target to enable and verify the
// extension. Each connection is closed before the next one opens.
func (p *Provisioner) Provision(ctx context.Context, d connection.Descriptor) (*Result, error) {
	res := &Result{Database: d.Database, Extension: p.extension}

	created, err := p.ensureDatabase(ctx, d)
	if err != nil {
		return nil, err
	}
	res.Created = created

	version, err := p.ensureExtension(ctx, d)
	if err != nil {
		return nil, err
	}
	res.ExtensionVersion = version

	p.logger.Info("database ready",
		slog.String("database", d.Database),
		slog.Bool("created", created),
		slog.String("extension", p.extension),
		slog.String("version", version))

	return res, nil
}

func (p *Provisioner) ensureDatabase(ctx context.Context, d connection.Descriptor) (bool, error) {
	admin := d.ForDatabase(p.adminDB)
	db, err := p.dialer.Dial(ctx, admin.URL())
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", admin.Redacted(), err)
	}
	defer func() { _ = db.Close() }()

	exists, err := db.DatabaseExists(ctx, d.Database)
	if err != nil {
		return false, err
	}
	if exists {
		p.logger.Debug("database already exists", slog.String("database", d.Database))
		return false, nil
	}

	if err := db.CreateDatabase(ctx, d.Database); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provisioner) ensureExtension(ctx context.Context, d connection.Descriptor) (string, error) {
	db, err := p.dialer.Dial(ctx, d.URL())
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", d.Redacted(), err)
	}
	defer func() { _ = db.Close() }()

	if err := db.CreateExtension(ctx, p.extension); err != nil {
		return "", err
	}
	return db.ExtensionVersion(ctx, p.extension)
}
