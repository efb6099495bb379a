package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/process"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

// NetworkTable is the table ogr2ogr writes.
const NetworkTable = "model_network"

// DefaultOGR2OGR is the ogr2ogr binary looked up on PATH.
const DefaultOGR2OGR = "ogr2ogr"

// NetworkResult reports what the network stage loaded.
type NetworkResult struct {
	Path string
	Rows int64
}

// Summary is the one-line stage summary.
func (r *NetworkResult) Summary() string {
	return fmt.Sprintf("loaded %d links from %s into %s", r.Rows, r.Path, NetworkTable)
}

// ResolveShapefile returns base+".SHP" or base+".shp", whichever exists
// first.
func ResolveShapefile(base string) (string, error) {
	candidates := []string{base + ".SHP", base + ".shp"}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", failure.Missing("shapefile", candidates...).
		WithHint("set NETWORK_SHAPEFILE to the shapefile path without extension")
}

// NetworkLoader imports the model network through ogr2ogr.
type NetworkLoader struct {
	runner  process.Runner
	dialer  postgres.Dialer
	ogr2ogr string
	logger  *slog.Logger
}

// NewNetworkLoader creates a network loader. An empty binary name means
// ogr2ogr from PATH.
func NewNetworkLoader(runner process.Runner, dialer postgres.Dialer, ogr2ogr string, logger *slog.Logger) *NetworkLoader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if ogr2ogr == "" {
		ogr2ogr = DefaultOGR2OGR
	}
	return &NetworkLoader{runner: runner, dialer: dialer, ogr2ogr: ogr2ogr, logger: logger}
}

// OGR2OGRArgs builds the ogr2ogr argument vector. It never contains the
// password.
func OGR2OGRArgs(d connection.Descriptor, shapefile string) []string {
	return []string{
		"-f", "PostgreSQL",
		d.OGRSource(),
		shapefile,
		"-nln", NetworkTable,
		"-lco", "GEOMETRY_NAME=geom",
		"-lco", "FID=gid",
		"-t_srs", "EPSG:4326",
		"-overwrite",
	}
}

// Load resolves the shapefile, runs ogr2ogr and counts the loaded rows on a
// fresh connection.
func (l *NetworkLoader) Load(ctx context.Context, d connection.Descriptor, base string) (*NetworkResult, error) {
	path, err := ResolveShapefile(base)
	if err != nil {
		return nil, err
	}

	cmd := process.Command{
		Name: l.ogr2ogr,
		Args: OGR2OGRArgs(d, path),
		Env:  d.Env(),
	}
	l.logger.Info("loading network", slog.String("shapefile", path), slog.String("command", cmd.String()))

	res, err := l.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &failure.ToolError{Tool: "ogr2ogr", ExitCode: res.ExitCode, Output: string(res.Stderr)}
	}

	db, err := l.dialer.Dial(ctx, d.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Redacted(), err)
	}
	defer func() { _ = db.Close() }()

	n, err := db.CountRows(ctx, NetworkTable)
	if err != nil {
		return nil, err
	}
	return &NetworkResult{Path: path, Rows: n}, nil
}
