package overture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/ltsprep/pkg/adapter"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/duckdb"
)

// DefaultBucket is the public Overture release bucket.
const DefaultBucket = "s3://overturemaps-us-west-2/release"

// baseParams are always applied before any configured extras.
var baseParams = duckdb.Params{
	Extensions: []string{"spatial", "httpfs"},
	Settings:   map[string]string{"s3_region": "us-west-2"},
}

// DuckDBSource reads the Overture GeoParquet release with DuckDB and writes
// the matching segments through GDAL.
type DuckDBSource struct {
	bucket string
	extra  *duckdb.Params
	logger *slog.Logger
	// connect opens the engine; tests replace it.
	connect func(ctx context.Context) (*duckdb.Adapter, error)
}

// NewDuckDBSource creates a source. extra may carry further extensions,
// secrets and settings.
func NewDuckDBSource(extra *duckdb.Params, logger *slog.Logger) *DuckDBSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &DuckDBSource{bucket: DefaultBucket, extra: extra, logger: logger}
	s.connect = func(ctx context.Context) (*duckdb.Adapter, error) {
		a := duckdb.New(logger)
		if err := a.Connect(ctx, adapter.Config{Type: "duckdb", Path: ":memory:"}); err != nil {
			return nil, err
		}
		return a, nil
	}
	return s
}

// Fetch implements Source.
func (s *DuckDBSource) Fetch(ctx context.Context, req Request, dest string) (int64, error) {
	if err := ValidateRelease(req.Release); err != nil {
		return 0, err
	}

	db, err := s.connect(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to start duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Configure(ctx, baseParams.Merge(s.extra)); err != nil {
		return 0, fmt.Errorf("%w\nHint: the spatial and httpfs extensions are downloaded on first use; check network access to extensions.duckdb.org", err)
	}

	if err := db.Exec(ctx, segmentQuery(s.bucket, req)); err != nil {
		return 0, fmt.Errorf("failed to read overture release %s: %w", req.Release, err)
	}

	n, err := db.CountRows(ctx, "segments")
	if err != nil {
		return 0, err
	}
	s.logger.Debug("selected overture segments", slog.Int64("features", n))
	if n == 0 {
		return 0, nil
	}

	if err := db.Exec(ctx, copyQuery(dest)); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return n, nil
}

func segmentQuery(bucket string, req Request) string {
	src := fmt.Sprintf("%s/%s/theme=transportation/type=segment/*", strings.TrimRight(bucket, "/"), req.Release)
	b := req.BBox
	return `CREATE TABLE segments AS
SELECT
    id,
    subtype,
    class,
    subclass,
    names.primary AS name,
    to_json(names)::VARCHAR AS names,
    to_json(speed_limits)::VARCHAR AS speed_limits,
    to_json(road_surface)::VARCHAR AS road_surface,
    to_json(road_flags)::VARCHAR AS road_flags,
    to_json(access_restrictions)::VARCHAR AS access_restrictions,
    to_json(connectors)::VARCHAR AS connectors,
    geometry
FROM read_parquet(` + adapter.QuoteLiteral(src) + `, filename=true, hive_partitioning=1)
WHERE bbox.xmin <= ` + fmtCoord(b.East) + `
  AND bbox.xmax >= ` + fmtCoord(b.West) + `
  AND bbox.ymin <= ` + fmtCoord(b.North) + `
  AND bbox.ymax >= ` + fmtCoord(b.South)
}

func copyQuery(dest string) string {
	return "COPY segments TO " + adapter.QuoteLiteral(dest) + " WITH (FORMAT GDAL, DRIVER 'GeoJSON')"
}

var _ Source = (*DuckDBSource)(nil)
