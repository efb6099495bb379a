package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/overture"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

// Names owned by the vector stage.
const (
	RoadsTable       = "overture_roads"
	ConflationSchema = "conflation"
)

// maxParams stays under the PostgreSQL limit of 65535 bind parameters.
const maxParams = 60000

// Ensurer makes the dataset file available.
type Ensurer interface {
	Ensure(ctx context.Context, path string, req overture.Request) (*overture.Result, error)
}

// VectorResult reports what the vector stage loaded.
type VectorResult struct {
	Rows        int64
	Columns     int
	Acquisition *overture.Result
}

// Summary is the one-line stage summary.
func (r *VectorResult) Summary() string {
	s := fmt.Sprintf("loaded %d road segments into %s", r.Rows, RoadsTable)
	if r.Acquisition != nil && r.Acquisition.Warning != "" {
		s += " (warning: " + r.Acquisition.Warning + ")"
	}
	return s
}

// VectorLoader replaces the roads table with the GeoJSON contents.
type VectorLoader struct {
	dialer   postgres.Dialer
	acquirer Ensurer
	logger   *slog.Logger
}

// NewVectorLoader creates a vector loader.
func NewVectorLoader(dialer postgres.Dialer, acquirer Ensurer, logger *slog.Logger) *VectorLoader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VectorLoader{dialer: dialer, acquirer: acquirer, logger: logger}
}

// Load ensures the dataset, drops the conflation schema and the roads table,
// then recreates the table and inserts every feature in one transaction.
// The drops and the load are separate; a failed load leaves no roads table.
func (l *VectorLoader) Load(ctx context.Context, d connection.Descriptor, path string, req overture.Request) (*VectorResult, error) {
	acq, err := l.acquirer.Ensure(ctx, path, req)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, failure.Missing("dataset file", path)
	}

	ds, err := ReadGeoJSON(path)
	if err != nil {
		return nil, err
	}
	l.logger.Info("read dataset", slog.String("path", path), slog.Int("features", len(ds.Features)), slog.Int("columns", len(ds.Columns)))

	db, err := l.dialer.Dial(ctx, d.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Redacted(), err)
	}
	defer func() { _ = db.Close() }()

	if err := db.DropSchema(ctx, ConflationSchema); err != nil {
		return nil, err
	}
	if err := db.DropTable(ctx, RoadsTable); err != nil {
		return nil, err
	}

	n, err := insertDataset(ctx, db, RoadsTable, ds)
	if err != nil {
		return nil, err
	}

	return &VectorResult{Rows: n, Columns: len(ds.Columns), Acquisition: acq}, nil
}

func insertDataset(ctx context.Context, db *postgres.Adapter, table string, ds *Dataset) (int64, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, CreateTableSQL(table, ds.Columns)); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", table, err)
	}

	perRow := len(ds.Columns) + 1
	batch := max(1, maxParams/perRow)

	var total int64
	for start := 0; start < len(ds.Features); start += batch {
		end := min(start+batch, len(ds.Features))
		rows := ds.Features[start:end]

		args := make([]any, 0, len(rows)*perRow)
		for _, f := range rows {
			for _, c := range ds.Columns {
				v, err := columnValue(f.Properties[c.Property], c.Type)
				if err != nil {
					return 0, fmt.Errorf("failed to convert property %s: %w", c.Property, err)
				}
				args = append(args, v)
			}
			g, err := geometryValue(f)
			if err != nil {
				return 0, err
			}
			args = append(args, g)
		}

		if _, err := tx.ExecContext(ctx, InsertSQL(table, ds.Columns, len(rows)), args...); err != nil {
			return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		total += int64(len(rows))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return total, nil
}

// CreateTableSQL renders the CREATE TABLE statement for the dataset columns.
func CreateTableSQL(table string, cols []Column) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+string(c.Type))
	}
	defs = append(defs, pgx.Identifier{GeometryColumn}.Sanitize()+" geometry(Geometry, 4326)")
	return "CREATE TABLE " + pgx.Identifier{table}.Sanitize() + " (" + strings.Join(defs, ", ") + ")"
}

// InsertSQL renders a multi-row INSERT with numbered placeholders.
func InsertSQL(table string, cols []Column, rows int) string {
	names := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		names = append(names, pgx.Identifier{c.Name}.Sanitize())
	}
	names = append(names, pgx.Identifier{GeometryColumn}.Sanitize())

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for r := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for i, c := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$" + strconv.Itoa(n))
			if c.Type == TypeJSONB {
				b.WriteString("::jsonb")
			}
			n++
		}
		if len(cols) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("ST_SetSRID($" + strconv.Itoa(n) + "::geometry, 4326))")
		n++
	}
	return b.String()
}
