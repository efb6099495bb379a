package loader

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/overture"
	"github.com/leapstack-labs/ltsprep/internal/testutil"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 1,
     "geometry": {"type": "LineString", "coordinates": [[-75.16, 39.95], [-75.15, 39.96]]},
     "properties": {"id": "seg-a", "class": "primary", "speed": 25, "flags": ["bridge"], "oneway": null}},
    {"type": "Feature",
     "geometry": {"type": "LineString", "coordinates": [[-75.14, 39.97], [-75.13, 39.98]]},
     "properties": {"id": "seg-b", "class": null, "speed": 30.5, "flags": null, "oneway": true}}
  ]
}`

var testDescriptor = connection.Descriptor{Host: "db", Port: 5432, User: "lts", Password: "s3cret", Database: "lts"}

type fakeEnsurer struct {
	res   *overture.Result
	err   error
	calls int
}

func (f *fakeEnsurer) Ensure(_ context.Context, path string, _ overture.Request) (*overture.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &overture.Result{Path: path, Cached: true}, nil
}

func mockDialer(t *testing.T, setup func(sqlmock.Sqlmock)) postgres.Dialer {
	t.Helper()
	return postgres.DialerFunc(func(context.Context, string) (*postgres.Adapter, error) {
		db, mock := testutil.NewMockDB(t)
		setup(mock)
		return postgres.NewWithDB(db, nil), nil
	})
}

func TestReadGeoJSON(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "roads.geojson", sampleGeoJSON)

	ds, err := ReadGeoJSON(path)
	require.NoError(t, err)
	require.Len(t, ds.Features, 2)

	assert.Equal(t, "1", ds.Features[0].ID)
	assert.Empty(t, ds.Features[1].ID)
	require.NotNil(t, ds.Features[0].Geometry)

	assert.Equal(t, []Column{
		{Name: "class", Property: "class", Type: TypeText},
		{Name: "flags", Property: "flags", Type: TypeJSONB},
		{Name: "id", Property: "id", Type: TypeText},
		{Name: "oneway", Property: "oneway", Type: TypeBoolean},
		{Name: "speed", Property: "speed", Type: TypeDouble},
	}, ds.Columns)
}

func TestReadGeoJSON_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "not json", content: "nope", wantErr: "as GeoJSON"},
		{name: "not a collection", content: `{"type": "Feature"}`, wantErr: "expected a FeatureCollection"},
		{name: "bad geometry", content: `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Blob"},"properties":{}}]}`, wantErr: "feature 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteFile(t, dir, tt.name+".geojson", tt.content)
			_, err := ReadGeoJSON(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInferColumns(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   ColumnType
	}{
		{name: "integers", values: []any{1.0, 2.0}, want: TypeBigint},
		{name: "mixed numbers widen", values: []any{1.0, 2.5}, want: TypeDouble},
		{name: "booleans", values: []any{true, false}, want: TypeBoolean},
		{name: "objects", values: []any{map[string]any{"a": 1.0}, []any{1.0}}, want: TypeJSONB},
		{name: "conflict falls back to text", values: []any{"a", 1.0}, want: TypeText},
		{name: "only nulls", values: []any{nil, nil}, want: TypeText},
		{name: "null then value", values: []any{nil, true}, want: TypeBoolean},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features := make([]*Feature, 0, len(tt.values))
			for _, v := range tt.values {
				features = append(features, &Feature{Properties: map[string]any{"p": v}})
			}
			cols := InferColumns(features)
			require.Len(t, cols, 1)
			assert.Equal(t, tt.want, cols[0].Type)
		})
	}
}

func TestInferColumns_RenamesGeometryProperty(t *testing.T) {
	cols := InferColumns([]*Feature{{Properties: map[string]any{"geometry": "x"}}})
	require.Len(t, cols, 1)
	assert.Equal(t, "geometry_property", cols[0].Name)
	assert.Equal(t, "geometry", cols[0].Property)
}

func TestInsertSQL(t *testing.T) {
	cols := []Column{
		{Name: "id", Type: TypeText},
		{Name: "flags", Type: TypeJSONB},
	}
	assert.Equal(t,
		`INSERT INTO "overture_roads" ("id", "flags", "geometry") VALUES `+
			`($1, $2::jsonb, ST_SetSRID($3::geometry, 4326)), ($4, $5::jsonb, ST_SetSRID($6::geometry, 4326))`,
		InsertSQL(RoadsTable, cols, 2))

	assert.Equal(t,
		`INSERT INTO "overture_roads" ("geometry") VALUES (ST_SetSRID($1::geometry, 4326))`,
		InsertSQL(RoadsTable, nil, 1))
}

func TestCreateTableSQL(t *testing.T) {
	cols := []Column{{Name: "speed", Type: TypeDouble}, {Name: `we"ird`, Type: TypeText}}
	assert.Equal(t,
		`CREATE TABLE "overture_roads" ("speed" double precision, "we""ird" text, "geometry" geometry(Geometry, 4326))`,
		CreateTableSQL(RoadsTable, cols))
}

func TestVectorLoader_Load(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "overture_roads.geojson", sampleGeoJSON)

	dialer := mockDialer(t, func(m sqlmock.Sqlmock) {
		m.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "conflation" CASCADE`)).WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "overture_roads" CASCADE`)).WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectBegin()
		m.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "overture_roads" ("class" text, "flags" jsonb, "id" text, "oneway" boolean, "speed" double precision, "geometry" geometry(Geometry, 4326))`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectExec(regexp.QuoteMeta(`INSERT INTO "overture_roads"`)).
			WithArgs(
				"primary", `["bridge"]`, "seg-a", nil, 25.0, sqlmock.AnyArg(),
				nil, nil, "seg-b", true, 30.5, sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 2))
		m.ExpectCommit()
		m.ExpectClose()
	})

	ensurer := &fakeEnsurer{}
	res, err := NewVectorLoader(dialer, ensurer, testutil.NewTestLogger(t)).
		Load(context.Background(), testDescriptor, path, overture.Request{Release: overture.DefaultRelease, BBox: overture.DefaultBBox})
	require.NoError(t, err)

	assert.Equal(t, 1, ensurer.calls)
	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, 5, res.Columns)
	assert.Equal(t, "loaded 2 road segments into overture_roads", res.Summary())
}

func TestVectorLoader_InsertFailureRollsBack(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "overture_roads.geojson", sampleGeoJSON)

	dialer := mockDialer(t, func(m sqlmock.Sqlmock) {
		m.ExpectExec("DROP SCHEMA").WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectExec("DROP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectBegin()
		m.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectExec("INSERT INTO").WillReturnError(errors.New(`type "geometry" does not exist`))
		m.ExpectRollback()
		m.ExpectClose()
	})

	_, err := NewVectorLoader(dialer, &fakeEnsurer{}, nil).
		Load(context.Background(), testDescriptor, path, overture.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert into overture_roads")
}

func TestVectorLoader_MissingAfterEnsure(t *testing.T) {
	dialer := postgres.DialerFunc(func(context.Context, string) (*postgres.Adapter, error) {
		t.Fatal("must not dial without a dataset")
		return nil, nil
	})

	_, err := NewVectorLoader(dialer, &fakeEnsurer{}, nil).
		Load(context.Background(), testDescriptor, "/nonexistent/overture_roads.geojson", overture.Request{})
	require.Error(t, err)
	assert.Equal(t, failure.KindPrecondition, failure.KindOf(err))
}

func TestVectorLoader_EnsureFailure(t *testing.T) {
	ensureErr := &failure.ToolError{Tool: "overture", ExitCode: -1, Output: "no segments"}
	_, err := NewVectorLoader(nil, &fakeEnsurer{err: ensureErr}, nil).
		Load(context.Background(), testDescriptor, "x.geojson", overture.Request{})
	require.ErrorIs(t, err, ensureErr)
}

func TestVectorResult_SummaryCarriesWarning(t *testing.T) {
	r := &VectorResult{Rows: 3, Acquisition: &overture.Result{Warning: "cached file was downloaded for release 2025-08-20.1"}}
	assert.Contains(t, r.Summary(), "warning: cached file")
}
