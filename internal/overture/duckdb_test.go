package overture

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/ltsprep/internal/testutil"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/duckdb"
)

func mockSource(t *testing.T, extra *duckdb.Params) (*DuckDBSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.NewMockDB(t)
	src := NewDuckDBSource(extra, testutil.NewTestLogger(t))
	src.connect = func(context.Context) (*duckdb.Adapter, error) {
		return duckdb.NewWithDB(db, nil), nil
	}
	return src, mock
}

func expectSetup(mock sqlmock.Sqlmock) {
	for _, ext := range []string{"spatial", "httpfs"} {
		mock.ExpectExec(regexp.QuoteMeta(`INSTALL "` + ext + `"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(`LOAD "` + ext + `"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta(`SET "s3_region" = 'us-west-2'`)).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestDuckDBSource_Fetch(t *testing.T) {
	src, mock := mockSource(t, nil)
	expectSetup(mock)
	mock.ExpectExec(regexp.QuoteMeta(
		"FROM read_parquet('s3://overturemaps-us-west-2/release/2025-09-24.0/theme=transportation/type=segment/*'",
	)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "segments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1234))
	mock.ExpectExec(regexp.QuoteMeta(`COPY segments TO '/tmp/out.geojson.partial' WITH (FORMAT GDAL, DRIVER 'GeoJSON')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	n, err := src.Fetch(context.Background(), defaultRequest, "/tmp/out.geojson.partial")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)
}

func TestDuckDBSource_EmptySkipsCopy(t *testing.T) {
	src, mock := mockSource(t, nil)
	expectSetup(mock)
	mock.ExpectExec("CREATE TABLE segments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "segments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectClose()

	n, err := src.Fetch(context.Background(), defaultRequest, "/tmp/out.geojson.partial")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuckDBSource_ExtensionFailureHasHint(t *testing.T) {
	src, mock := mockSource(t, nil)
	mock.ExpectExec(regexp.QuoteMeta(`INSTALL "spatial"`)).WillReturnError(assert.AnError)
	mock.ExpectClose()

	_, err := src.Fetch(context.Background(), defaultRequest, "/tmp/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Hint:")
	assert.Contains(t, err.Error(), "spatial")
}

func TestDuckDBSource_ExtraParams(t *testing.T) {
	src, mock := mockSource(t, &duckdb.Params{Settings: map[string]string{"threads": "2"}})
	for _, ext := range []string{"spatial", "httpfs"} {
		mock.ExpectExec(regexp.QuoteMeta(`INSTALL "` + ext + `"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(`LOAD "` + ext + `"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta(`SET "s3_region" = 'us-west-2'`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`SET "threads" = '2'`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE segments").WillReturnError(assert.AnError)
	mock.ExpectClose()

	_, err := src.Fetch(context.Background(), defaultRequest, "/tmp/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read overture release 2025-09-24.0")
}

func TestSegmentQuery(t *testing.T) {
	q := segmentQuery(DefaultBucket+"/", Request{
		Release: "2025-09-24.0",
		BBox:    BBox{West: -76.210785, South: 39.478606, East: -73.885803, North: 40.601963},
	})

	assert.Contains(t, q, "'s3://overturemaps-us-west-2/release/2025-09-24.0/theme=transportation/type=segment/*'")
	assert.Contains(t, q, "bbox.xmin <= -73.885803")
	assert.Contains(t, q, "bbox.xmax >= -76.210785")
	assert.Contains(t, q, "bbox.ymin <= 40.601963")
	assert.Contains(t, q, "bbox.ymax >= 39.478606")
}

func TestCopyQueryQuotesPath(t *testing.T) {
	assert.Equal(t,
		`COPY segments TO '/data/o''neil.geojson' WITH (FORMAT GDAL, DRIVER 'GeoJSON')`,
		copyQuery("/data/o'neil.geojson"))
}
