package provision

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/testutil"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

var (
	existsQuery    = regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)")
	versionQuery   = regexp.QuoteMeta("SELECT extversion FROM pg_extension WHERE extname = $1")
	createExt      = regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS "postgis"`)
	createDB       = regexp.QuoteMeta(`CREATE DATABASE "lts"`)
	testDescriptor = connection.Descriptor{Host: "localhost", Port: 5432, User: "postgres", Password: "pw", Database: "lts"}
)

// queueDialer hands out one mock database per Dial call and records the
// connection strings it was asked for.
type queueDialer struct {
	t     *testing.T
	mocks []func(sqlmock.Sqlmock)
	urls  []string
}

func (q *queueDialer) Dial(_ context.Context, connString string) (*postgres.Adapter, error) {
	q.urls = append(q.urls, connString)
	require.NotEmpty(q.t, q.mocks, "unexpected dial to %s", connString)
	db, mock := testutil.NewMockDB(q.t)
	q.mocks[0](mock)
	q.mocks = q.mocks[1:]
	return postgres.NewWithDB(db, nil), nil
}

func TestProvisioner_Provision(t *testing.T) {
	tests := []struct {
		name        string
		exists      bool
		wantCreated bool
	}{
		{name: "database absent is created", exists: false, wantCreated: true},
		{name: "database present is reused", exists: true, wantCreated: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &queueDialer{t: t, mocks: []func(sqlmock.Sqlmock){
				func(m sqlmock.Sqlmock) {
					m.ExpectQuery(existsQuery).WithArgs("lts").
						WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
					if !tt.exists {
						m.ExpectExec(createDB).WillReturnResult(sqlmock.NewResult(0, 0))
					}
					m.ExpectClose()
				},
				func(m sqlmock.Sqlmock) {
					m.ExpectExec(createExt).WillReturnResult(sqlmock.NewResult(0, 0))
					m.ExpectQuery(versionQuery).WithArgs("postgis").
						WillReturnRows(sqlmock.NewRows([]string{"extversion"}).AddRow("3.5.2"))
					m.ExpectClose()
				},
			}}

			p := New(dialer, testutil.NewTestLogger(t))
			res, err := p.Provision(context.Background(), testDescriptor)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCreated, res.Created)
			assert.Equal(t, "3.5.2", res.ExtensionVersion)
			require.Len(t, dialer.urls, 2)
			assert.Equal(t, "postgresql://postgres:pw@localhost:5432/postgres", dialer.urls[0])
			assert.Equal(t, "postgresql://postgres:pw@localhost:5432/lts", dialer.urls[1])
		})
	}
}

func TestProvisioner_CustomAdminAndExtension(t *testing.T) {
	dialer := &queueDialer{t: t, mocks: []func(sqlmock.Sqlmock){
		func(m sqlmock.Sqlmock) {
			m.ExpectQuery(existsQuery).WithArgs("lts").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			m.ExpectClose()
		},
		func(m sqlmock.Sqlmock) {
			m.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS "postgis_raster"`)).
				WillReturnResult(sqlmock.NewResult(0, 0))
			m.ExpectQuery(versionQuery).WithArgs("postgis_raster").
				WillReturnRows(sqlmock.NewRows([]string{"extversion"}).AddRow("3.5.2"))
			m.ExpectClose()
		},
	}}

	p := New(dialer, nil, WithAdminDatabase("template1"), WithExtension("postgis_raster"))
	res, err := p.Provision(context.Background(), testDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "database lts exists, postgis_raster 3.5.2", res.Summary())
	assert.Contains(t, dialer.urls[0], "/template1")
}

func TestProvisioner_Failures(t *testing.T) {
	t.Run("admin connection refused", func(t *testing.T) {
		dialer := postgres.DialerFunc(func(context.Context, string) (*postgres.Adapter, error) {
			return nil, errors.New("connection refused")
		})
		_, err := New(dialer, nil).Provision(context.Background(), testDescriptor)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.NotContains(t, err.Error(), ":pw@")
	})

	t.Run("extension unavailable stops before version check", func(t *testing.T) {
		dialer := &queueDialer{t: t, mocks: []func(sqlmock.Sqlmock){
			func(m sqlmock.Sqlmock) {
				m.ExpectQuery(existsQuery).WithArgs("lts").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
				m.ExpectClose()
			},
			func(m sqlmock.Sqlmock) {
				m.ExpectExec(createExt).WillReturnError(errors.New(`extension "postgis" is not available`))
				m.ExpectClose()
			},
		}}
		_, err := New(dialer, nil).Provision(context.Background(), testDescriptor)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to enable extension")
	})
}
