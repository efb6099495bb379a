package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitest "github.com/leapstack-labs/ltsprep/internal/cli/testutil"
	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/overture"
	"github.com/leapstack-labs/ltsprep/internal/testutil"
)

var isolate = clitest.Isolate

func testFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("state", "", "")
	fs.String("release", "", "")
	fs.String("shapefile", "", "")
	fs.Float64("west", 0, "")
	fs.Bool("on-error-stop", true, "")
	fs.String("config", "", "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	loaded, err := Load(Options{})
	require.NoError(t, err)
	cfg := loaded.Config

	assert.Empty(t, loaded.ConfigFile)
	assert.Empty(t, loaded.EnvFile)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "lts", cfg.Database.Name)
	assert.Equal(t, "postgres", cfg.Database.AdminDB)
	assert.Empty(t, cfg.Database.Password)
	assert.Equal(t, overture.DefaultBBox, cfg.BBox)
	assert.Equal(t, overture.DefaultRelease, cfg.Overture.Release)
	assert.Equal(t, "input/bike_network_dec1_2025_link", cfg.Network.Shapefile)
	assert.Equal(t, "conflate_speed_data.sql", cfg.SQL.ConflateScript)
	assert.Equal(t, "calculate_lts.sql", cfg.SQL.LTSScript)
	assert.True(t, cfg.SQL.OnErrorStop)
	assert.Equal(t, "ogr2ogr", cfg.Tools.OGR2OGR)
	assert.Equal(t, "psql", cfg.Tools.Psql)
	assert.Equal(t, ".ltsprep/state.db", cfg.StatePath)
	assert.Empty(t, cfg.BaseDir)
}

func TestLoad_Precedence(t *testing.T) {
	dir := isolate(t)

	testutil.WriteFile(t, dir, ConfigFileName, `
database:
  host: yaml-host
  user: yaml-user
  name: yaml-db
overture:
  release: "2024-01-01.0"
bbox:
  west: -75.5
`)
	testutil.WriteFile(t, dir, DefaultEnvFile, `
POSTGRES_USER=dotenv-user
POSTGRES_DB=dotenv-db
POSTGRES_PASSWORD=from-dotenv
UNRELATED=ignored
`)
	t.Setenv("POSTGRES_DB", "env-db")
	t.Setenv("OVERTURE_VERSION", "2025-01-01.1")

	flags := testFlags(t)
	require.NoError(t, flags.Parse([]string{"--release", "2025-06-01.2", "--west", "-75.25"}))

	loaded, err := Load(Options{Flags: flags})
	require.NoError(t, err)
	cfg := loaded.Config

	assert.Equal(t, ConfigFileName, loaded.ConfigFile)
	assert.Equal(t, DefaultEnvFile, loaded.EnvFile)

	assert.Equal(t, "yaml-host", cfg.Database.Host, "yaml over defaults")
	assert.Equal(t, "dotenv-user", cfg.Database.User, ".env over yaml")
	assert.Equal(t, "env-db", cfg.Database.Name, "environment over .env")
	assert.Equal(t, "from-dotenv", cfg.Database.Password)
	assert.Equal(t, "2025-06-01.2", cfg.Overture.Release, "flags over environment")
	assert.InDelta(t, -75.25, cfg.BBox.West, 1e-9)
	assert.InDelta(t, overture.DefaultBBox.North, cfg.BBox.North, 1e-9)
}

func TestLoad_EnvStringsDecode(t *testing.T) {
	isolate(t)
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("BBOX_SOUTH", "39.9")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5433/lts")

	loaded, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, 5433, loaded.Config.Database.Port)
	assert.InDelta(t, 39.9, loaded.Config.BBox.South, 1e-9)
	assert.Equal(t, "postgres://u:p@db:5433/lts", loaded.Config.Database.URL)
}

func TestLoad_ExplicitConfigAnchorsPaths(t *testing.T) {
	isolate(t)
	proj := t.TempDir()
	cfgPath := testutil.WriteFile(t, proj, "custom.yaml", "sql:\n  lts_script: sql/lts.sql\n")

	loaded, err := Load(Options{ConfigFile: cfgPath})
	require.NoError(t, err)
	cfg := loaded.Config

	assert.Equal(t, proj, cfg.BaseDir)
	assert.Equal(t, filepath.Join(proj, "sql/lts.sql"), cfg.Path(cfg.SQL.LTSScript))
}

func TestLoad_FlagPathsAreAbsolute(t *testing.T) {
	dir := isolate(t)
	flags := testFlags(t)
	require.NoError(t, flags.Parse([]string{"--shapefile", "input/net", "--state", "run/state.db"}))

	loaded, err := Load(Options{Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "input/net"), loaded.Config.Network.Shapefile)
	assert.Equal(t, filepath.Join(dir, "run/state.db"), loaded.Config.StatePath)
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	isolate(t)
	t.Setenv("OVERTURE_VERSION", "2025-01-01.1")

	flags := testFlags(t)
	require.NoError(t, flags.Parse(nil))

	loaded, err := Load(Options{Flags: flags})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01.1", loaded.Config.Overture.Release)
	assert.True(t, loaded.Config.SQL.OnErrorStop)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string) Options
		wantErr string
	}{
		{
			name: "missing explicit config",
			setup: func(_ *testing.T, dir string) Options {
				return Options{ConfigFile: filepath.Join(dir, "nope.yaml")}
			},
			wantErr: "--config: cannot read",
		},
		{
			name: "missing explicit env file",
			setup: func(_ *testing.T, dir string) Options {
				return Options{EnvFile: filepath.Join(dir, "nope.env")}
			},
			wantErr: "--env-file: cannot read",
		},
		{
			name: "inverted bbox from environment",
			setup: func(t *testing.T, _ string) Options {
				t.Setenv("BBOX_WEST", "10")
				t.Setenv("BBOX_EAST", "5")
				return Options{}
			},
			wantErr: "west (10) must be less than east (5)",
		},
		{
			name: "bad release",
			setup: func(t *testing.T, _ string) Options {
				t.Setenv("OVERTURE_VERSION", "latest")
				return Options{}
			},
			wantErr: "is not a release identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			_, err := Load(tt.setup(t, dir))
			require.Error(t, err)
			assert.Equal(t, failure.KindConfig, failure.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
