// Package config provides the configuration types for ltsprep.
// This package is decoupled from CLI concerns; internal/cli/config layers
// the sources and decodes them into Config.
package config

import (
	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/overture"
)

// Config holds every setting of a run. It is loaded once and not changed
// afterwards.
type Config struct {
	Database  DatabaseConfig `koanf:"database"`
	BBox      overture.BBox  `koanf:"bbox"`
	Overture  OvertureConfig `koanf:"overture"`
	Network   NetworkConfig  `koanf:"network"`
	SQL       SQLConfig      `koanf:"sql"`
	Tools     ToolsConfig    `koanf:"tools"`
	StatePath string         `koanf:"state_path"`
	Verbose   bool           `koanf:"verbose"`
	Output    string         `koanf:"output"`

	// BaseDir anchors relative paths. It is set by the loader.
	BaseDir string `koanf:"-"`
}

// DatabaseConfig holds the PostgreSQL connection inputs.
type DatabaseConfig struct {
	URL       string `koanf:"url"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	User      string `koanf:"user"`
	Password  string `koanf:"password"`
	Name      string `koanf:"name"`
	AdminDB   string `koanf:"admin_db"`
	Extension string `koanf:"extension"`
}

// Settings returns the connection resolver input.
func (d DatabaseConfig) Settings() connection.Settings {
	return connection.Settings{
		URL:      d.URL,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Name,
	}
}

// OvertureConfig selects the Overture release and the local dataset file.
type OvertureConfig struct {
	Release string `koanf:"release"`
	File    string `koanf:"file"`
	// DuckDB holds extra engine params (extensions, secrets, settings).
	DuckDB map[string]any `koanf:"duckdb"`
}

// NetworkConfig locates the model network shapefile.
type NetworkConfig struct {
	// Shapefile is the path without extension.
	Shapefile string `koanf:"shapefile"`
}

// SQLConfig locates the external SQL scripts.
type SQLConfig struct {
	ConflateScript string `koanf:"conflate_script"`
	LTSScript      string `koanf:"lts_script"`
	SummaryMarker  string `koanf:"summary_marker"`
	OnErrorStop    bool   `koanf:"on_error_stop"`
}

// ToolsConfig names the external binaries.
type ToolsConfig struct {
	OGR2OGR string `koanf:"ogr2ogr"`
	Psql    string `koanf:"psql"`
}

// Request returns the Overture request for the configured release and box.
func (c *Config) Request() overture.Request {
	return overture.Request{Release: c.Overture.Release, BBox: c.BBox}
}
