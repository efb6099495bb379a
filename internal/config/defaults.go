package config

import (
	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/loader"
	"github.com/leapstack-labs/ltsprep/internal/overture"
	"github.com/leapstack-labs/ltsprep/internal/provision"
	"github.com/leapstack-labs/ltsprep/internal/sqlstage"
	"github.com/leapstack-labs/ltsprep/internal/state"
)

// Default configuration values.
const (
	DefaultOvertureFile   = "overture_roads.geojson"
	DefaultShapefile      = "input/bike_network_dec1_2025_link"
	DefaultConflateScript = "conflate_speed_data.sql"
	DefaultLTSScript      = "calculate_lts.sql"
	DefaultOutput         = "auto"
)

// Defaults returns the built-in values as a flat key map, the lowest
// configuration layer. The password and URL have no default.
func Defaults() map[string]any {
	return map[string]any{
		"database.host":       connection.DefaultHost,
		"database.port":       connection.DefaultPort,
		"database.user":       connection.DefaultUser,
		"database.name":       connection.DefaultDatabase,
		"database.admin_db":   provision.DefaultAdminDatabase,
		"database.extension":  provision.DefaultExtension,
		"bbox.west":           overture.DefaultBBox.West,
		"bbox.south":          overture.DefaultBBox.South,
		"bbox.east":           overture.DefaultBBox.East,
		"bbox.north":          overture.DefaultBBox.North,
		"overture.release":    overture.DefaultRelease,
		"overture.file":       DefaultOvertureFile,
		"network.shapefile":   DefaultShapefile,
		"sql.conflate_script": DefaultConflateScript,
		"sql.lts_script":      DefaultLTSScript,
		"sql.summary_marker":  sqlstage.DefaultSummaryMarker,
		"sql.on_error_stop":   true,
		"tools.ogr2ogr":       loader.DefaultOGR2OGR,
		"tools.psql":          sqlstage.DefaultPsql,
		"state_path":          state.DefaultPath,
		"verbose":             false,
		"output":              DefaultOutput,
	}
}

// EnvKeys maps the recognized environment variables to configuration keys.
var EnvKeys = map[string]string{
	"DATABASE_URL":      "database.url",
	"POSTGRES_HOST":     "database.host",
	"POSTGRES_PORT":     "database.port",
	"POSTGRES_USER":     "database.user",
	"POSTGRES_PASSWORD": "database.password",
	"POSTGRES_DB":       "database.name",
	"BBOX_WEST":         "bbox.west",
	"BBOX_SOUTH":        "bbox.south",
	"BBOX_EAST":         "bbox.east",
	"BBOX_NORTH":        "bbox.north",
	"OVERTURE_VERSION":  "overture.release",
	"NETWORK_SHAPEFILE": "network.shapefile",
	"CONFLATE_SQL":      "sql.conflate_script",
	"LTS_SQL":           "sql.lts_script",
	"OGR2OGR_BIN":       "tools.ogr2ogr",
	"PSQL_BIN":          "tools.psql",
}
