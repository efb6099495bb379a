package config

import (
	"errors"
	"path/filepath"

	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/overture"
)

// Output formats accepted by --output.
var outputFormats = map[string]bool{"auto": true, "text": true, "plain": true}

// Validate checks the values that can be checked without touching the
// filesystem or the database. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if err := c.BBox.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := overture.ValidateRelease(c.Overture.Release); err != nil {
		errs = append(errs, err)
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errs = append(errs, failure.Config("database.port", "%d is not a valid port", c.Database.Port))
	}
	if !outputFormats[c.Output] {
		errs = append(errs, failure.Config("output", "unknown format %q", c.Output).
			WithHint("use auto, text or plain"))
	}
	for _, p := range []struct{ key, value string }{
		{"overture.file", c.Overture.File},
		{"network.shapefile", c.Network.Shapefile},
		{"sql.conflate_script", c.SQL.ConflateScript},
		{"sql.lts_script", c.SQL.LTSScript},
	} {
		if p.value == "" {
			errs = append(errs, failure.Config(p.key, "must not be empty"))
		}
	}
	return errors.Join(errs...)
}

// Path resolves a configured path against BaseDir.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}
