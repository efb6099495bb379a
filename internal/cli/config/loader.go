// Package config layers the ltsprep configuration sources for the CLI.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, the
// .env file, the process environment, command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	intconfig "github.com/leapstack-labs/ltsprep/internal/config"
	"github.com/leapstack-labs/ltsprep/internal/failure"
)

// Config file names searched in the working directory.
const (
	ConfigFileName    = "ltsprep.yaml"
	ConfigFileNameAlt = "ltsprep.yml"
	DefaultEnvFile    = ".env"
)

// FlagKeys maps flag names to configuration keys. Flags not listed here
// (--config, --env-file, command-local switches) are not configuration.
var FlagKeys = map[string]string{
	"state":         "state_path",
	"verbose":       "verbose",
	"output":        "output",
	"release":       "overture.release",
	"overture-file": "overture.file",
	"west":          "bbox.west",
	"south":         "bbox.south",
	"east":          "bbox.east",
	"north":         "bbox.north",
	"shapefile":     "network.shapefile",
	"conflate-sql":  "sql.conflate_script",
	"lts-sql":       "sql.lts_script",
	"on-error-stop": "sql.on_error_stop",
	"ogr2ogr":       "tools.ogr2ogr",
	"psql":          "tools.psql",
}

// pathKeys hold filesystem paths. Flag values for them are made absolute
// against the working directory.
var pathKeys = map[string]bool{
	"state_path":          true,
	"overture.file":       true,
	"network.shapefile":   true,
	"sql.conflate_script": true,
	"sql.lts_script":      true,
}

// Options selects the sources to load.
type Options struct {
	// ConfigFile is an explicit YAML file. It must exist when set.
	ConfigFile string
	// EnvFile is an explicit .env file. It must exist when set; otherwise
	// .env is read when present.
	EnvFile string
	Flags   *pflag.FlagSet
}

// Loaded is the decoded configuration and where it came from.
type Loaded struct {
	Config     *intconfig.Config
	ConfigFile string
	EnvFile    string
}

// Load layers every source, decodes the result and validates it.
func Load(opts Options) (*Loaded, error) {
	k := koanf.New(".")
	out := &Loaded{}

	// 1. Defaults
	if err := k.Load(confmap.Provider(intconfig.Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. YAML file
	cfgFile, err := findConfigFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		out.ConfigFile = cfgFile
	}

	// 3. .env file
	envFile, err := findEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if envFile != "" {
		values, err := readEnvFile(envFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		out.EnvFile = envFile
	}

	// 4. Process environment, unchanged variable names. Empty values count
	// as unset.
	if err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return intconfig.EnvKeys[name], value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Flags, only those explicitly set
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			val := posflag.FlagVal(opts.Flags, f)
			if s, isStr := val.(string); isStr && pathKeys[key] && s != "" {
				if abs, err := filepath.Abs(s); err == nil {
					val = abs
				}
			}
			return key, val
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg intconfig.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, failure.Config("", "unable to decode config: %v", err)
	}

	// Relative paths from an explicit config file are anchored at its directory.
	if opts.ConfigFile != "" {
		if abs, err := filepath.Abs(opts.ConfigFile); err == nil {
			cfg.BaseDir = filepath.Dir(abs)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out.Config = &cfg
	return out, nil
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", failure.Config("--config", "cannot read %s: %v", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

func findEnvFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", failure.Config("--env-file", "cannot read %s: %v", explicit, err)
		}
		return explicit, nil
	}
	if _, err := os.Stat(DefaultEnvFile); err == nil {
		return DefaultEnvFile, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", DefaultEnvFile, err)
	}
	return "", nil
}

// readEnvFile parses a dotenv file and keeps the recognized variables,
// keyed by configuration key.
func readEnvFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	raw, err := dotenv.Parser().Unmarshal(b)
	if err != nil {
		return nil, failure.Config("--env-file", "cannot parse %s: %v", path, err)
	}

	values := make(map[string]any, len(raw))
	for name, v := range raw {
		key, ok := intconfig.EnvKeys[name]
		if !ok || v == "" {
			continue
		}
		values[key] = v
	}
	return values, nil
}
