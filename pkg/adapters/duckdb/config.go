package duckdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/ltsprep/pkg/adapter"
)

// Params holds DuckDB-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// Extensions to install and load (e.g., "httpfs", "spatial")
	Extensions []string `mapstructure:"extensions"`

	// Secrets for cloud storage authentication
	Secrets []SecretConfig `mapstructure:"secrets"`

	// Settings to apply at session level (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`
}

// SecretConfig defines a DuckDB secret for cloud storage.
type SecretConfig struct {
	// Type: "s3", "gcs", "azure", "r2"
	Type string `mapstructure:"type"`

	// Provider: "config", "credential_chain", etc.
	Provider string `mapstructure:"provider"`

	Region   string `mapstructure:"region,omitempty"`
	Scope    any    `mapstructure:"scope,omitempty"`
	KeyID    string `mapstructure:"key_id,omitempty"`
	Secret   string `mapstructure:"secret,omitempty"`
	Endpoint string `mapstructure:"endpoint,omitempty"`
	URLStyle string `mapstructure:"url_style,omitempty"`
	UseSSL   *bool  `mapstructure:"use_ssl,omitempty"`
}

// ParseParams decodes raw params into Params. Nil input yields an empty value.
func ParseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build params decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid duckdb params: %w", err)
	}
	return p, nil
}

// Merge returns p with the extensions of other appended (deduplicated) and
// its settings layered on top.
func (p *Params) Merge(other *Params) *Params {
	out := &Params{Settings: map[string]string{}}
	seen := map[string]bool{}
	for _, src := range []*Params{p, other} {
		if src == nil {
			continue
		}
		for _, ext := range src.Extensions {
			if !seen[ext] {
				seen[ext] = true
				out.Extensions = append(out.Extensions, ext)
			}
		}
		out.Secrets = append(out.Secrets, src.Secrets...)
		for k, v := range src.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

// createSecretSQL renders a CREATE SECRET statement.
func createSecretSQL(s SecretConfig) (string, error) {
	if s.Type == "" {
		return "", fmt.Errorf("secret type is required")
	}

	opts := []string{"TYPE " + identOption(s.Type)}
	if s.Provider != "" {
		opts = append(opts, "PROVIDER "+identOption(s.Provider))
	}
	for _, kv := range []struct{ key, val string }{
		{"REGION", s.Region},
		{"KEY_ID", s.KeyID},
		{"SECRET", s.Secret},
		{"ENDPOINT", s.Endpoint},
		{"URL_STYLE", s.URLStyle},
	} {
		if kv.val != "" {
			opts = append(opts, kv.key+" "+adapter.QuoteLiteral(kv.val))
		}
	}
	if s.UseSSL != nil {
		opts = append(opts, fmt.Sprintf("USE_SSL %t", *s.UseSSL))
	}

	switch scope := s.Scope.(type) {
	case nil:
	case string:
		opts = append(opts, "SCOPE "+adapter.QuoteLiteral(scope))
	case []any:
		parts := make([]string, 0, len(scope))
		for _, v := range scope {
			parts = append(parts, adapter.QuoteLiteral(fmt.Sprint(v)))
		}
		opts = append(opts, "SCOPE ["+strings.Join(parts, ", ")+"]")
	default:
		return "", fmt.Errorf("unsupported secret scope type %T", s.Scope)
	}

	return "CREATE SECRET (" + strings.Join(opts, ", ") + ")", nil
}

// settingSQL renders SET statements in key order so runs are reproducible.
func settingSQL(settings map[string]string) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stmts := make([]string, 0, len(keys))
	for _, k := range keys {
		stmts = append(stmts, fmt.Sprintf("SET %s = %s", adapter.QuoteIdent(k), adapter.QuoteLiteral(settings[k])))
	}
	return stmts
}

// identOption keeps bare option words (s3, credential_chain) and rejects
// anything that is not a plain identifier by quoting it as a literal.
func identOption(v string) string {
	for _, r := range v {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return adapter.QuoteLiteral(v)
		}
	}
	return v
}
