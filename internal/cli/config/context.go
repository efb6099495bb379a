package config

import (
	"context"
	"log/slog"

	intconfig "github.com/leapstack-labs/ltsprep/internal/config"
)

type loggerKey struct{}

type configKey struct{}

// WithLogger stores the logger in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithLoaded stores the loaded configuration in ctx.
func WithLoaded(ctx context.Context, l *Loaded) context.Context {
	return context.WithValue(ctx, configKey{}, l)
}

// GetLoaded retrieves the loaded configuration, or nil when none was
// loaded (help and completion).
func GetLoaded(ctx context.Context) *Loaded {
	l, _ := ctx.Value(configKey{}).(*Loaded)
	return l
}

// GetConfig is a shorthand for GetLoaded(ctx).Config.
func GetConfig(ctx context.Context) *intconfig.Config {
	if l := GetLoaded(ctx); l != nil {
		return l.Config
	}
	return nil
}
