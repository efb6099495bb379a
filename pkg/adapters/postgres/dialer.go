package postgres

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/ltsprep/pkg/adapter"
)

// Dialer opens a connected adapter for a connection string. Stages dial
// their own connection and close it when they finish.
type Dialer interface {
	Dial(ctx context.Context, connString string) (*Adapter, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, connString string) (*Adapter, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, connString string) (*Adapter, error) {
	return f(ctx, connString)
}

// NewDialer returns a Dialer that connects through the pgx stdlib driver.
func NewDialer(logger *slog.Logger) Dialer {
	return DialerFunc(func(ctx context.Context, connString string) (*Adapter, error) {
		a := New(logger)
		if err := a.Connect(ctx, adapter.Config{Type: "postgres", DSN: connString}); err != nil {
			return nil, err
		}
		return a, nil
	})
}
