package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "config", err: Config("database.password", "must be set"), want: KindConfig},
		{name: "wrapped precondition", err: fmt.Errorf("load network: %w", Missing("shapefile", "a.SHP", "a.shp")), want: KindPrecondition},
		{name: "tool", err: &ToolError{Tool: "psql", ExitCode: 3}, want: KindTool},
		{name: "plain", err: errors.New("boom"), want: KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "config with hint",
			err:  Config("POSTGRES_PASSWORD", "must be set").WithHint("add it to .env"),
			want: "POSTGRES_PASSWORD: must be set\nHint: add it to .env",
		},
		{
			name: "missing with two paths",
			err:  Missing("shapefile", "in/net.SHP", "in/net.shp"),
			want: "shapefile not found at in/net.SHP or in/net.shp",
		},
		{
			name: "tool with output",
			err:  &ToolError{Tool: "ogr2ogr", ExitCode: 1, Output: "  ERROR 1: bad  \n"},
			want: "ogr2ogr exited with status 1: ERROR 1: bad",
		},
		{
			name: "tool without output",
			err:  &ToolError{Tool: "psql", ExitCode: 2},
			want: "psql exited with status 2",
		},
		{
			name: "source without exit code",
			err:  &ToolError{Tool: "overture", ExitCode: -1, Output: "no segments returned"},
			want: "overture: no segments returned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
