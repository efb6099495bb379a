package commands

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/ltsprep/internal/cli/config"
	"github.com/leapstack-labs/ltsprep/internal/cli/output"
	intconfig "github.com/leapstack-labs/ltsprep/internal/config"
	"github.com/leapstack-labs/ltsprep/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Loaded   *config.Loaded
	Cfg      *intconfig.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

var errNoConfig = errors.New("configuration was not loaded")

// NewCommandContext collects the configuration and logger stored by the root
// command and creates a renderer for the command's streams.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	loaded := config.GetLoaded(cmd.Context())
	if loaded == nil {
		return nil, errNoConfig
	}
	cfg := loaded.Config
	return &CommandContext{
		Loaded:   loaded,
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, nil
}

// OpenStore opens the run-state ledger. The caller closes it.
func (c *CommandContext) OpenStore(cmd *cobra.Command) (*state.SQLiteStore, error) {
	return state.OpenStore(cmd.Context(), c.Cfg.Path(c.Cfg.StatePath), c.Logger)
}
