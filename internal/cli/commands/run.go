package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/ltsprep/internal/cli/output"
	"github.com/leapstack-labs/ltsprep/internal/pipeline"
	"github.com/leapstack-labs/ltsprep/internal/workflow"
)

// RunOptions swaps the collaborators of the run command, for tests.
type RunOptions struct {
	Deps workflow.Deps
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return NewRunCommandWithOptions(&RunOptions{})
}

// NewRunCommandWithOptions creates the run command with the given
// collaborators. Nil members get the production implementation.
func NewRunCommandWithOptions(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Prepare the LTS database",
		Long: `Run the full preparation pipeline against the configured PostGIS database:

  1. create the database and the PostGIS extension
  2. download Overture road segments for the bounding box and load them
  3. load the model network shapefile
  4. run the speed conflation script
  5. run the LTS scoring script
  6. remove the downloaded GeoJSON file

The first failing step stops the run. Nothing is rolled back.`,
		Example: `  # Run with .env in the working directory
  ltsprep run

  # Override the bounding box and release
  ltsprep run --west -75.3 --south 39.8 --east -74.9 --north 40.1 --release 2025-09-24.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}
	AddOverrideFlags(cmd.Flags())
	return cmd
}

// AddOverrideFlags registers the per-key configuration overrides.
func AddOverrideFlags(fs *pflag.FlagSet) {
	fs.String("release", "", "Overture Maps release (OVERTURE_VERSION)")
	fs.String("overture-file", "", "path of the downloaded GeoJSON file")
	fs.Float64("west", 0, "bounding box west longitude (BBOX_WEST)")
	fs.Float64("south", 0, "bounding box south latitude (BBOX_SOUTH)")
	fs.Float64("east", 0, "bounding box east longitude (BBOX_EAST)")
	fs.Float64("north", 0, "bounding box north latitude (BBOX_NORTH)")
	fs.String("shapefile", "", "model network shapefile, without extension (NETWORK_SHAPEFILE)")
	fs.String("conflate-sql", "", "speed conflation script (CONFLATE_SQL)")
	fs.String("lts-sql", "", "LTS scoring script (LTS_SQL)")
	fs.Bool("on-error-stop", true, "stop psql scripts at the first error")
	fs.String("ogr2ogr", "", "ogr2ogr binary (OGR2OGR_BIN)")
	fs.String("psql", "", "psql binary (PSQL_BIN)")
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	deps := opts.Deps
	deps.Logger = cc.Logger

	store, err := cc.OpenStore(cmd)
	if err != nil {
		// the ledger is optional; the run proceeds without it
		cc.Logger.Warn("run-state ledger unavailable", slog.String("error", err.Error()))
		cc.Renderer.Warning(fmt.Sprintf("run history will not be recorded: %v", err))
	} else {
		defer func() { _ = store.Close() }()
		if deps.Ledger == nil {
			deps.Ledger = store
		}
	}

	stages, err := workflow.Build(cc.Cfg, deps)
	if err != nil {
		return err
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithObserver(output.NewProgress(cc.Renderer)),
		pipeline.WithLogger(cc.Logger),
	}
	if store != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRecorder(workflow.NewRecorder(store)))
	}
	p, err := pipeline.New(stages, pipeOpts...)
	if err != nil {
		return err
	}

	report := p.Run(ctx)
	if !report.Succeeded() {
		return report.Err
	}
	return nil
}
