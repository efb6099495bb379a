// Package workflow binds the configuration and the collaborators into the
// six preparation stages in their fixed order.
package workflow

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/ltsprep/internal/cleanup"
	"github.com/leapstack-labs/ltsprep/internal/config"
	"github.com/leapstack-labs/ltsprep/internal/connection"
	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/loader"
	"github.com/leapstack-labs/ltsprep/internal/overture"
	"github.com/leapstack-labs/ltsprep/internal/pipeline"
	"github.com/leapstack-labs/ltsprep/internal/process"
	"github.com/leapstack-labs/ltsprep/internal/provision"
	"github.com/leapstack-labs/ltsprep/internal/sqlstage"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/duckdb"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

// Output tables the external scripts are expected to create.
const (
	SpeedTable = "output.network_with_speed"
	LTSTable   = "output.network_with_lts"
)

// Stage titles, as shown to the operator.
var titles = map[pipeline.State]string{
	pipeline.StateDBSetup:     "database setup",
	pipeline.StateLoadVector:  "loading overture roads data",
	pipeline.StateLoadNetwork: "loading network data",
	pipeline.StateConflate:    "running speed data conflation",
	pipeline.StateScoreLTS:    "calculating level of traffic stress",
	pipeline.StateCleanup:     "cleanup",
}

// Title returns the operator-facing title of a state.
func Title(s pipeline.State) string {
	if t, ok := titles[s]; ok {
		return t
	}
	return string(s)
}

// Deps are the collaborators the stages use. Nil members get the
// production implementation.
type Deps struct {
	Dialer postgres.Dialer
	Runner process.Runner
	Source overture.Source
	// Ledger, when set, remembers which request produced the dataset file.
	Ledger overture.Ledger
	Logger *slog.Logger
}

func (d Deps) withDefaults(cfg *config.Config) (Deps, error) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Dialer == nil {
		d.Dialer = postgres.NewDialer(d.Logger)
	}
	if d.Runner == nil {
		d.Runner = process.NewExecRunner(d.Logger)
	}
	if d.Source == nil {
		params, err := duckdb.ParseParams(cfg.Overture.DuckDB)
		if err != nil {
			return d, failure.Config("overture.duckdb", "%v", err)
		}
		d.Source = overture.NewDuckDBSource(params, d.Logger)
	}
	return d, nil
}

// Resolve returns the connection descriptor for cfg.
func Resolve(cfg *config.Config) (connection.Descriptor, error) {
	return connection.Resolve(cfg.Database.Settings())
}

// Build returns the six stages for cfg. The connection is resolved here, so
// a missing password fails before any stage runs.
func Build(cfg *config.Config, deps Deps) ([]pipeline.Stage, error) {
	d, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	deps, err = deps.withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	log := deps.Logger

	geojson := cfg.Path(cfg.Overture.File)
	provisioner := provision.New(deps.Dialer, log,
		provision.WithAdminDatabase(cfg.Database.AdminDB),
		provision.WithExtension(cfg.Database.Extension))
	vector := loader.NewVectorLoader(deps.Dialer, overture.NewAcquirer(deps.Source, deps.Ledger, log), log)
	network := loader.NewNetworkLoader(deps.Runner, deps.Dialer, cfg.Tools.OGR2OGR, log)
	scripts := sqlstage.New(deps.Runner, deps.Dialer, log,
		sqlstage.WithPsql(cfg.Tools.Psql),
		sqlstage.WithOnErrorStop(cfg.SQL.OnErrorStop))

	stages := []pipeline.Stage{
		{
			State: pipeline.StateDBSetup,
			Run: func(ctx context.Context) (*pipeline.Outcome, error) {
				res, err := provisioner.Provision(ctx, d)
				if err != nil {
					return nil, err
				}
				return &pipeline.Outcome{Summary: res.Summary()}, nil
			},
		},
		{
			State: pipeline.StateLoadVector,
			Run: func(ctx context.Context) (*pipeline.Outcome, error) {
				res, err := vector.Load(ctx, d, geojson, cfg.Request())
				if err != nil {
					return nil, err
				}
				return &pipeline.Outcome{Summary: res.Summary()}, nil
			},
		},
		{
			State: pipeline.StateLoadNetwork,
			Run: func(ctx context.Context) (*pipeline.Outcome, error) {
				res, err := network.Load(ctx, d, cfg.Path(cfg.Network.Shapefile))
				if err != nil {
					return nil, err
				}
				return &pipeline.Outcome{Summary: res.Summary()}, nil
			},
		},
		{
			State: pipeline.StateConflate,
			Run: func(ctx context.Context) (*pipeline.Outcome, error) {
				res, err := scripts.Run(ctx, d, sqlstage.Script{
					Name:        "conflation",
					Path:        cfg.Path(cfg.SQL.ConflateScript),
					OutputTable: SpeedTable,
				})
				if err != nil {
					return nil, err
				}
				return &pipeline.Outcome{Summary: res.Line()}, nil
			},
		},
		{
			State: pipeline.StateScoreLTS,
			Run: func(ctx context.Context) (*pipeline.Outcome, error) {
				res, err := scripts.Run(ctx, d, sqlstage.Script{
					Name:          "LTS",
					Path:          cfg.Path(cfg.SQL.LTSScript),
					SummaryMarker: cfg.SQL.SummaryMarker,
					OutputTable:   LTSTable,
				})
				if err != nil {
					return nil, err
				}
				return &pipeline.Outcome{Summary: res.Line(), Lines: res.Summary}, nil
			},
		},
		{
			State: pipeline.StateCleanup,
			Run: func(context.Context) (*pipeline.Outcome, error) {
				res, err := cleanup.Remove(geojson, log)
				if err != nil {
					return nil, err
				}
				return &pipeline.Outcome{Summary: res.Summary()}, nil
			},
		},
	}
	for i := range stages {
		stages[i].Title = Title(stages[i].State)
	}
	return stages, nil
}
