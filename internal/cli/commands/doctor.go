package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	intconfig "github.com/leapstack-labs/ltsprep/internal/config"
	"github.com/leapstack-labs/ltsprep/internal/loader"
	"github.com/leapstack-labs/ltsprep/internal/workflow"
	"github.com/leapstack-labs/ltsprep/pkg/adapters/postgres"
)

// Check statuses.
const (
	CheckOK   = "ok"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// HealthCheck is one doctor finding.
type HealthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Ping     bool
	LookPath func(file string) (string, error)
	Dialer   postgres.Dialer
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return NewDoctorCommandWithOptions(&DoctorOptions{})
}

// NewDoctorCommandWithOptions creates the doctor command with the given
// collaborators. Nil members get the production implementation.
func NewDoctorCommandWithOptions(opts *DoctorOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that a run has what it needs",
		Long: `Check the configuration, the external tools on PATH and the input files
a run needs. With --ping, also connect to the database server.`,
		Example: `  ltsprep doctor
  ltsprep doctor --ping`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Ping, "ping", false, "connect to the database server")
	AddOverrideFlags(cmd.Flags())
	return cmd
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = postgres.NewDialer(cc.Logger)
	}

	checks := []HealthCheck{configCheck(cc)}
	checks = append(checks, connectionCheck(cmd.Context(), cc.Cfg, opts.Ping, dialer)...)
	checks = append(checks,
		toolCheck(lookPath, "ogr2ogr", cc.Cfg.Tools.OGR2OGR),
		toolCheck(lookPath, "psql", cc.Cfg.Tools.Psql),
	)
	checks = append(checks, inputChecks(cc.Cfg)...)

	rows := make([]table.Row, 0, len(checks))
	failed := 0
	for _, c := range checks {
		if c.Status == CheckFail {
			failed++
		}
		rows = append(rows, table.Row{c.Name, c.Status, c.Detail})
	}
	cc.Renderer.Table(table.Row{"Check", "Status", "Detail"}, rows)

	if failed > 0 {
		return fmt.Errorf("doctor found %d problem(s)", failed)
	}
	cc.Renderer.Success("ready to run")
	return nil
}

func configCheck(cc *CommandContext) HealthCheck {
	detail := "defaults and environment"
	if cc.Loaded.ConfigFile != "" {
		detail = cc.Loaded.ConfigFile
	}
	if cc.Loaded.EnvFile != "" {
		detail += ", " + cc.Loaded.EnvFile
	}
	return HealthCheck{Name: "configuration", Status: CheckOK, Detail: detail}
}

func connectionCheck(ctx context.Context, cfg *intconfig.Config, ping bool, dialer postgres.Dialer) []HealthCheck {
	d, err := workflow.Resolve(cfg)
	if err != nil {
		return []HealthCheck{{Name: "connection", Status: CheckFail, Detail: err.Error()}}
	}
	checks := []HealthCheck{{Name: "connection", Status: CheckOK, Detail: d.Redacted()}}
	if !ping {
		return checks
	}

	admin, err := dialer.Dial(ctx, d.ForDatabase(cfg.Database.AdminDB).URL())
	if err != nil {
		return append(checks, HealthCheck{Name: "server", Status: CheckFail, Detail: err.Error()})
	}
	exists, err := admin.DatabaseExists(ctx, d.Database)
	_ = admin.Close()
	if err != nil {
		return append(checks, HealthCheck{Name: "server", Status: CheckFail, Detail: err.Error()})
	}
	checks = append(checks, HealthCheck{Name: "server", Status: CheckOK, Detail: "reachable"})
	if !exists {
		return append(checks, HealthCheck{
			Name:   "database",
			Status: CheckWarn,
			Detail: fmt.Sprintf("%s does not exist yet; run creates it", d.Database),
		})
	}

	target, err := dialer.Dial(ctx, d.URL())
	if err != nil {
		return append(checks, HealthCheck{Name: "database", Status: CheckFail, Detail: err.Error()})
	}
	defer func() { _ = target.Close() }()
	version, err := target.ExtensionVersion(ctx, cfg.Database.Extension)
	if err != nil {
		return append(checks, HealthCheck{Name: "database", Status: CheckWarn, Detail: err.Error()})
	}
	return append(checks, HealthCheck{
		Name:   "database",
		Status: CheckOK,
		Detail: fmt.Sprintf("%s with %s %s", d.Database, cfg.Database.Extension, version),
	})
}

func toolCheck(lookPath func(string) (string, error), name, bin string) HealthCheck {
	if bin == "" {
		bin = name
	}
	path, err := lookPath(bin)
	if err != nil {
		return HealthCheck{Name: name, Status: CheckFail, Detail: fmt.Sprintf("%s not found on PATH", bin)}
	}
	return HealthCheck{Name: name, Status: CheckOK, Detail: path}
}

func inputChecks(cfg *intconfig.Config) []HealthCheck {
	var checks []HealthCheck

	if shp, err := loader.ResolveShapefile(cfg.Path(cfg.Network.Shapefile)); err != nil {
		checks = append(checks, HealthCheck{Name: "shapefile", Status: CheckFail, Detail: err.Error()})
	} else {
		checks = append(checks, HealthCheck{Name: "shapefile", Status: CheckOK, Detail: shp})
	}

	checks = append(checks,
		fileCheck("conflate script", cfg.Path(cfg.SQL.ConflateScript)),
		fileCheck("LTS script", cfg.Path(cfg.SQL.LTSScript)),
	)

	geojson := cfg.Path(cfg.Overture.File)
	if _, err := os.Stat(geojson); err == nil {
		checks = append(checks, HealthCheck{Name: "overture data", Status: CheckOK, Detail: "cached at " + geojson})
	} else {
		checks = append(checks, HealthCheck{
			Name:   "overture data",
			Status: CheckOK,
			Detail: fmt.Sprintf("release %s for %s will be downloaded", cfg.Overture.Release, cfg.BBox),
		})
	}
	return checks
}

func fileCheck(name, path string) HealthCheck {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return HealthCheck{Name: name, Status: CheckFail, Detail: "not found at " + path}
	case err != nil:
		return HealthCheck{Name: name, Status: CheckFail, Detail: err.Error()}
	case info.IsDir():
		return HealthCheck{Name: name, Status: CheckFail, Detail: path + " is a directory"}
	}
	return HealthCheck{Name: name, Status: CheckOK, Detail: path}
}
