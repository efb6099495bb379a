// Package cli provides the command-line interface for ltsprep.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/ltsprep/internal/cli/commands"
	"github.com/leapstack-labs/ltsprep/internal/cli/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Options swaps the collaborators of the commands, for tests.
type Options struct {
	Run    commands.RunOptions
	Doctor commands.DoctorOptions
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithOptions(&Options{})
}

// NewRootCmdWithOptions creates the root command with the given
// collaborators.
func NewRootCmdWithOptions(opts *Options) *cobra.Command {
	var (
		cfgFile string
		envFile string
	)

	rootCmd := &cobra.Command{
		Use:   "ltsprep",
		Short: "ltsprep - Level of Traffic Stress database preparation",
		Long: `ltsprep prepares a PostGIS database for Level of Traffic Stress analysis.

It downloads Overture Maps road segments for a bounding box, loads them and a
model network shapefile into PostGIS, then runs the speed conflation and LTS
scoring scripts. Each run is recorded in a local run-state ledger.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help, version and completion commands
			switch cmd.Name() {
			case "help", "version", "completion", "__complete":
				return nil
			}

			loaded, err := config.Load(config.Options{
				ConfigFile: cfgFile,
				EnvFile:    envFile,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), loaded.Config.Verbose)
			if loaded.ConfigFile != "" {
				logger.Debug("using config file", slog.String("path", loaded.ConfigFile))
			}
			if loaded.EnvFile != "" {
				logger.Debug("using env file", slog.String("path", loaded.EnvFile))
			}

			ctx := config.WithLoaded(cmd.Context(), loaded)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
` + fmt.Sprintf("commit %s, built %s\n", GitCommit, BuildDate))

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default: ./"+config.DefaultEnvFile+" when present)")
	rootCmd.PersistentFlags().String("state", "", "Path to the run-state database")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|plain)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "plain"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommandWithOptions(&opts.Run))
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewDoctorCommandWithOptions(&opts.Doctor))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for ltsprep.

To load completions:

Bash:
  $ source <(ltsprep completion bash)

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ ltsprep completion zsh > "${fpath[1]}/_ltsprep"

Fish:
  $ ltsprep completion fish > ~/.config/fish/completions/ltsprep.fish

PowerShell:
  PS> ltsprep completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
