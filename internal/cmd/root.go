package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/snakerun/internal/assets"
	"github.com/3leaps/snakerun/internal/config"
	"github.com/3leaps/snakerun/internal/observability"
	"github.com/3leaps/snakerun/pkg/citation"
)

var (
	cfgFile      string
	verbose      bool
	showCitation bool

	appIdentity *config.AppIdentity
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var rootCmd = &cobra.Command{
	Use:   "snakerun",
	Short: "Launch Snakemake workflows locally or on a Slurm cluster",
	Long: `snakerun assembles a Snakemake command line and runs it, either directly
or by writing a Slurm submission script and handing it to sbatch.

For more options, run:
  snakerun [command] --help`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showCitation {
			return printCitation(cmd)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./snakerun.yaml or $XDG_CONFIG_HOME/snakerun/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&showCitation, "citation", false, "Print the citation in bibtex format and exit")
	rootCmd.SetVersionTemplate("{{.Name}}, version {{.Version}}\n")
}

// SetVersionInfo records build metadata for --version and doctor.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity set up by the root command, or nil
// before any command ran.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which stops any running child process.
func Execute() error {
	rootCmd.Version = versionInfo.Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}
	config.SetAppIdentity(*appIdentity)
	config.SetConfigFile(cfgFile)

	cfg, err := config.Load(commandContext(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load config", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	observability.InitCLILoggerWithLevel(appIdentity.BinaryName, level)
	return nil
}

func printCitation(cmd *cobra.Command) error {
	c, err := citation.Load(assets.Defaults(), assets.CitationFile)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot read citation", err)
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), c.BibTeX())
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
