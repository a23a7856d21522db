package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/snakerun/internal/assets"
	"github.com/3leaps/snakerun/internal/config"
	"github.com/3leaps/snakerun/internal/observability"
	"github.com/3leaps/snakerun/pkg/project"
)

var (
	initForce   bool
	initWorkDir string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the working directory",
	Long: `Initialize the working directory by copying the system default config
files (config/ and assets/) and creating log/.

Existing files are kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite files that already exist")
	initCmd.Flags().StringVar(&initWorkDir, "workdir", "", "Directory to initialize (default current directory)")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	if cfg == nil {
		var err error
		if cfg, err = config.Load(commandContext(cmd)); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
	}

	dir, err := workDir(initWorkDir)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve working directory", err)
	}

	observability.CLILogger.Info("Copying default config files to working directory", zap.String("dir", dir))
	report, err := project.Init(assets.Open(cfg.Paths.BaseDir), project.Options{
		Patterns:  project.DefaultPatterns,
		Dirs:      project.DefaultDirs,
		Dest:      dir,
		Overwrite: initForce,
	})
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Initialization failed", err)
	}

	for _, f := range report.Skipped {
		observability.CLILogger.Warn("Kept existing file (use --force to overwrite)", zap.String("file", f))
	}
	observability.CLILogger.Info("Working directory initialized",
		zap.Int("copied", len(report.Copied)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Strings("created", report.Created))
	return nil
}
