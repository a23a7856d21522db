package cmd

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/snakerun/internal/assets"
	"github.com/3leaps/snakerun/internal/config"
	"github.com/3leaps/snakerun/internal/observability"
	"github.com/3leaps/snakerun/pkg/dispatch"
	"github.com/3leaps/snakerun/pkg/hpc"
)

var doctorWorkDir string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  snakerun doctor                  # Check the current directory
  snakerun doctor --workdir runs/a # Check another working directory`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorWorkDir, "workdir", "", "Working directory to check (default current directory)")
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

func runDoctor(cmd *cobra.Command, _ []string) error {
	logger := observability.CLILogger
	ctx := commandContext(cmd)

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	logger.Info("=== " + bannerName + " ===")
	logger.Info("Running diagnostic checks...")

	cfg := config.GetConfig()
	if cfg == nil {
		var err error
		if cfg, err = config.Load(ctx); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
	}

	allChecks := true
	checkNum := 1
	totalChecks := 6
	step := func(name string) string {
		s := fmt.Sprintf("[%d/%d] Checking %s...", checkNum, totalChecks, name)
		checkNum++
		return s
	}

	// Check 1: build info
	logger.Info(step("version")+" ✅ "+versionInfo.Version,
		zap.String("commit", versionInfo.Commit),
		zap.String("go_version", runtime.Version()),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	// Check 2: config source
	source := cfg.Source
	if source == "" {
		source = "built-in defaults"
	}
	logger.Info(step("configuration")+" ✅ "+source, zap.String("mode", cfg.Run.Mode))

	// Check 3: cluster registry
	assetsFS := assets.Open(cfg.Paths.BaseDir)
	registry, err := loadRegistry(cfg, assetsFS)
	if err != nil {
		logger.Error(step("cluster registry")+" ❌ cannot load", zap.Error(err))
		allChecks = false
	} else {
		logger.Info(step("cluster registry")+" ✅ "+strings.Join(registry.Clusters(), ", "),
			zap.Int("clusters", len(registry.Clusters())))
	}

	// Check 4: HPC environment
	env := newDetector(cfg, newRunner()).Detect(ctx)
	name, detected := env.Name()
	switch {
	case !detected:
		logger.Info(step("HPC environment")+" ✅ none detected; only --mode local is available",
			zap.Strings("query", cfg.Scheduler.QueryCommand))
	case registry == nil:
		logger.Warn(step("HPC environment")+" ⚠️  "+name+" (registry unavailable)")
		allChecks = false
	default:
		if p, ok := registry.Lookup(name); ok {
			logger.Info(step("HPC environment")+" ✅ "+name,
				zap.String("profile", p.Profile),
				zap.String("slurm_header", p.SlurmHeader))
		} else {
			logger.Warn(step("HPC environment")+" ⚠️  "+name+" is not registered; --mode slurm will be refused")
			allChecks = false
		}
	}

	// Check 5: executables
	if !checkExecutables(cfg, env, step("executables")) {
		allChecks = false
	}

	// Check 6: working directory lock
	dir, err := workDir(doctorWorkDir)
	if err == nil {
		var lock *dispatch.WorkdirLock
		if lock, err = dispatch.LockWorkdir(dir, cfg.Paths.LockFile); err == nil {
			_ = lock.Release()
		}
	}
	if err != nil {
		logger.Warn(step("working directory")+" ⚠️  "+dir, zap.Error(err))
		allChecks = false
	} else {
		logger.Info(step("working directory") + " ✅ " + dir)
	}

	if allChecks {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("=== End Diagnostics ===")
	return nil
}

func checkExecutables(cfg *config.Config, env hpc.Environment, label string) bool {
	logger := observability.CLILogger
	required := []string{cfg.Engine.Binary}
	if env.Detected() {
		required = append(required, cfg.Scheduler.SubmitCommand[0])
	}

	var missing []string
	for _, bin := range required {
		if _, err := lookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) == 0 {
		logger.Info(label+" ✅ "+strings.Join(required, ", "))
		return true
	}
	if env.Detected() && cfg.Engine.Module != "" {
		logger.Warn(label+" ⚠️  not on PATH: "+strings.Join(missing, ", "),
			zap.String("hint", "module load "+cfg.Engine.Module))
	} else {
		logger.Warn(label + " ⚠️  not on PATH: " + strings.Join(missing, ", "))
	}
	return false
}
