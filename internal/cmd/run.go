package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/snakerun/internal/assets"
	"github.com/3leaps/snakerun/internal/config"
	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/internal/observability"
	"github.com/3leaps/snakerun/pkg/command"
	"github.com/3leaps/snakerun/pkg/dispatch"
	"github.com/3leaps/snakerun/pkg/hpc"
	"github.com/3leaps/snakerun/pkg/profile"
	"github.com/3leaps/snakerun/pkg/runregistry"
	"github.com/3leaps/snakerun/pkg/workflowconfig"
)

// RunIDEnv carries the run id into the engine's environment.
const RunIDEnv = "SNAKERUN_RUN_ID"

var (
	runMain            string
	runMode            string
	runThreads         int
	runProfile         string
	runWorkflowProfile string
	runConfigFile      string
	runSets            []string
	runPlan            bool
	runWorkDir         string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- SNAKEMAKE_ARGS...]",
	Short: "Run the workflow",
	Long: `Run the workflow locally or submit it to Slurm.

Arguments after -- are passed to Snakemake unchanged. Snakemake options
must come after --; an unknown flag before it is rejected, so
"snakerun run --dry-run" fails while "snakerun run -- --dry-run" works.

With --plan nothing is written. Files the printed command depends on (the
runtime --configfile and a missing workflow-profile config.yaml) are listed
as "pending:" and only exist once the run is started without --plan.

Examples:
  snakerun run --mode slurm                      # Submit to the detected cluster
  snakerun run --threads 8 -- --dry-run          # Preview locally with 8 cores
  snakerun run --set resources.mem=16g --plan    # Show what would run
  snakerun run --main path/to/Snakefile          # Use a specific Snakefile`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMain, "main", "", "Path to the Snakefile (default run.main)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Run mode: local or slurm (default run.mode)")
	runCmd.Flags().IntVar(&runThreads, "threads", 0, "Local cores passed as --cores (default run.threads)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "Snakemake profile name")
	runCmd.Flags().StringVar(&runWorkflowProfile, "workflow-profile", "", "Workflow-profile directory; its config.yaml is created from the system default if missing")
	runCmd.Flags().StringVar(&runConfigFile, "configfile", "", "Workflow config file merged over the system default config")
	runCmd.Flags().StringArrayVar(&runSets, "set", nil, "Workflow config override as key=value (repeatable, dotted keys nest)")
	runCmd.Flags().BoolVar(&runPlan, "plan", false, "Print the command (and Slurm script) without running anything")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Working directory (default current directory)")
}

// runOverrides maps explicitly set flags onto config keys.
func runOverrides(cmd *cobra.Command) map[string]any {
	run := map[string]any{}
	if cmd.Flags().Changed("main") {
		run["main"] = runMain
	}
	if cmd.Flags().Changed("mode") {
		run["mode"] = runMode
	}
	if cmd.Flags().Changed("threads") {
		run["threads"] = runThreads
	}
	if len(run) == 0 {
		return nil
	}
	return map[string]any{"run": run}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	logger := observability.CLILogger

	cfg, err := config.Load(ctx, runOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	// Mode is checked before anything touches the system.
	mode, err := dispatch.ParseMode(cfg.Run.Mode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode", err)
	}

	dir, err := workDir(runWorkDir)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve working directory", err)
	}

	snakefile, err := resolveSnakefile(cfg.Run.Main, dir, cfg.Paths.BaseDir)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Snakefile not found", err)
	}

	assetsFS := assets.Open(cfg.Paths.BaseDir)
	registry, err := loadRegistry(cfg, assetsFS)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot load cluster registry", err)
	}
	resolver := profile.NewResolver(registry, assetsFS, logger)

	runner := newRunner()
	env := newDetector(cfg, runner).Detect(ctx)

	var execProfile *profile.ExecutionProfile
	if p, ok := resolver.ResolveExecutionProfile(env); ok {
		execProfile = &p
	}

	userArgs := append([]string(nil), args...)
	explicitProfile := runProfile
	if explicitProfile == "" && mode == dispatch.ModeSlurm && execProfile != nil && !command.HasFlag(userArgs, command.FlagProfile) {
		explicitProfile = execProfile.Profile
	}

	runID := uuid.New().String()
	store := runStore(cfg, dir)

	defaultArgs := append([]string(nil), cfg.Engine.DefaultArgs...)
	var runtimeConfig map[string]any
	var runtimeConfigPath string
	if runConfigFile != "" || len(runSets) > 0 {
		runtimeConfig, err = buildRuntimeConfig(assetsFS)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Cannot build workflow config", err)
		}
		runtimeConfigPath = filepath.Join(store.RunDir(runID), "config.yaml")
		defaultArgs = append(defaultArgs, "--configfile", relativeTo(dir, runtimeConfigPath))
	}

	vector := command.Assemble(command.Spec{
		Executable:      cfg.Engine.Binary,
		Workflow:        snakefile,
		Threads:         cfg.Run.Threads,
		Profile:         explicitProfile,
		DefaultArgs:     defaultArgs,
		UserArgs:        userArgs,
		WorkflowProfile: runWorkflowProfile,
	})

	dispatcher := dispatch.New(dispatch.Config{
		WorkDir:       dir,
		ScriptName:    cfg.Scheduler.ScriptName,
		SubmitCommand: cfg.Scheduler.SubmitCommand,
		Shell:         cfg.Engine.Shell,
		Module:        cfg.Engine.Module,
		Stdout:        cmd.OutOrStdout(),
		Stderr:        cmd.ErrOrStderr(),
	}, runner, assetsFS, logger)

	req := dispatch.Request{
		Mode:        string(mode),
		Command:     vector,
		Environment: env,
		Profile:     execProfile,
		Env:         []string{RunIDEnv + "=" + runID},
	}

	plan, err := dispatcher.Plan(req)
	if err != nil {
		return exitError(apperrors.ExitCode(err), "Cannot dispatch workflow", err)
	}

	observability.Banner("Snakemake command", vector.String())
	if plan.Mode == dispatch.ModeSlurm {
		observability.Banner("Slurm batch job", shellquote.Join(plan.Argv...))
	}

	if runPlan {
		return printPlan(cmd, plan, pendingFiles(dir, runtimeConfigPath, runWorkflowProfile))
	}

	lock, err := dispatch.LockWorkdir(dir, cfg.Paths.LockFile)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Working directory is busy", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release working directory lock", zap.Error(err))
		}
	}()

	if _, err := resolver.ResolveWorkflowProfile(absPath(dir, runWorkflowProfile), cfg.WorkflowProfile.SystemDefault); err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot prepare workflow profile", err)
	}

	if runtimeConfig != nil {
		logger.Info("Writing runtime config file", zap.String("path", runtimeConfigPath))
		if err := workflowconfig.Write(runtimeConfig, runtimeConfigPath); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write workflow config", err)
		}
	}

	record := &runregistry.RunRecord{
		RunID:           runID,
		Mode:            string(mode),
		State:           runregistry.RunStateRunning,
		Cluster:         clusterName(env),
		Profile:         explicitProfile,
		WorkflowProfile: runWorkflowProfile,
		Command:         vector.Args(),
		ScriptPath:      plan.ScriptPath,
		WorkDir:         dir,
		CreatedAt:       time.Now().UTC(),
	}
	writeRecord(store, record)

	result, dispatchErr := dispatcher.Dispatch(ctx, req)

	ended := time.Now().UTC()
	record.EndedAt = &ended
	record.ExitCode = result.ExitCode
	record.JobID = result.JobID
	switch {
	case dispatchErr != nil:
		record.State = runregistry.RunStateFailed
		record.Error = dispatchErr.Error()
	case mode == dispatch.ModeSlurm:
		record.State = runregistry.RunStateSubmitted
	default:
		record.State = runregistry.RunStateSuccess
	}
	writeRecord(store, record)

	if dispatchErr != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Run cancelled", ctx.Err())
		}
		return exitError(apperrors.ExitCode(dispatchErr), "Workflow dispatch failed", dispatchErr)
	}

	logger.Info("Dispatch finished",
		zap.String("run_id", runID),
		zap.String("mode", string(mode)),
		zap.String("state", string(result.State)),
		zap.String("job_id", result.JobID))
	return nil
}

// resolveSnakefile checks that the Snakefile exists, looking in the working
// directory first and then under base_dir.
func resolveSnakefile(main, dir, baseDir string) (string, error) {
	main = strings.TrimSpace(main)
	if main == "" {
		return "", apperrors.NewSourceMissing("Snakefile")
	}
	candidates := []string{main}
	if !filepath.IsAbs(main) && baseDir != "" {
		candidates = append(candidates, filepath.Join(baseDir, main))
	}
	for _, c := range candidates {
		if _, err := os.Stat(absPath(dir, c)); err == nil {
			return c, nil
		}
	}
	return "", apperrors.NewSourceMissing(main)
}

// buildRuntimeConfig layers the system default workflow config, the
// --configfile file and the --set assignments.
func buildRuntimeConfig(assetsFS fs.FS) (map[string]any, error) {
	defaults, err := workflowconfig.ReadFS(assetsFS, assets.WorkflowConfigFile)
	if err != nil {
		return nil, err
	}
	return workflowconfig.Build(workflowconfig.Layers{
		Defaults:    defaults,
		UserFile:    runConfigFile,
		Assignments: runSets,
	})
}

func printPlan(cmd *cobra.Command, plan dispatch.Plan, pending []string) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "mode: %s\n", plan.Mode)
	_, _ = fmt.Fprintf(out, "command: %s\n", shellquote.Join(plan.Argv...))
	for _, p := range pending {
		_, _ = fmt.Fprintf(out, "pending: %s (written when the run starts)\n", p)
	}
	if plan.ScriptPath != "" {
		_, _ = fmt.Fprintf(out, "script: %s\n", plan.ScriptPath)
		_, _ = fmt.Fprintln(out, "---")
		_, _ = fmt.Fprint(out, plan.Script)
	}
	return nil
}

// pendingFiles lists, relative to dir, the files a real run creates before
// dispatching that the planned command refers to.
func pendingFiles(dir, runtimeConfigPath, workflowProfile string) []string {
	var pending []string
	if runtimeConfigPath != "" {
		pending = append(pending, relativeTo(dir, runtimeConfigPath))
	}
	if workflowProfile != "" {
		target := filepath.Join(absPath(dir, workflowProfile), profile.WorkflowProfileConfig)
		if _, err := os.Stat(target); err != nil {
			pending = append(pending, relativeTo(dir, target))
		}
	}
	return pending
}

func writeRecord(store *runregistry.Store, record *runregistry.RunRecord) {
	if err := store.Write(record); err != nil {
		observability.CLILogger.Warn("Failed to record run",
			zap.String("run_id", record.RunID),
			zap.Error(err))
	}
}

func clusterName(env hpc.Environment) string {
	name, _ := env.Name()
	return name
}

// absPath resolves p against dir; empty stays empty.
func absPath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// relativeTo returns p relative to dir when p lies below it.
func relativeTo(dir, p string) string {
	rel, err := filepath.Rel(dir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}
