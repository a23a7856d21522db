package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/snakerun/internal/config"
	"github.com/3leaps/snakerun/pkg/runregistry"
)

var runsWorkDir string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded dispatches",
	Long: `List the runs launched from the working directory, newest first.

Each run is recorded in .snakerun/runs/<run_id>/run.json. The run id is also
exported to Snakemake as SNAKERUN_RUN_ID.`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().Bool("json", false, "Output as JSON")
	runsCmd.Flags().StringVar(&runsWorkDir, "workdir", "", "Working directory (default current directory)")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := config.GetConfig()
	if cfg == nil {
		var err error
		if cfg, err = config.Load(commandContext(cmd)); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
	}
	dir, err := workDir(runsWorkDir)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve working directory", err)
	}

	runs, err := runStore(cfg, dir).List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if runs == nil {
			runs = []runregistry.RunRecord{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tMODE\tSTATE\tCLUSTER\tJOB\tEXIT\tSTARTED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortRunID(r.RunID),
			r.Mode,
			r.State,
			orDash(r.Cluster),
			orDash(r.JobID),
			exitColumn(r),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func shortRunID(runID string) string {
	if len(runID) <= 8 {
		return runID
	}
	return runID[:8]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func exitColumn(r runregistry.RunRecord) string {
	if r.State == runregistry.RunStateRunning {
		return "-"
	}
	return strconv.Itoa(r.ExitCode)
}
