package dispatch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/pkg/command"
	"github.com/3leaps/snakerun/pkg/hpc"
	"github.com/3leaps/snakerun/pkg/profile"
	"github.com/3leaps/snakerun/test/proctest"
)

const biowulfHeader = `#!/usr/bin/env bash
#SBATCH --cpus-per-task=1
#SBATCH --mem=1g
#SBATCH --time=2-00:00:00
#SBATCH --parsable

module load snakemake
`

func testAssets() fstest.MapFS {
	return fstest.MapFS{
		"assets/slurm_header_biowulf.sh": &fstest.MapFile{Data: []byte(biowulfHeader)},
	}
}

func biowulfProfile() *profile.ExecutionProfile {
	return &profile.ExecutionProfile{
		Cluster:     "biowulf",
		Profile:     "biowulf",
		SlurmHeader: "assets/slurm_header_biowulf.sh",
	}
}

func newTestDispatcher(t *testing.T, r *proctest.Runner, cfg Config) (*Dispatcher, string) {
	t.Helper()
	dir := t.TempDir()
	cfg.WorkDir = dir
	if cfg.Stdout == nil {
		cfg.Stdout = &bytes.Buffer{}
	}
	return New(cfg, r, testAssets(), nil), dir
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"local", "slurm"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	for _, s := range []string{"", "bogus", "Local", "SLURM", " slurm"} {
		_, err := ParseMode(s)
		assert.True(t, apperrors.IsUnrecognizedMode(err), "mode %q", s)
	}
}

func TestDispatchLocalNoCluster(t *testing.T) {
	r := proctest.NewRunner()
	d, dir := newTestDispatcher(t, r, Config{Module: "snakemake"})

	cmd := command.Assemble(command.Spec{Workflow: "workflow/Snakefile", Threads: 2})
	res, err := d.Dispatch(context.Background(), Request{Mode: "local", Command: cmd, Environment: hpc.None})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{StateIdle, StateResolvingMode, StateRunningLocal, StateDone}, res.Transitions)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Wrapped)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"snakemake", "-s", "workflow/Snakefile", "--cores", "2"}, calls[0].Argv)
	assert.Equal(t, dir, calls[0].Dir)
}

func TestDispatchLocalFailure(t *testing.T) {
	r := proctest.NewRunner()
	r.SetExit("snakemake", 1, "")
	d, _ := newTestDispatcher(t, r, Config{})

	cmd := command.Assemble(command.Spec{Workflow: "workflow/Snakefile", Threads: 2})
	res, err := d.Dispatch(context.Background(), Request{Mode: "local", Command: cmd})
	require.Error(t, err)

	assert.True(t, apperrors.IsSubprocessFailure(err))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateFailed, d.State())
	assert.Equal(t, 1, res.ExitCode)
	assert.Len(t, r.Calls(), 1)
}

func TestDispatchLocalOnCluster(t *testing.T) {
	cmd := command.Assemble(command.Spec{Workflow: "workflow/Snakefile", Threads: 2})

	t.Run("wraps with module load", func(t *testing.T) {
		r := proctest.NewRunner()
		d, _ := newTestDispatcher(t, r, Config{Module: "snakemake"})

		res, err := d.Dispatch(context.Background(), Request{
			Mode:        "local",
			Command:     cmd,
			Environment: hpc.Cluster("biowulf"),
			Profile:     biowulfProfile(),
		})
		require.NoError(t, err)
		assert.True(t, res.Wrapped)

		calls := r.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{
			"bash", "-c", "module load snakemake && snakemake -s workflow/Snakefile --cores 2",
		}, calls[0].Argv)
	})

	t.Run("profile module wins", func(t *testing.T) {
		r := proctest.NewRunner()
		d, _ := newTestDispatcher(t, r, Config{Module: "snakemake"})
		p := biowulfProfile()
		p.Module = "snakemake/8.4"

		_, err := d.Dispatch(context.Background(), Request{
			Mode: "local", Command: cmd, Environment: hpc.Cluster("biowulf"), Profile: p,
		})
		require.NoError(t, err)
		assert.Equal(t, "module load snakemake/8.4 && snakemake -s workflow/Snakefile --cores 2", r.Calls()[0].Argv[2])
	})

	t.Run("no module configured runs directly", func(t *testing.T) {
		r := proctest.NewRunner()
		d, _ := newTestDispatcher(t, r, Config{})

		res, err := d.Dispatch(context.Background(), Request{
			Mode: "local", Command: cmd, Environment: hpc.Cluster("unregistered"),
		})
		require.NoError(t, err)
		assert.False(t, res.Wrapped)
		assert.Equal(t, cmd.Args(), r.Calls()[0].Argv)
	})
}

func TestPlanLocal(t *testing.T) {
	cmd := command.FromArgs("snakemake", "-s", "my flow/Snakefile")

	argv, wrapped := PlanLocal(cmd, hpc.None, "snakemake", "bash")
	assert.False(t, wrapped)
	assert.Equal(t, cmd.Args(), argv)

	argv, wrapped = PlanLocal(cmd, hpc.Cluster("fnlcr"), "  ", "bash")
	assert.False(t, wrapped)
	assert.Equal(t, cmd.Args(), argv)

	argv, wrapped = PlanLocal(cmd, hpc.Cluster("fnlcr"), "snakemake", "")
	assert.True(t, wrapped)
	assert.Equal(t, []string{"bash", "-c", "module load snakemake && snakemake -s 'my flow/Snakefile'"}, argv)
}

func TestDispatchSlurm(t *testing.T) {
	r := proctest.NewRunner()
	r.SetExit("sbatch", 0, "Submitted batch job 4242\n")
	var stdout bytes.Buffer
	d, dir := newTestDispatcher(t, r, Config{Stdout: &stdout})

	cmd := command.Assemble(command.Spec{Workflow: "workflow/Snakefile", Threads: 2, Profile: "biowulf"})
	res, err := d.Dispatch(context.Background(), Request{
		Mode:        "slurm",
		Command:     cmd,
		Environment: hpc.Cluster("biowulf"),
		Profile:     biowulfProfile(),
	})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{StateIdle, StateResolvingMode, StateSubmittingBatch, StateDone}, res.Transitions)
	assert.Equal(t, "4242", res.JobID)
	assert.Contains(t, stdout.String(), "Submitted batch job 4242")

	scriptPath := filepath.Join(dir, "submit_slurm.sh")
	assert.Equal(t, scriptPath, res.ScriptPath)
	data, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	script := string(data)
	assert.True(t, strings.HasPrefix(script, biowulfHeader))
	lines := strings.Split(strings.TrimRight(script, "\n"), "\n")
	assert.Equal(t, "snakemake -s workflow/Snakefile --profile biowulf", lines[len(lines)-1])

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"sbatch", "submit_slurm.sh"}, calls[0].Argv)
	assert.Equal(t, dir, calls[0].Dir)
}

func TestDispatchSlurmOverwritesScript(t *testing.T) {
	r := proctest.NewRunner()
	d, dir := newTestDispatcher(t, r, Config{ScriptName: "job.sh", SubmitCommand: []string{"sbatch", "--parsable"}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.sh"), []byte("stale contents that are much longer than needed\n"), 0644))

	_, err := d.Dispatch(context.Background(), Request{
		Mode:        "slurm",
		Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
		Environment: hpc.Cluster("biowulf"),
		Profile:     biowulfProfile(),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "job.sh"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")
	assert.Equal(t, []string{"sbatch", "--parsable", "job.sh"}, r.Calls()[0].Argv)
}

func TestDispatchSlurmSubmitFailure(t *testing.T) {
	r := proctest.NewRunner()
	r.SetExit("sbatch", 2, "")
	d, _ := newTestDispatcher(t, r, Config{})

	res, err := d.Dispatch(context.Background(), Request{
		Mode:        "slurm",
		Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
		Environment: hpc.Cluster("biowulf"),
		Profile:     biowulfProfile(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsSubprocessFailure(err))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, res.ExitCode)
	assert.Empty(t, res.JobID)
}

func TestDispatchSlurmWithoutCluster(t *testing.T) {
	tests := []struct {
		name string
		env  hpc.Environment
	}{
		{"not detected", hpc.None},
		{"unregistered", hpc.Cluster("somewhere-else")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := proctest.NewRunner()
			d, dir := newTestDispatcher(t, r, Config{})

			res, err := d.Dispatch(context.Background(), Request{
				Mode:        "slurm",
				Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
				Environment: tt.env,
			})
			require.Error(t, err)
			assert.True(t, apperrors.IsUnsupportedEnvironment(err))
			assert.Equal(t, StateFailed, res.State)
			assert.Empty(t, r.Calls(), "no submission")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no script written")
		})
	}
}

func TestDispatchSlurmMissingHeader(t *testing.T) {
	r := proctest.NewRunner()
	d, dir := newTestDispatcher(t, r, Config{})
	p := biowulfProfile()
	p.SlurmHeader = "assets/slurm_header_missing.sh"

	res, err := d.Dispatch(context.Background(), Request{
		Mode:        "slurm",
		Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
		Environment: hpc.Cluster("biowulf"),
		Profile:     p,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigSourceMissing(err))
	assert.Contains(t, err.Error(), "assets/slurm_header_missing.sh")
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, r.Calls())

	_, statErr := os.Stat(filepath.Join(dir, DefaultScriptName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDispatchSlurmAbsoluteHeader(t *testing.T) {
	header := filepath.Join(t.TempDir(), "site_header.sh")
	require.NoError(t, os.WriteFile(header, []byte("#!/bin/bash\n#SBATCH --partition=norm"), 0644))

	r := proctest.NewRunner()
	d, _ := newTestDispatcher(t, r, Config{})
	p := biowulfProfile()
	p.SlurmHeader = header

	res, err := d.Dispatch(context.Background(), Request{
		Mode:        "slurm",
		Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
		Environment: hpc.Cluster("biowulf"),
		Profile:     p,
	})
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\n#SBATCH --partition=norm\nsnakemake -s Snakefile\n", res.Script)
}

func TestDispatchUnrecognizedMode(t *testing.T) {
	r := proctest.NewRunner()
	d, dir := newTestDispatcher(t, r, Config{})

	res, err := d.Dispatch(context.Background(), Request{
		Mode:        "bogus",
		Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
		Environment: hpc.Cluster("biowulf"),
		Profile:     biowulfProfile(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnrecognizedMode(err))
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, []State{StateIdle}, res.Transitions)
	assert.Empty(t, r.Calls())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPlan(t *testing.T) {
	r := proctest.NewRunner()
	d, dir := newTestDispatcher(t, r, Config{})

	plan, err := d.Plan(Request{
		Mode:        "slurm",
		Command:     command.FromArgs("snakemake", "-s", "Snakefile"),
		Environment: hpc.Cluster("biowulf"),
		Profile:     biowulfProfile(),
	})
	require.NoError(t, err)
	assert.Equal(t, ModeSlurm, plan.Mode)
	assert.Equal(t, []string{"sbatch", "submit_slurm.sh"}, plan.Argv)
	assert.True(t, strings.HasSuffix(plan.Script, "\nsnakemake -s Snakefile\n"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "planning writes nothing")
	assert.Empty(t, r.Calls())

	_, err = d.Plan(Request{Mode: "bogus"})
	assert.True(t, apperrors.IsUnrecognizedMode(err))
}

func TestBuildScript(t *testing.T) {
	cmd := command.FromArgs("snakemake", "-s", "Snakefile")
	assert.Equal(t, "#!/bin/bash\nsnakemake -s Snakefile\n", BuildScript([]byte("#!/bin/bash\n"), cmd))
	assert.Equal(t, "#!/bin/bash\nsnakemake -s Snakefile\n", BuildScript([]byte("#!/bin/bash"), cmd))
	assert.Equal(t, "snakemake -s Snakefile\n", BuildScript(nil, cmd))
}

func TestLockWorkdir(t *testing.T) {
	dir := t.TempDir()

	first, err := LockWorkdir(dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultLockFile), first.Path())

	_, err = LockWorkdir(dir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWorkdirBusy)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "release is idempotent")

	again, err := LockWorkdir(dir, "")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
