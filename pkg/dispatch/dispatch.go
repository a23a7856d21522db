// Package dispatch runs an assembled engine command locally or submits it
// to Slurm.
//
// A Dispatcher handles exactly one invocation. It walks
//
//	Idle → ResolvingMode → (RunningLocal | SubmittingBatch) → (Done | Failed)
//
// and starts at most one subprocess: the engine itself for local runs, or
// the submit command for batch runs. Submitted jobs are not awaited.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/pkg/command"
	"github.com/3leaps/snakerun/pkg/hpc"
	"github.com/3leaps/snakerun/pkg/process"
	"github.com/3leaps/snakerun/pkg/profile"
)

// Mode selects the execution backend.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeSlurm Mode = "slurm"
)

// ParseMode accepts exactly "local" or "slurm".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeSlurm:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q (expected %q or %q)", apperrors.ErrUnrecognizedMode, s, ModeLocal, ModeSlurm)
	}
}

// State is a dispatcher lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateResolvingMode   State = "resolving_mode"
	StateRunningLocal    State = "running_local"
	StateSubmittingBatch State = "submitting_batch"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Defaults for Config fields left empty.
const (
	DefaultScriptName = "submit_slurm.sh"
	DefaultShell      = "bash"
)

// DefaultSubmitCommand submits a batch script.
var DefaultSubmitCommand = []string{"sbatch"}

var submittedJobRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Config holds the per-site knobs of a Dispatcher.
type Config struct {
	// WorkDir is where the submission script is written and commands run.
	// Empty means the current directory.
	WorkDir string

	// ScriptName is the fixed submission script file name.
	ScriptName string

	// SubmitCommand is the scheduler submit program and leading args.
	SubmitCommand []string

	// Shell runs the module-load wrapper for local runs on a cluster.
	Shell string

	// Module is the environment module loaded for local runs on a cluster
	// whose profile does not name one. Empty disables wrapping.
	Module string

	// Stdout and Stderr receive child output. Nil means the parent's.
	Stdout io.Writer
	Stderr io.Writer
}

// Request is one dispatch.
type Request struct {
	// Mode is the raw mode string from the invoker.
	Mode string

	// Command is the assembled engine command.
	Command command.Vector

	// Environment is the detection result for this invocation.
	Environment hpc.Environment

	// Profile is the registered profile of the detected cluster, nil when
	// the cluster is absent or unregistered.
	Profile *profile.ExecutionProfile

	// Env holds extra KEY=VALUE entries for the child.
	Env []string
}

// Plan is what a dispatch would do.
type Plan struct {
	Mode Mode

	// Argv is the single subprocess the dispatch starts.
	Argv []string

	// ScriptPath and Script are set for batch dispatches.
	ScriptPath string
	Script     string

	// Wrapped is true when a local run goes through the module-load shell.
	Wrapped bool
}

// Result describes a finished dispatch.
type Result struct {
	Plan

	State       State
	Transitions []State

	// ExitCode is the subprocess status; -1 when nothing ran or it never started.
	ExitCode int

	// JobID is the scheduler job id parsed from the submit output.
	JobID string
}

// Dispatcher executes one Request.
type Dispatcher struct {
	cfg    Config
	runner process.Runner
	assets fs.FS
	logger *zap.Logger

	state       State
	transitions []State
}

// New returns a Dispatcher. Header templates are read from assets unless
// their path is absolute.
func New(cfg Config, runner process.Runner, assets fs.FS, logger *zap.Logger) *Dispatcher {
	if cfg.ScriptName == "" {
		cfg.ScriptName = DefaultScriptName
	}
	if len(cfg.SubmitCommand) == 0 {
		cfg.SubmitCommand = DefaultSubmitCommand
	}
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:         cfg,
		runner:      runner,
		assets:      assets,
		logger:      logger,
		state:       StateIdle,
		transitions: []State{StateIdle},
	}
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return d.state
}

func (d *Dispatcher) transition(s State) {
	d.logger.Debug("Dispatcher transition", zap.String("from", string(d.state)), zap.String("to", string(s)))
	d.state = s
	d.transitions = append(d.transitions, s)
}

// Plan resolves the request without writing files or starting processes.
// Batch plans read the header template.
func (d *Dispatcher) Plan(req Request) (Plan, error) {
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return Plan{}, err
	}
	switch mode {
	case ModeSlurm:
		return d.planBatch(req)
	default:
		return d.planLocal(req), nil
	}
}

// Dispatch runs the request to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return d.result(Plan{}, -1), err
	}

	d.transition(StateResolvingMode)

	switch mode {
	case ModeSlurm:
		plan, err := d.planBatch(req)
		if err != nil {
			d.transition(StateFailed)
			return d.result(plan, -1), err
		}
		d.transition(StateSubmittingBatch)
		return d.submit(ctx, plan, req)
	default:
		plan := d.planLocal(req)
		d.transition(StateRunningLocal)
		return d.runLocal(ctx, plan, req)
	}
}

func (d *Dispatcher) planBatch(req Request) (Plan, error) {
	plan := Plan{Mode: ModeSlurm}
	if req.Profile == nil {
		if name, ok := req.Environment.Name(); ok {
			return plan, fmt.Errorf("%w: cluster %q is not registered", apperrors.ErrUnsupportedEnvironment, name)
		}
		return plan, fmt.Errorf("%w: no HPC environment was detected", apperrors.ErrUnsupportedEnvironment)
	}

	header, err := d.readHeader(req.Profile.SlurmHeader)
	if err != nil {
		return plan, err
	}

	plan.Script = BuildScript(header, req.Command)
	plan.ScriptPath = filepath.Join(d.cfg.WorkDir, d.cfg.ScriptName)
	plan.Argv = append(append([]string(nil), d.cfg.SubmitCommand...), d.cfg.ScriptName)
	return plan, nil
}

func (d *Dispatcher) planLocal(req Request) Plan {
	module := d.cfg.Module
	if req.Profile != nil && req.Profile.Module != "" {
		module = req.Profile.Module
	}
	argv, wrapped := PlanLocal(req.Command, req.Environment, module, d.cfg.Shell)
	return Plan{Mode: ModeLocal, Argv: argv, Wrapped: wrapped}
}

// PlanLocal decides how a local run is started. On a detected cluster with
// a module to load the command goes through
//
//	<shell> -c "module load <module> && <command>"
//
// otherwise the command's own argv is used and no shell is involved.
func PlanLocal(cmd command.Vector, env hpc.Environment, module, shell string) ([]string, bool) {
	module = strings.TrimSpace(module)
	if !env.Detected() || module == "" {
		return cmd.Args(), false
	}
	if shell == "" {
		shell = DefaultShell
	}
	script := "module load " + shellquote.Join(module) + " && " + cmd.String()
	return []string{shell, "-c", script}, true
}

// BuildScript appends the serialized command to the header as its final line.
func BuildScript(header []byte, cmd command.Vector) string {
	var b strings.Builder
	b.Write(header)
	if len(header) > 0 && !bytes.HasSuffix(header, []byte("\n")) {
		b.WriteByte('\n')
	}
	b.WriteString(cmd.String())
	b.WriteByte('\n')
	return b.String()
}

func (d *Dispatcher) readHeader(path string) ([]byte, error) {
	if path == "" {
		return nil, apperrors.NewSourceMissing(path)
	}
	var (
		data []byte
		err  error
	)
	if filepath.IsAbs(path) || d.assets == nil {
		data, err = os.ReadFile(path)
	} else {
		data, err = fs.ReadFile(d.assets, filepath.ToSlash(path))
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, apperrors.NewSourceMissing(path)
		}
		return nil, fmt.Errorf("read slurm header %s: %w", path, err)
	}
	return data, nil
}

func (d *Dispatcher) submit(ctx context.Context, plan Plan, req Request) (*Result, error) {
	// The script name is fixed; a previous script is replaced.
	if err := os.WriteFile(plan.ScriptPath, []byte(plan.Script), 0644); err != nil {
		d.transition(StateFailed)
		return d.result(plan, -1), fmt.Errorf("write submission script: %w", err)
	}
	d.logger.Info("Wrote submission script", zap.String("path", plan.ScriptPath))

	var captured bytes.Buffer
	stdout := d.cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	err := d.runner.Run(ctx, process.Invocation{
		Argv:   plan.Argv,
		Dir:    d.cfg.WorkDir,
		Env:    req.Env,
		Stdout: io.MultiWriter(stdout, &captured),
		Stderr: d.cfg.Stderr,
	})

	res := d.finish(plan, err)
	if m := submittedJobRe.FindStringSubmatch(captured.String()); m != nil {
		res.JobID = m[1]
	}
	return res, err
}

func (d *Dispatcher) runLocal(ctx context.Context, plan Plan, req Request) (*Result, error) {
	err := d.runner.Run(ctx, process.Invocation{
		Argv:   plan.Argv,
		Dir:    d.cfg.WorkDir,
		Env:    req.Env,
		Stdout: d.cfg.Stdout,
		Stderr: d.cfg.Stderr,
	})
	return d.finish(plan, err), err
}

func (d *Dispatcher) finish(plan Plan, err error) *Result {
	if err == nil {
		d.transition(StateDone)
		return d.result(plan, 0)
	}
	d.transition(StateFailed)
	code := -1
	var sub *apperrors.SubprocessError
	if errors.As(err, &sub) {
		code = sub.ExitCode
	}
	return d.result(plan, code)
}

func (d *Dispatcher) result(plan Plan, code int) *Result {
	return &Result{
		Plan:        plan,
		State:       d.state,
		Transitions: append([]State(nil), d.transitions...),
		ExitCode:    code,
	}
}
