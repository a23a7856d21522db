// Package process is the subprocess boundary for snakerun.
//
// Every external program (the resource-manager query, the workflow engine,
// the batch submit tool) is started through a Runner so callers can be
// exercised in tests without spawning anything.
package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	apperrors "github.com/3leaps/snakerun/internal/errors"
)

// Invocation is a single argv-form command.
type Invocation struct {
	// Argv is the program followed by its arguments. It is never passed
	// through a shell by the runner.
	Argv []string

	// Dir is the working directory; empty means the current directory.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the parent environment.
	Env []string

	// Stdout and Stderr receive the child's output. Nil means the parent's
	// own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Runner starts external programs.
type Runner interface {
	// Run starts inv and waits for it. A non-zero exit or a spawn failure is
	// reported as an *errors.SubprocessError.
	Run(ctx context.Context, inv Invocation) error

	// Output runs argv and returns its standard output.
	Output(ctx context.Context, argv ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) error {
	if len(inv.Argv) == 0 {
		return &apperrors.SubprocessError{ExitCode: -1, Err: errors.New("empty command")}
	}

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = inv.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = inv.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	return wrapExit(inv.Argv, cmd.Run())
}

// Output implements Runner.
func (r *ExecRunner) Output(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, &apperrors.SubprocessError{ExitCode: -1, Err: errors.New("empty command")}
	}
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard
	err := cmd.Run()
	return stdout.Bytes(), wrapExit(argv, err)
}

func wrapExit(argv []string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &apperrors.SubprocessError{Argv: argv, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &apperrors.SubprocessError{Argv: argv, ExitCode: -1, Err: err}
}
