// Package proctest provides a recording process.Runner for tests.
//
// No subprocess is ever spawned; each call is recorded and answered from
// canned responses keyed by program name.
//
// Usage:
//
//	func TestDispatch(t *testing.T) {
//	    r := proctest.NewRunner()
//	    r.SetOutput("scontrol", "ClusterName = biowulf\n")
//	    r.SetExit("sbatch", 0, "Submitted batch job 42\n")
//	    // ... code under test using r ...
//	    require.Len(t, r.Calls(), 1)
//	}
package proctest

import (
	"context"
	"errors"
	"io"
	"sync"

	apperrors "github.com/3leaps/snakerun/internal/errors"
	"github.com/3leaps/snakerun/pkg/process"
)

// ErrNotFound is returned for programs that have no canned response and
// MissingIsError is set, mimicking exec's "executable file not found".
var ErrNotFound = errors.New("executable file not found in $PATH")

type response struct {
	stdout   string
	exitCode int
}

// Runner records invocations instead of running them.
type Runner struct {
	mu        sync.Mutex
	calls     []process.Invocation
	outputs   [][]string
	responses map[string]response

	// MissingIsError makes unknown programs fail to spawn instead of
	// succeeding silently.
	MissingIsError bool
}

// NewRunner returns an empty recording runner.
func NewRunner() *Runner {
	return &Runner{responses: map[string]response{}}
}

// SetOutput registers stdout for a program that exits 0.
func (r *Runner) SetOutput(program, stdout string) {
	r.SetExit(program, 0, stdout)
}

// SetExit registers the exit status and stdout for a program.
func (r *Runner) SetExit(program string, code int, stdout string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[program] = response{stdout: stdout, exitCode: code}
}

// Run implements process.Runner.
func (r *Runner) Run(_ context.Context, inv process.Invocation) error {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()

	resp, err := r.lookup(inv.Argv)
	if err != nil {
		return err
	}
	if inv.Stdout != nil && resp.stdout != "" {
		_, _ = io.WriteString(inv.Stdout, resp.stdout)
	}
	if resp.exitCode != 0 {
		return &apperrors.SubprocessError{Argv: inv.Argv, ExitCode: resp.exitCode}
	}
	return nil
}

// Output implements process.Runner.
func (r *Runner) Output(_ context.Context, argv ...string) ([]byte, error) {
	r.mu.Lock()
	r.outputs = append(r.outputs, append([]string(nil), argv...))
	r.mu.Unlock()

	resp, err := r.lookup(argv)
	if err != nil {
		return nil, err
	}
	if resp.exitCode != 0 {
		return []byte(resp.stdout), &apperrors.SubprocessError{Argv: argv, ExitCode: resp.exitCode}
	}
	return []byte(resp.stdout), nil
}

func (r *Runner) lookup(argv []string) (response, error) {
	if len(argv) == 0 {
		return response{}, &apperrors.SubprocessError{ExitCode: -1, Err: errors.New("empty command")}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.responses[argv[0]]
	if !ok && r.MissingIsError {
		return response{}, &apperrors.SubprocessError{Argv: argv, ExitCode: -1, Err: ErrNotFound}
	}
	return resp, nil
}

// Calls returns the recorded Run invocations.
func (r *Runner) Calls() []process.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]process.Invocation(nil), r.calls...)
}

// OutputCalls returns the argv of every recorded Output call.
func (r *Runner) OutputCalls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.outputs...)
}
