// Package errors defines the error kinds surfaced by snakerun and maps them
// to process exit codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
)

// Sentinel errors for orchestration failures.
var (
	// ErrConfigSourceMissing indicates a required template or default config file is absent.
	ErrConfigSourceMissing = stderrors.New("config source missing")

	// ErrUnsupportedEnvironment indicates scheduler mode outside a registered cluster.
	ErrUnsupportedEnvironment = stderrors.New("scheduler mode requested outside a supported cluster")

	// ErrUnrecognizedMode indicates a run mode other than local or slurm.
	ErrUnrecognizedMode = stderrors.New("unrecognized mode")

	// ErrSubprocessFailure indicates the engine or scheduler command failed.
	ErrSubprocessFailure = stderrors.New("subprocess failed")

	// ErrWorkdirBusy indicates another invocation holds the working directory lock.
	ErrWorkdirBusy = stderrors.New("working directory is in use by another invocation")
)

// SourceMissingError names the file that could not be found.
type SourceMissingError struct {
	Path string
}

func (e *SourceMissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfigSourceMissing, e.Path)
}

func (e *SourceMissingError) Unwrap() error {
	return ErrConfigSourceMissing
}

// SubprocessError describes a failed child process.
type SubprocessError struct {
	// Argv is the command that was run.
	Argv []string

	// ExitCode is the child's exit status, or -1 if it never started.
	ExitCode int

	// Err is the underlying spawn or wait error.
	Err error
}

func (e *SubprocessError) Error() string {
	cmd := strings.Join(e.Argv, " ")
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s: %q exited with status %d", ErrSubprocessFailure, cmd, e.ExitCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %v", ErrSubprocessFailure, cmd, e.Err)
	}
	return fmt.Sprintf("%s: %q", ErrSubprocessFailure, cmd)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SubprocessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubprocessFailure}
	}
	return []error{ErrSubprocessFailure, e.Err}
}

// NewSourceMissing returns a ConfigSourceMissing error for path.
func NewSourceMissing(path string) error {
	return &SourceMissingError{Path: path}
}

// IsConfigSourceMissing returns true if err is a ConfigSourceMissing error.
func IsConfigSourceMissing(err error) bool {
	return stderrors.Is(err, ErrConfigSourceMissing)
}

// IsUnsupportedEnvironment returns true if err is an UnsupportedEnvironment error.
func IsUnsupportedEnvironment(err error) bool {
	return stderrors.Is(err, ErrUnsupportedEnvironment)
}

// IsUnrecognizedMode returns true if err is an UnrecognizedMode error.
func IsUnrecognizedMode(err error) bool {
	return stderrors.Is(err, ErrUnrecognizedMode)
}

// IsSubprocessFailure returns true if err is a SubprocessFailure error.
func IsSubprocessFailure(err error) bool {
	return stderrors.Is(err, ErrSubprocessFailure)
}

// ExitCode picks the process exit status for err.
//
// A failed child's own status is propagated verbatim; other kinds map to
// foundry exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var sub *SubprocessError
	if stderrors.As(err, &sub) && sub.ExitCode > 0 {
		return sub.ExitCode
	}
	switch {
	case IsConfigSourceMissing(err):
		return foundry.ExitFileNotFound
	case IsUnrecognizedMode(err), IsUnsupportedEnvironment(err):
		return foundry.ExitInvalidArgument
	case stderrors.Is(err, ErrWorkdirBusy):
		return foundry.ExitFileWriteError
	case IsSubprocessFailure(err):
		return foundry.ExitExternalServiceUnavailable
	}
	var coded *CodedError
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return 1
}

// CodedError carries an explicit exit code chosen at the command boundary.
type CodedError struct {
	Code    int
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}
