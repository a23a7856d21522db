// Package command assembles the Snakemake argument vector.
package command

import (
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// DefaultExecutable is the engine binary name.
const DefaultExecutable = "snakemake"

// Flags understood by the assembler.
const (
	FlagSnakefile       = "-s"
	FlagCores           = "--cores"
	FlagProfile         = "--profile"
	FlagWorkflowProfile = "--workflow-profile"
)

// Spec is the resolved input for one engine invocation.
type Spec struct {
	// Executable defaults to DefaultExecutable when empty.
	Executable string

	// Workflow is the Snakefile path. It is not checked for existence.
	Workflow string

	// Threads is passed as --cores unless a profile governs parallelism.
	Threads int

	// Profile is the explicit --profile name, if any.
	Profile string

	// DefaultArgs are the engine arguments baked into the launcher config.
	DefaultArgs []string

	// UserArgs are pass-through arguments from the invoker, unvalidated.
	UserArgs []string

	// WorkflowProfile is the resolved --workflow-profile directory, if any.
	WorkflowProfile string
}

// Vector is an immutable, ordered engine command line.
type Vector struct {
	tokens []string
}

// Assemble builds the vector for spec:
//
//	<exe> -s <workflow> [--cores N] [default...] [user...] [--profile P] [--workflow-profile D]
//
// --cores is dropped when the user args carry --profile or spec.Profile is
// set. A user --profile and spec.Profile may both appear; the engine keeps
// the last one.
func Assemble(spec Spec) Vector {
	exe := spec.Executable
	if exe == "" {
		exe = DefaultExecutable
	}

	tokens := make([]string, 0, 8+len(spec.DefaultArgs)+len(spec.UserArgs))
	tokens = append(tokens, exe, FlagSnakefile, spec.Workflow)

	if spec.Profile == "" && !HasFlag(spec.UserArgs, FlagProfile) {
		tokens = append(tokens, FlagCores, strconv.Itoa(spec.Threads))
	}

	tokens = append(tokens, spec.DefaultArgs...)
	tokens = append(tokens, spec.UserArgs...)

	if spec.Profile != "" {
		tokens = append(tokens, FlagProfile, spec.Profile)
	}
	if spec.WorkflowProfile != "" {
		tokens = append(tokens, FlagWorkflowProfile, spec.WorkflowProfile)
	}

	return Vector{tokens: tokens}
}

// FromArgs wraps an existing argv. The slice is copied.
func FromArgs(args ...string) Vector {
	return Vector{tokens: append([]string(nil), args...)}
}

// Args returns a copy of the tokens.
func (v Vector) Args() []string {
	return append([]string(nil), v.tokens...)
}

// Len returns the number of tokens.
func (v Vector) Len() int {
	return len(v.tokens)
}

// Empty reports whether the vector has no tokens.
func (v Vector) Empty() bool {
	return len(v.tokens) == 0
}

// Contains reports whether token appears verbatim.
func (v Vector) Contains(token string) bool {
	for _, t := range v.tokens {
		if t == token {
			return true
		}
	}
	return false
}

// String serializes the vector for a shell, quoting tokens where needed.
func (v Vector) String() string {
	return shellquote.Join(v.tokens...)
}

// HasFlag reports whether args contain flag either as its own token or in
// the --flag=value form.
func HasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

// SplitArgs parses a shell-style argument string such as
// "--rerun-incomplete --printshellcmds --use-singularity".
func SplitArgs(s string) ([]string, error) {
	return shellquote.Split(s)
}
