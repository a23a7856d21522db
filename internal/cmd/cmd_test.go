package cmd

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/3leaps/snakerun/internal/config"
	"github.com/3leaps/snakerun/internal/observability"
	"github.com/3leaps/snakerun/pkg/process"
	"github.com/3leaps/snakerun/test/proctest"
)

// resetFlags restores every flag to its default so commands can run more
// than once per process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// useRunner installs r as the process runner for the test.
func useRunner(t *testing.T, r *proctest.Runner) {
	t.Helper()
	prev := newRunner
	newRunner = func() process.Runner { return r }
	t.Cleanup(func() { newRunner = prev })
}

// executeCommand runs the root command with args and returns its stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeCommandWithLogs(t, args...)
	return out, err
}

// executeCommandWithLogs also returns what was logged.
func executeCommandWithLogs(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	config.SetConfigFile("")

	var out, logs bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	prev := observability.SetOutput(&logs)
	t.Cleanup(func() {
		observability.SetOutput(prev)
		observability.CLILogger = zap.NewNop()
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		config.SetConfigFile("")
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), logs.String(), err
}
