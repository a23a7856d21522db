package process

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/snakerun/internal/errors"
)

func TestExecRunnerRun(t *testing.T) {
	ctx := context.Background()
	r := NewExecRunner()

	t.Run("success captures stdout", func(t *testing.T) {
		var out bytes.Buffer
		err := r.Run(ctx, Invocation{Argv: []string{"echo", "hello"}, Stdout: &out})
		require.NoError(t, err)
		assert.Equal(t, "hello\n", out.String())
	})

	t.Run("non-zero exit propagates status", func(t *testing.T) {
		err := r.Run(ctx, Invocation{Argv: []string{"sh", "-c", "exit 3"}})
		require.Error(t, err)

		var sub *apperrors.SubprocessError
		require.True(t, errors.As(err, &sub))
		assert.Equal(t, 3, sub.ExitCode)
		assert.True(t, apperrors.IsSubprocessFailure(err))
	})

	t.Run("spawn failure", func(t *testing.T) {
		err := r.Run(ctx, Invocation{Argv: []string{"definitely-not-a-real-binary-snakerun"}})
		require.Error(t, err)

		var sub *apperrors.SubprocessError
		require.True(t, errors.As(err, &sub))
		assert.Equal(t, -1, sub.ExitCode)
	})

	t.Run("empty argv", func(t *testing.T) {
		err := r.Run(ctx, Invocation{})
		assert.True(t, apperrors.IsSubprocessFailure(err))
	})

	t.Run("extra env is visible to the child", func(t *testing.T) {
		var out bytes.Buffer
		err := r.Run(ctx, Invocation{
			Argv:   []string{"sh", "-c", "printf %s \"$SNAKERUN_RUN_ID\""},
			Env:    []string{"SNAKERUN_RUN_ID=abc"},
			Stdout: &out,
		})
		require.NoError(t, err)
		assert.Equal(t, "abc", out.String())
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		var out bytes.Buffer
		err := r.Run(ctx, Invocation{Argv: []string{"pwd"}, Dir: dir, Stdout: &out})
		require.NoError(t, err)
		assert.Contains(t, out.String(), dir)
	})
}

func TestExecRunnerOutput(t *testing.T) {
	ctx := context.Background()
	r := NewExecRunner()

	out, err := r.Output(ctx, "printf", "ClusterName = test\n")
	require.NoError(t, err)
	assert.Equal(t, "ClusterName = test\n", string(out))

	_, err = r.Output(ctx, "definitely-not-a-real-binary-snakerun", "show", "config")
	assert.True(t, apperrors.IsSubprocessFailure(err))
}
