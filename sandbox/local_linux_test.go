//go:build linux

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func shell(t *testing.T, script string, timeout time.Duration, limit int) Command {
	t.Helper()
	dir := t.TempDir()
	return Command{
		Argv:             []string{"/bin/sh", "-c", script},
		Dir:              dir,
		Env:              SanitizedEnv(dir, nil),
		Timeout:          timeout,
		OutputLimitBytes: limit,
	}
}

func TestLocalExecutorExecute(t *testing.T) {
	executor := NewLocalExecutor(zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("PrintsLiteral", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "echo hi", 3*time.Second, 1024))
		require.NoError(t, err)
		assert.Equal(t, "hi\n", result.Stdout)
		assert.Empty(t, result.Stderr)
		assert.Equal(t, 0, result.ExitCode)
		assert.False(t, result.TimedOut)
		assert.False(t, result.TruncatedStdout)
		assert.False(t, result.TruncatedStderr)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "echo oops >&2; exit 3", 3*time.Second, 1024))
		require.NoError(t, err)
		assert.Equal(t, 3, result.ExitCode)
		assert.Equal(t, "oops\n", result.Stderr)
		assert.False(t, result.TimedOut)
	})

	t.Run("SignaledChild", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "kill -9 $$", 3*time.Second, 1024))
		require.NoError(t, err)
		assert.Equal(t, -9, result.ExitCode)
		assert.False(t, result.TimedOut)
	})

	t.Run("Timeout", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "echo started; sleep 10", time.Second, 1024))
		require.NoError(t, err)
		assert.True(t, result.TimedOut)
		assert.Equal(t, ExitCodeTimeout, result.ExitCode)
		assert.Less(t, result.DurationMS, int64(4000))
		assert.GreaterOrEqual(t, result.DurationMS, int64(1000))
		assert.Equal(t, "started\n", result.Stdout, "output written before the deadline is kept")
	})

	t.Run("BackgroundGrandchildIsKilled", func(t *testing.T) {
		start := time.Now()
		result, err := executor.Execute(ctx, shell(t, "sleep 10 & echo parent-done", time.Second, 1024))
		require.NoError(t, err)
		assert.True(t, result.TimedOut, "grandchild keeps the pipes open until the group is killed")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("ClosedPipesStillBoundedByDeadline", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "exec >&- 2>&-; sleep 10", time.Second, 1024))
		require.NoError(t, err)
		assert.True(t, result.TimedOut)
		assert.Equal(t, ExitCodeTimeout, result.ExitCode)
		assert.Less(t, result.DurationMS, int64(4000))
	})

	t.Run("StdoutTruncation", func(t *testing.T) {
		const limit = 1000
		result, err := executor.Execute(ctx, shell(t, "yes | head -c 10000", 5*time.Second, limit))
		require.NoError(t, err)
		assert.True(t, result.TruncatedStdout)
		assert.False(t, result.TruncatedStderr)
		assert.Len(t, result.Stdout, limit)
		assert.Equal(t, 0, result.ExitCode)
	})

	t.Run("StderrTruncation", func(t *testing.T) {
		const limit = 64
		result, err := executor.Execute(ctx, shell(t, "yes | head -c 4096 >&2", 5*time.Second, limit))
		require.NoError(t, err)
		assert.True(t, result.TruncatedStderr)
		assert.Len(t, result.Stderr, limit)
	})

	t.Run("LargeOutputDoesNotStallChild", func(t *testing.T) {
		// Far beyond the pipe buffer; the child only exits if we keep draining.
		result, err := executor.Execute(ctx, shell(t, "yes | head -c 2000000; echo done >&2", 10*time.Second, 100))
		require.NoError(t, err)
		assert.False(t, result.TimedOut)
		assert.True(t, result.TruncatedStdout)
		assert.Equal(t, "done\n", result.Stderr)
	})

	t.Run("StdinIsEmpty", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "cat; echo end", 3*time.Second, 1024))
		require.NoError(t, err)
		assert.Equal(t, "end\n", result.Stdout)
		assert.False(t, result.TimedOut)
	})

	t.Run("SanitizedEnvironment", func(t *testing.T) {
		t.Setenv("JOBBOX_LEAK_CHECK", "visible")
		cmd := shell(t, `echo "$HOME|$TMPDIR|${JOBBOX_LEAK_CHECK:-unset}"`, 3*time.Second, 1024)
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, cmd.Dir+"|"+cmd.Dir+"|unset\n", result.Stdout)
	})

	t.Run("RunsInWorkingDirectory", func(t *testing.T) {
		cmd := shell(t, "cat marker.txt", 3*time.Second, 1024)
		require.NoError(t, os.WriteFile(filepath.Join(cmd.Dir, "marker.txt"), []byte("here"), 0o600))
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "here", result.Stdout)
	})

	t.Run("MissingBinary", func(t *testing.T) {
		cmd := shell(t, "", 3*time.Second, 1024)
		cmd.Argv = []string{"/definitely/not/here"}
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, exitCodeExecFailed, result.ExitCode)
		assert.Contains(t, result.Stderr, "sandbox:")
	})

	t.Run("InvalidUTF8IsReplaced", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, `printf 'ok\377\376end'`, 3*time.Second, 1024))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(result.Stdout, "ok"))
		assert.True(t, strings.HasSuffix(result.Stdout, "end"))
		assert.Contains(t, result.Stdout, "�")
	})

	t.Run("TruncationInsideMultiByteRune", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, `printf 'aaaaaaaaa\303\251\303\251'`, 3*time.Second, 10))
		require.NoError(t, err)
		assert.True(t, result.TruncatedStdout)
		assert.LessOrEqual(t, len(result.Stdout), 10)
		assert.Equal(t, "aaaaaaaaa", result.Stdout)
	})
}

func TestLocalExecutorLimits(t *testing.T) {
	executor := NewLocalExecutor(zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("OpenFilesLimitApplied", func(t *testing.T) {
		cmd := shell(t, "ulimit -n", 3*time.Second, 1024)
		cmd.Limits = Limits{OpenFiles: 16}
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "16", strings.TrimSpace(result.Stdout))
	})

	t.Run("CPULimitApplied", func(t *testing.T) {
		cmd := shell(t, "ulimit -t", 3*time.Second, 1024)
		cmd.Limits = Limits{CPUSeconds: 2}
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "2", strings.TrimSpace(result.Stdout))
	})

	t.Run("CoreDumpsDisabled", func(t *testing.T) {
		result, err := executor.Execute(ctx, shell(t, "ulimit -c", 3*time.Second, 1024))
		require.NoError(t, err)
		assert.Equal(t, "0", strings.TrimSpace(result.Stdout))
	})

	t.Run("FileSizeLimitStopsWriter", func(t *testing.T) {
		cmd := shell(t, "head -c 100000 /dev/zero > big.bin; echo after", 3*time.Second, 1024)
		cmd.Limits = Limits{FileSizeBytes: 1024}
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		info, statErr := os.Stat(filepath.Join(cmd.Dir, "big.bin"))
		require.NoError(t, statErr)
		assert.LessOrEqual(t, info.Size(), int64(1024))
		assert.Equal(t, "after\n", result.Stdout, "the shell survives the writer being stopped")
	})

	t.Run("SeccompDoesNotBreakOrdinaryPrograms", func(t *testing.T) {
		cmd := shell(t, "echo fine", 3*time.Second, 1024)
		cmd.Limits = Limits{Seccomp: true}
		result, err := executor.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "fine\n", result.Stdout)
	})
}

func TestLocalExecutorInvalidCommand(t *testing.T) {
	executor := NewLocalExecutor(nil)

	_, err := executor.Execute(context.Background(), Command{Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command provided")

	_, err = executor.Execute(context.Background(), Command{Argv: []string{"/bin/true"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout must be positive")
}

func TestLocalExecutorContextCancel(t *testing.T) {
	executor := NewLocalExecutor(zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := executor.Execute(ctx, shell(t, "sleep 10", 10*time.Second, 1024))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocalExecutorOptions(t *testing.T) {
	executor := NewLocalExecutor(nil,
		WithPollInterval(50*time.Millisecond),
		WithDrainWindow(0),
		WithReapTimeout(2*time.Second),
	)
	assert.Equal(t, 50*time.Millisecond, executor.pollInterval)
	assert.Equal(t, time.Duration(0), executor.drainWindow)
	assert.Equal(t, 2*time.Second, executor.reapTimeout)

	defaults := NewLocalExecutor(nil, WithPollInterval(0), WithReapTimeout(-1))
	assert.Equal(t, DefaultPollInterval, defaults.pollInterval)
	assert.Equal(t, DefaultReapTimeout, defaults.reapTimeout)
}
