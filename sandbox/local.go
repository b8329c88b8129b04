package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LocalExecutor implements Executor with a supervised child process on the host
type LocalExecutor struct {
	logger       *zap.Logger
	pollInterval time.Duration
	drainWindow  time.Duration
	reapTimeout  time.Duration
}

// LocalExecutorOption defines a functional option for LocalExecutor
type LocalExecutorOption func(*LocalExecutor)

// WithPollInterval bounds a single readiness wait in the capture loop
func WithPollInterval(d time.Duration) LocalExecutorOption {
	return func(l *LocalExecutor) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithDrainWindow sets how long buffered output is still read after a timeout kill
func WithDrainWindow(d time.Duration) LocalExecutorOption {
	return func(l *LocalExecutor) {
		if d >= 0 {
			l.drainWindow = d
		}
	}
}

// WithReapTimeout bounds each wait for a killed child to be reaped
func WithReapTimeout(d time.Duration) LocalExecutorOption {
	return func(l *LocalExecutor) {
		if d > 0 {
			l.reapTimeout = d
		}
	}
}

// NewLocalExecutor creates a new LocalExecutor with default tuning and optional overrides
func NewLocalExecutor(logger *zap.Logger, opts ...LocalExecutorOption) *LocalExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}

	executor := &LocalExecutor{
		logger:       logger,
		pollInterval: DefaultPollInterval,
		drainWindow:  DefaultDrainWindow,
		reapTimeout:  DefaultReapTimeout,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs cmd to completion or until its timeout expires.
func (l *LocalExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	if err := cmd.validate(); err != nil {
		return Result{}, fmt.Errorf("invalid command: %w", err)
	}

	l.logger.Debug("starting sandboxed process",
		zap.Strings("argv", cmd.Argv),
		zap.String("dir", cmd.Dir),
		zap.Duration("timeout", cmd.Timeout),
		zap.Int("output_limit_bytes", cmd.OutputLimitBytes))

	result, err := l.run(ctx, &cmd)
	if err != nil {
		return Result{}, err
	}

	l.logger.Debug("sandboxed process finished",
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Int64("duration_ms", result.DurationMS),
		zap.Bool("truncated_stdout", result.TruncatedStdout),
		zap.Bool("truncated_stderr", result.TruncatedStderr))

	return result, nil
}
