package language

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/jobbox/sandbox"
)

// ScriptSpec describes an interpreted language: the source is written to
// Filename and run as `Interpreter Args... Filename`.
type ScriptSpec struct {
	Name        string
	Interpreter string
	Args        []string
	Filename    string
	Environment map[string]string
}

// ScriptRunner runs interpreted code in an ephemeral workspace
type ScriptRunner struct {
	spec        ScriptSpec
	executor    sandbox.Executor
	fs          FileSystem
	logger      *zap.Logger
	workdirRoot string
}

// ScriptRunnerOption defines a functional option for ScriptRunner
type ScriptRunnerOption func(*ScriptRunner)

// WithFileSystem sets the FileSystem for ScriptRunner
func WithFileSystem(fs FileSystem) ScriptRunnerOption {
	return func(r *ScriptRunner) {
		r.fs = fs
	}
}

// WithLogger sets the logger for ScriptRunner
func WithLogger(logger *zap.Logger) ScriptRunnerOption {
	return func(r *ScriptRunner) {
		r.logger = logger
	}
}

// WithWorkdirRoot places workspaces under root instead of the system temp dir
func WithWorkdirRoot(root string) ScriptRunnerOption {
	return func(r *ScriptRunner) {
		r.workdirRoot = root
	}
}

// NewScriptRunner creates a runner for spec on top of executor
func NewScriptRunner(executor sandbox.Executor, spec ScriptSpec, opts ...ScriptRunnerOption) *ScriptRunner {
	runner := &ScriptRunner{
		spec:     spec,
		executor: executor,
		fs:       RealFileSystem{},
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Run writes the code into a fresh workspace and executes it.
// The workspace is removed on every return path.
func (r *ScriptRunner) Run(ctx context.Context, req Request) (sandbox.Result, error) {
	if req.TimeoutSec <= 0 {
		return sandbox.Result{}, fmt.Errorf("timeout must be positive, got: %d", req.TimeoutSec)
	}

	dir, err := r.fs.MkdirTemp(r.workdirRoot, "sandbox_*")
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer func() {
		if rmErr := r.fs.RemoveAll(dir); rmErr != nil {
			r.logger.Error("failed to remove workspace", zap.String("path", dir), zap.Error(rmErr))
		}
	}()

	codePath := filepath.Join(dir, r.spec.Filename)
	if err := r.fs.WriteFile(codePath, []byte(req.Code), FilePermission); err != nil {
		return sandbox.Result{}, fmt.Errorf("failed to write user code: %w", err)
	}

	limits := req.Limits
	if limits.CPUSeconds <= 0 {
		limits.CPUSeconds = req.TimeoutSec
	}

	argv := make([]string, 0, len(r.spec.Args)+2)
	argv = append(argv, r.spec.Interpreter)
	argv = append(argv, r.spec.Args...)
	argv = append(argv, r.spec.Filename)

	return r.executor.Execute(ctx, sandbox.Command{
		Argv:             argv,
		Dir:              dir,
		Env:              sandbox.SanitizedEnv(dir, upperKeys(r.spec.Environment)),
		Timeout:          time.Duration(req.TimeoutSec) * time.Second,
		OutputLimitBytes: req.OutputLimitBytes,
		Limits:           limits,
	})
}

// upperKeys restores environment variable case lost in config loading
func upperKeys(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}
