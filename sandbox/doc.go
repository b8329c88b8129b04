// Package sandbox provides secure code execution capabilities.
//
// The sandbox package spawns one child process,
// applies OS resource limits before the child's program runs, captures stdout
// and stderr through a readiness-based poll loop capped at an output budget,
// and kills the whole process group once the wall-clock deadline passes.
//
// Limits are applied by re-executing the current binary as a small init helper
// (see reexec). Binaries and test mains that use this package must call
// reexec.Init() first thing in main or TestMain.
//
// Usage:
//
//	executor := sandbox.NewLocalExecutor(logger)
//	result, err := executor.Execute(ctx, sandbox.Command{
//	    Argv:             []string{"/usr/bin/python3", "-I", "-B", "code.py"},
//	    Dir:              workdir,
//	    Env:              sandbox.SanitizedEnv(workdir, nil),
//	    Timeout:          3 * time.Second,
//	    OutputLimitBytes: 40000,
//	    Limits:           sandbox.Limits{CPUSeconds: 3, MemoryBytes: 200 << 20},
//	})
package sandbox
