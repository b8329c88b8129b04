package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExitCodeTimeout is reported for every run that hit its wall-clock deadline.
const ExitCodeTimeout = 124

// Default tuning for the capture loop
const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultDrainWindow  = time.Second
	DefaultReapTimeout  = time.Second
	readChunkSize       = 4096
)

// ErrUnsupportedPlatform is returned by Execute on targets without process groups and rlimits.
var ErrUnsupportedPlatform = errors.New("sandbox: process execution is not supported on this platform")

// Limits holds the OS resource ceilings applied to the child before its program runs.
// A zero value leaves the corresponding limit untouched.
type Limits struct {
	CPUSeconds    int
	MemoryBytes   int64
	FileSizeBytes int64
	OpenFiles     int
	Processes     int
	// Seccomp installs a deny-list for privileged syscalls (ptrace, mount, ...).
	Seccomp bool
}

// Command describes one sandboxed process execution
type Command struct {
	Argv             []string
	Dir              string
	Env              []string
	Timeout          time.Duration
	OutputLimitBytes int
	Limits           Limits
}

// Result is the captured outcome of one execution.
// ExitCode is ExitCodeTimeout when TimedOut is set, and -N when the child died from signal N.
type Result struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	TimedOut        bool   `json:"timed_out"`
	DurationMS      int64  `json:"duration_ms"`
	TruncatedStdout bool   `json:"truncated_stdout"`
	TruncatedStderr bool   `json:"truncated_stderr"`
}

// Executor runs a command under the sandbox.
//
// Nonzero exits and timeouts are reported through Result, not as errors. An error
// means the process could not be started or supervised at all.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// validate rejects commands that can never run
func (c *Command) validate() error {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return fmt.Errorf("no command provided")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", c.Timeout)
	}
	if c.OutputLimitBytes < 0 {
		return fmt.Errorf("output limit must not be negative, got: %d", c.OutputLimitBytes)
	}
	return nil
}
