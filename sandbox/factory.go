package sandbox

import (
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
)

// NewExecutor creates the sandbox executor described by the configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config) Executor {
	return NewLocalExecutor(logger,
		WithPollInterval(time.Duration(cfg.Sandbox.PollIntervalMS)*time.Millisecond),
		WithDrainWindow(time.Duration(cfg.Sandbox.DrainWindowMS)*time.Millisecond),
	)
}

// LimitsFromConfig returns the resource ceilings shared by every run.
// A zero CPUSeconds makes the runner use the job timeout.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		CPUSeconds:    cfg.Sandbox.CPUSeconds,
		MemoryBytes:   cfg.Sandbox.MemoryBytes,
		FileSizeBytes: cfg.Sandbox.FileSizeBytes,
		OpenFiles:     cfg.Sandbox.OpenFiles,
		Processes:     cfg.Sandbox.MaxProcesses,
		Seccomp:       cfg.Sandbox.SeccompEnabled,
	}
}
