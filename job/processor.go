package job

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/language"
	"github.com/isdmx/jobbox/sandbox"
)

// Processor runs one job descriptor and returns the fields to persist
type Processor interface {
	Process(ctx context.Context, d Descriptor) (map[string]string, error)
}

// RunnerLookup resolves a language tag or alias to a runner
type RunnerLookup interface {
	Canonical(name string) (string, bool)
	Lookup(name string) (language.Runner, error)
}

// RunProcessor maps descriptors onto registered language runners
type RunProcessor struct {
	runners          RunnerLookup
	allowed          []string
	maxTimeoutSec    int
	outputLimitBytes int
	limits           sandbox.Limits
}

// NewProcessor creates a RunProcessor with the configured bounds
func NewProcessor(cfg *config.Config, runners RunnerLookup) *RunProcessor {
	return &RunProcessor{
		runners:          runners,
		allowed:          cfg.Sandbox.AllowedLanguages,
		maxTimeoutSec:    cfg.Sandbox.MaxTimeoutSec,
		outputLimitBytes: cfg.Sandbox.OutputLimitBytes,
		limits:           sandbox.LimitsFromConfig(cfg),
	}
}

// Process executes d. An unsupported language is an error, not a result.
// A missing timeout defaults to the maximum.
func (p *RunProcessor) Process(ctx context.Context, d Descriptor) (map[string]string, error) {
	lang, ok := p.runners.Canonical(d.Language)
	if !ok || !slices.Contains(p.allowed, lang) {
		return nil, fmt.Errorf("%w: %s", language.ErrUnsupportedLanguage, strings.ToLower(strings.TrimSpace(d.Language)))
	}

	runner, err := p.runners.Lookup(lang)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = p.maxTimeoutSec
	}

	result, err := runner.Run(ctx, language.Request{
		Code:             d.Code,
		TimeoutSec:       timeout,
		OutputLimitBytes: p.outputLimitBytes,
		Limits:           p.limits,
	})
	if err != nil {
		return nil, err
	}

	return ResultFields(result), nil
}
