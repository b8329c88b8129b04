package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/language"
	"github.com/isdmx/jobbox/sandbox"
)

func testConfig() *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{
			Mode:              config.ModeQueue,
			AllowedLanguages:  []string{"python"},
			MaxCodeChars:      100,
			MinTimeoutSec:     1,
			MaxTimeoutSec:     10,
			DefaultTimeoutSec: 3,
			OutputLimitBytes:  40_000,
			MemoryBytes:       200 << 20,
			FileSizeBytes:     2 << 20,
			OpenFiles:         32,
			MaxProcesses:      32,
		},
	}
}

func TestRunProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("MapsResult", func(t *testing.T) {
		runner := &MockRunner{result: sandbox.Result{Stdout: "hi\n", DurationMS: 12}}
		p := NewProcessor(testConfig(), newRegistry(runner))

		fields, err := p.Process(ctx, Descriptor{JobID: "1", Language: "python", Code: "print('hi')", Timeout: 3})
		require.NoError(t, err)
		assert.Equal(t, "hi\n", fields[FieldStdout])
		assert.Equal(t, "0", fields[FieldExitCode])
		assert.Equal(t, "0", fields[FieldTimedOut])
		assert.Equal(t, "12", fields[FieldDurationMS])

		reqs := runner.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, language.Request{
			Code:             "print('hi')",
			TimeoutSec:       3,
			OutputLimitBytes: 40_000,
			Limits: sandbox.Limits{
				MemoryBytes:   200 << 20,
				FileSizeBytes: 2 << 20,
				OpenFiles:     32,
				Processes:     32,
			},
		}, reqs[0])
	})

	t.Run("ConfiguredCPUSeconds", func(t *testing.T) {
		cfg := testConfig()
		cfg.Sandbox.CPUSeconds = 2
		runner := &MockRunner{}
		p := NewProcessor(cfg, newRegistry(runner))

		_, err := p.Process(ctx, Descriptor{JobID: "1", Language: "python", Code: "x", Timeout: 5})
		require.NoError(t, err)
		assert.Equal(t, 2, runner.Requests()[0].Limits.CPUSeconds)
	})

	t.Run("DefaultsTimeoutToMax", func(t *testing.T) {
		runner := &MockRunner{}
		p := NewProcessor(testConfig(), newRegistry(runner))

		_, err := p.Process(ctx, Descriptor{JobID: "1", Language: "python", Code: "x"})
		require.NoError(t, err)
		assert.Equal(t, 10, runner.Requests()[0].TimeoutSec)
	})

	t.Run("AliasAndCase", func(t *testing.T) {
		runner := &MockRunner{}
		p := NewProcessor(testConfig(), newRegistry(runner))

		_, err := p.Process(ctx, Descriptor{JobID: "1", Language: " PY ", Code: "x", Timeout: 1})
		require.NoError(t, err)
		assert.Len(t, runner.Requests(), 1)
	})

	t.Run("UnsupportedLanguage", func(t *testing.T) {
		runner := &MockRunner{}
		p := NewProcessor(testConfig(), newRegistry(runner))

		_, err := p.Process(ctx, Descriptor{JobID: "1", Language: "ruby", Code: "puts 1", Timeout: 3})
		require.ErrorIs(t, err, language.ErrUnsupportedLanguage)
		assert.Contains(t, err.Error(), "ruby")
		assert.Empty(t, runner.Requests())
	})

	t.Run("RegisteredButNotAllowed", func(t *testing.T) {
		runner := &MockRunner{}
		registry := newRegistry(runner)
		registry.Register(language.LanguageNodeJS, runner)
		p := NewProcessor(testConfig(), registry)

		_, err := p.Process(ctx, Descriptor{JobID: "1", Language: "nodejs", Code: "1", Timeout: 3})
		require.ErrorIs(t, err, language.ErrUnsupportedLanguage)
		assert.Empty(t, runner.Requests())
	})

	t.Run("RunnerError", func(t *testing.T) {
		runner := &MockRunner{err: errors.New("fork failed")}
		p := NewProcessor(testConfig(), newRegistry(runner))

		_, err := p.Process(ctx, Descriptor{JobID: "1", Language: "python", Code: "x", Timeout: 3})
		require.EqualError(t, err, "fork failed")
	})
}
