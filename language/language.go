package language

import (
	"context"
	"errors"
	"os"

	"github.com/isdmx/jobbox/sandbox"
)

// ErrUnsupportedLanguage is returned for a language tag with no registered runner
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language name constants
const (
	LanguagePython = "python"
	LanguageNodeJS = "nodejs"
)

// File permission constants
const (
	DirPermission  = 0o700
	FilePermission = 0o600
)

// Request is one source snippet to run with its bounds
type Request struct {
	Code             string
	TimeoutSec       int
	OutputLimitBytes int
	// Limits.CPUSeconds defaults to TimeoutSec when zero.
	Limits sandbox.Limits
}

// Runner executes source code of one language under the sandbox
type Runner interface {
	Run(ctx context.Context, req Request) (sandbox.Result, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, req Request) (sandbox.Result, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, req Request) (sandbox.Result, error) {
	return f(ctx, req)
}

// FileSystem defines the file operations a runner needs for its workspace
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}
