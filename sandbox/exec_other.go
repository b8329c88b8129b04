//go:build !linux

package sandbox

import "context"

func (*LocalExecutor) run(_ context.Context, _ *Command) (Result, error) {
	return Result{}, ErrUnsupportedPlatform
}
