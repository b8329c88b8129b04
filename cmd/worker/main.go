package main

import (
	"github.com/moby/sys/reexec"
	"go.uber.org/fx"

	"github.com/isdmx/jobbox/app"
)

func main() {
	// Sandboxed children re-enter this binary to apply their limits.
	if reexec.Init() {
		return
	}

	fx.New(
		app.Core,
		fx.Invoke(app.RunWorker),
		app.Logger(),
	).Run()
}
