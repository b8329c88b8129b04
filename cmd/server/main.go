package main

import (
	"context"
	"fmt"
	"os"

	"github.com/moby/sys/reexec"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/api"
	"github.com/isdmx/jobbox/app"
	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/job"
	"github.com/isdmx/jobbox/mcpserver"
	"github.com/isdmx/jobbox/worker"
)

func main() {
	// Sandboxed children re-enter this binary to apply their limits.
	if reexec.Init() {
		return
	}

	printConfig := pflag.Bool("print-config", false, "print the effective configuration and exit")
	pflag.Parse()

	if *printConfig {
		if err := dumpConfig(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	fxApp := fx.New(
		app.Core,

		fx.Provide(
			// HTTP API
			func(logger *zap.Logger, cfg *config.Config, service *job.Service) *api.Server {
				return api.New(logger.Named("api"), cfg, service)
			},

			// MCP Server
			mcpserver.New,
		),

		fx.Invoke(
			func(lc fx.Lifecycle, server *api.Server) {
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						return server.Start()
					},
					OnStop: server.Shutdown,
				})
			},

			func(lc fx.Lifecycle, cfg *config.Config, server *mcpserver.MCPServer, logger *zap.Logger) {
				if !cfg.MCP.Enabled {
					return
				}
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go func() {
							var err error
							switch cfg.MCP.Transport {
							case "stdio":
								err = server.ServeStdio()
							case "http":
								err = server.ServeHTTP()
							}
							if err != nil {
								logger.Error("MCP server stopped", zap.Error(err))
							}
						}()
						return nil
					},
					OnStop: server.Shutdown,
				})
			},

			// The embedded worker lets a single process serve memory backends.
			func(lc fx.Lifecycle, cfg *config.Config, w *worker.Worker) {
				if cfg.Worker.Embedded {
					app.RunWorker(lc, w)
				}
			},
		),

		app.Logger(),
	)

	fxApp.Run()
}

func dumpConfig() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
