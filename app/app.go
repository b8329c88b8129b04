package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/job"
	"github.com/isdmx/jobbox/language"
	"github.com/isdmx/jobbox/logger"
	"github.com/isdmx/jobbox/sandbox"
	"github.com/isdmx/jobbox/store"
	"github.com/isdmx/jobbox/worker"
)

// Core provides everything both binaries share: config, logger, sandbox,
// language registry, backends, processor, lifecycle and the job service.
var Core = fx.Module("core",
	fx.Provide(
		config.New,
		logger.NewFromConfig,
		sandbox.NewExecutor,
		language.NewRegistryFromConfig,
		NewBackends,
		NewProcessor,
		NewLifecycle,
		NewService,
		NewWorker,
	),
)

// Logger routes fx's own events through the application logger
func Logger() fx.Option {
	return fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	})
}

// NewBackends opens the configured queue and state store and closes them on stop
func NewBackends(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*store.Backends, error) {
	b, err := store.New(logger, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return b.Close()
		},
	})
	return b, nil
}

// NewProcessor binds the processor to the language registry
func NewProcessor(cfg *config.Config, registry *language.Registry) job.Processor {
	return job.NewProcessor(cfg, registry)
}

// NewLifecycle creates the job lifecycle over the state store
func NewLifecycle(logger *zap.Logger, cfg *config.Config, b *store.Backends, processor job.Processor) *job.Lifecycle {
	return job.NewLifecycle(logger, b.States, processor, cfg.JobTTL())
}

// NewService creates the submission service
func NewService(logger *zap.Logger, cfg *config.Config, registry *language.Registry, b *store.Backends, lifecycle *job.Lifecycle) *job.Service {
	return job.NewService(logger, cfg, registry, b.Queue, b.States, lifecycle)
}

// NewWorker creates the queue consumer
func NewWorker(logger *zap.Logger, cfg *config.Config, b *store.Backends, lifecycle *job.Lifecycle) *worker.Worker {
	return worker.NewFromConfig(logger.Named("worker"), cfg, b.Queue, lifecycle)
}

// RunWorker runs w for the lifetime of the application
func RunWorker(lc fx.Lifecycle, w *worker.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				w.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
