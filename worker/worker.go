package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/job"
	"github.com/isdmx/jobbox/store"
)

// Default loop tuning
const (
	DefaultBlockTimeout = 5 * time.Second
	DefaultBackoff      = 500 * time.Millisecond
)

// Executor drives one dequeued job to a terminal state
type Executor interface {
	Execute(ctx context.Context, d job.Descriptor) (job.Status, error)
}

// Worker consumes the work queue
type Worker struct {
	queue        store.Queue
	executor     Executor
	logger       *zap.Logger
	concurrency  int
	blockTimeout time.Duration
	backoff      time.Duration
}

// Option defines a functional option for Worker
type Option func(*Worker)

// WithConcurrency sets the number of consumer loops run by Run
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithBlockTimeout bounds a single queue pop
func WithBlockTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.blockTimeout = d
		}
	}
}

// WithBackoff sets the pause after an infrastructure error
func WithBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.backoff = d
		}
	}
}

// New creates a Worker
func New(logger *zap.Logger, queue store.Queue, executor Executor, opts ...Option) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{
		queue:        queue,
		executor:     executor,
		logger:       logger,
		concurrency:  1,
		blockTimeout: DefaultBlockTimeout,
		backoff:      DefaultBackoff,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// NewFromConfig creates a Worker tuned by the worker config section
func NewFromConfig(logger *zap.Logger, cfg *config.Config, queue store.Queue, executor Executor) *Worker {
	return New(logger, queue, executor,
		WithConcurrency(cfg.Worker.Concurrency),
		WithBlockTimeout(cfg.BlockTimeout()),
		WithBackoff(cfg.Backoff()),
	)
}

// ProcessOne pops and handles at most one job.
//
// It returns false when the queue stayed empty for the block timeout. A
// malformed payload is logged and counts as handled. The error reports queue or
// state store failures only.
func (w *Worker) ProcessOne(ctx context.Context) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = true
			err = fmt.Errorf("panic while handling job: %v", r)
		}
	}()

	payload, err := w.queue.Dequeue(ctx, w.blockTimeout)
	if errors.Is(err, store.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	d, err := job.DecodeDescriptor(payload)
	if err != nil {
		w.logger.Error("dropping malformed job payload", zap.Error(err), zap.Int("payload_bytes", len(payload)))
		return true, nil
	}

	w.logger.Info("job dequeued", zap.String("job_id", d.JobID), zap.String("language", d.Language))

	status, err := w.executor.Execute(ctx, d)
	if err != nil {
		return true, fmt.Errorf("job %s: %w", d.JobID, err)
	}

	w.logger.Debug("job finished", zap.String("job_id", d.JobID), zap.String("status", string(status)))
	return true, nil
}

// Run starts the consumer loops and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Int("concurrency", w.concurrency),
		zap.Duration("block_timeout", w.blockTimeout))

	var wg conc.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		log := w.logger.With(zap.Int("loop", i))
		wg.Go(func() {
			w.loop(ctx, log)
		})
	}
	wg.Wait()

	w.logger.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		_, err := w.ProcessOne(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		log.Error("worker loop error", zap.Error(err))
		timer := time.NewTimer(w.backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
