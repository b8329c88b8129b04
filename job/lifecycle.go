package job

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/jobbox/store"
)

// Lifecycle drives one job record through queued, running and a terminal state
type Lifecycle struct {
	states    store.StateStore
	processor Processor
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// LifecycleOption defines a functional option for Lifecycle
type LifecycleOption func(*Lifecycle)

// WithLifecycleClock replaces time.Now for record timestamps
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// NewLifecycle creates a Lifecycle. ttl <= 0 leaves records without expiry.
func NewLifecycle(logger *zap.Logger, states store.StateStore, processor Processor, ttl time.Duration, opts ...LifecycleOption) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Lifecycle{
		states:    states,
		processor: processor,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Create writes the initial queued record and starts its TTL
func (l *Lifecycle) Create(ctx context.Context, d Descriptor) error {
	err := l.states.SetFields(ctx, d.JobID, map[string]string{
		FieldStatus:    string(StatusQueued),
		FieldLanguage:  d.Language,
		FieldTimeout:   strconv.Itoa(d.Timeout),
		FieldCreatedAt: Timestamp(l.now()),
	})
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}

	if err := l.states.Expire(ctx, d.JobID, l.ttl); err != nil {
		return fmt.Errorf("failed to set job ttl: %w", err)
	}
	return nil
}

// Execute marks d running, processes it and persists the terminal state.
//
// Processor errors and panics become a failed record and are not returned.
// The returned error reports only state store failures.
func (l *Lifecycle) Execute(ctx context.Context, d Descriptor) (Status, error) {
	log := l.logger.With(zap.String("job_id", d.JobID), zap.String("language", d.Language))

	err := l.states.SetFields(ctx, d.JobID, map[string]string{
		FieldStatus:    string(StatusRunning),
		FieldStartedAt: Timestamp(l.now()),
	})
	if err != nil {
		return StatusQueued, fmt.Errorf("failed to mark job running: %w", err)
	}

	// The outcome is persisted even when ctx was cancelled mid-run.
	persistCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := l.states.Expire(persistCtx, d.JobID, l.ttl); err != nil {
			log.Warn("failed to set job ttl", zap.Error(err))
		}
	}()

	fields, procErr := l.process(ctx, d)
	status := StatusDone
	if procErr != nil {
		status = StatusFailed
		log.Error("job failed", zap.Error(procErr))
		fields = map[string]string{FieldError: procErr.Error()}
	} else {
		log.Info("job done",
			zap.String("exit_code", fields[FieldExitCode]),
			zap.String("timed_out", fields[FieldTimedOut]),
			zap.String("duration_ms", fields[FieldDurationMS]))
	}

	fields[FieldStatus] = string(status)
	fields[FieldFinishedAt] = Timestamp(l.now())

	if err := l.states.SetFields(persistCtx, d.JobID, fields); err != nil {
		return StatusRunning, fmt.Errorf("failed to persist %s state: %w", status, err)
	}
	return status, nil
}

// Abandon records a job that will never run as failed with reason.
// It is best effort: a store error is logged, never returned.
func (l *Lifecycle) Abandon(ctx context.Context, jobID, reason string) {
	ctx = context.WithoutCancel(ctx)
	log := l.logger.With(zap.String("job_id", jobID))

	err := l.states.SetFields(ctx, jobID, map[string]string{
		FieldStatus:     string(StatusFailed),
		FieldError:      reason,
		FieldFinishedAt: Timestamp(l.now()),
	})
	if err != nil {
		log.Warn("failed to record abandoned job", zap.Error(err))
		return
	}
	if err := l.states.Expire(ctx, jobID, l.ttl); err != nil {
		log.Warn("failed to set job ttl", zap.Error(err))
	}
}

// process calls the processor, converting a panic into an error
func (l *Lifecycle) process(ctx context.Context, d Descriptor) (fields map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing job: %v", r)
		}
	}()

	fields, err = l.processor.Process(ctx, d)
	if err == nil && fields == nil {
		fields = make(map[string]string)
	}
	return fields, err
}
