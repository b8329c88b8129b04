package job

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/sandbox"
	"github.com/isdmx/jobbox/store"
)

// SubmitRequest is an untrusted submission. A nil Timeout uses the configured default.
type SubmitRequest struct {
	Language string
	Code     string
	Timeout  *int
}

// Service validates submissions and reads job records
type Service struct {
	cfg       config.SandboxConfig
	runners   RunnerLookup
	queue     store.Queue
	states    store.StateStore
	lifecycle *Lifecycle
	logger    *zap.Logger
	newID     func() string
}

// ServiceOption defines a functional option for Service
type ServiceOption func(*Service)

// WithIDGenerator replaces the UUID job id source
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates a Service. The queue is unused in sync mode.
func NewService(
	logger *zap.Logger,
	cfg *config.Config,
	runners RunnerLookup,
	queue store.Queue,
	states store.StateStore,
	lifecycle *Lifecycle,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		cfg:       cfg.Sandbox,
		runners:   runners,
		queue:     queue,
		states:    states,
		lifecycle: lifecycle,
		logger:    logger,
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.Mode == config.ModeSync {
		logger.Warn("sync mode runs untrusted code inside the API process")
	}

	return s
}

// Authorize checks the shared-secret API key. With no key configured everything passes.
func (s *Service) Authorize(provided string) error {
	if s.cfg.APIKey == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.APIKey)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// validate normalizes req into a descriptor without a job id
func (s *Service) validate(req SubmitRequest) (Descriptor, error) {
	if req.Code == "" {
		return Descriptor{}, &ValidationError{Field: "code", Message: "Code must not be empty"}
	}
	if utf8.RuneCountInString(req.Code) > s.cfg.MaxCodeChars {
		return Descriptor{}, &ValidationError{Field: "code", Message: "Code too large"}
	}

	lang := strings.ToLower(strings.TrimSpace(req.Language))
	canonical, ok := s.runners.Canonical(lang)
	if !ok || !slices.Contains(s.cfg.AllowedLanguages, canonical) {
		return Descriptor{}, &ValidationError{Field: "language", Message: "Unsupported language: " + lang}
	}

	timeout := s.cfg.DefaultTimeoutSec
	if req.Timeout != nil {
		timeout = *req.Timeout
	}
	if timeout < s.cfg.MinTimeoutSec || timeout > s.cfg.MaxTimeoutSec {
		return Descriptor{}, &ValidationError{
			Field: "timeout",
			Message: fmt.Sprintf("Timeout must be between %d and %d seconds",
				s.cfg.MinTimeoutSec, s.cfg.MaxTimeoutSec),
		}
	}

	return Descriptor{Language: canonical, Code: req.Code, Timeout: timeout}, nil
}

// Submit validates req, creates the queued record and hands the job off.
// In sync mode the job has reached a terminal state when Submit returns.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	d, err := s.validate(req)
	if err != nil {
		return "", err
	}
	d.JobID = s.newID()

	if err := s.lifecycle.Create(ctx, d); err != nil {
		return "", err
	}

	log := s.logger.With(zap.String("job_id", d.JobID), zap.String("language", d.Language))

	if s.cfg.Mode == config.ModeSync {
		status, err := s.lifecycle.Execute(ctx, d)
		if err != nil {
			s.lifecycle.Abandon(ctx, d.JobID, err.Error())
			return "", err
		}
		log.Info("job executed inline", zap.String("status", string(status)))
		return d.JobID, nil
	}

	payload, err := d.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, payload); err != nil {
		s.lifecycle.Abandon(ctx, d.JobID, err.Error())
		return "", err
	}

	log.Info("job queued", zap.Int("timeout", d.Timeout))
	return d.JobID, nil
}

// Get returns the parsed record for jobID, or ErrNotFound
func (s *Service) Get(ctx context.Context, jobID string) (Record, error) {
	fields, err := s.states.Fields(ctx, jobID)
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return ParseRecord(jobID, fields), nil
}

// Health pings the shared state store
func (s *Service) Health(ctx context.Context) error {
	return s.states.Ping(ctx)
}

// StatusView is the status payload of a job
type StatusView struct {
	JobID      string   `json:"job_id"`
	Status     Status   `json:"status"`
	CreatedAt  *float64 `json:"created_at,omitempty"`
	StartedAt  *float64 `json:"started_at,omitempty"`
	FinishedAt *float64 `json:"finished_at,omitempty"`
}

// ResultView is the result payload of a job. It never waits for completion.
type ResultView struct {
	JobID  string          `json:"job_id"`
	Status Status          `json:"status"`
	Result *sandbox.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Status returns the status and timestamps of jobID
func (s *Service) Status(ctx context.Context, jobID string) (StatusView, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		JobID:      rec.JobID,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}, nil
}

// Result returns the run result of a done job or the error of a failed one.
// Non-terminal jobs report their status only.
func (s *Service) Result(ctx context.Context, jobID string) (ResultView, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return ResultView{}, err
	}
	return ResultView{
		JobID:  rec.JobID,
		Status: rec.Status,
		Result: rec.Result,
		Error:  rec.Error,
	}, nil
}
