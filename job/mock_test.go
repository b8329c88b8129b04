package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/isdmx/jobbox/language"
	"github.com/isdmx/jobbox/sandbox"
	"github.com/isdmx/jobbox/store"
)

// MockRunner records requests and returns a fixed result
type MockRunner struct {
	mu       sync.Mutex
	requests []language.Request
	result   sandbox.Result
	err      error
	panicMsg string
	hook     func()
}

func (m *MockRunner) Run(_ context.Context, req language.Request) (sandbox.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.hook != nil {
		m.hook()
	}
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.result, m.err
}

func (m *MockRunner) Requests() []language.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]language.Request(nil), m.requests...)
}

func newRegistry(runner language.Runner) *language.Registry {
	registry := language.NewRegistry()
	registry.Register(language.LanguagePython, runner, "py")
	return registry
}

// FailingStore wraps a StateStore and injects errors per operation
type FailingStore struct {
	store.StateStore
	setErr    error
	expireErr error
	failAfter int
	failUntil int
	setCalls  int
}

func (f *FailingStore) SetFields(ctx context.Context, jobID string, fields map[string]string) error {
	f.setCalls++
	if f.setErr != nil && f.setCalls > f.failAfter && (f.failUntil == 0 || f.setCalls <= f.failUntil) {
		return f.setErr
	}
	return f.StateStore.SetFields(ctx, jobID, fields)
}

func (f *FailingStore) Expire(ctx context.Context, jobID string, ttl time.Duration) error {
	if f.expireErr != nil {
		return f.expireErr
	}
	return f.StateStore.Expire(ctx, jobID, ttl)
}

// FailingQueue rejects every enqueue
type FailingQueue struct{}

func (FailingQueue) Enqueue(context.Context, []byte) error {
	return errors.New("queue unavailable")
}

func (FailingQueue) Dequeue(context.Context, time.Duration) ([]byte, error) {
	return nil, store.ErrEmpty
}
