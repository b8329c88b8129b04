package store

import (
	"context"
	"maps"
	"sync"
	"time"
)

// DefaultSweepInterval bounds how often writes scan for expired records
const DefaultSweepInterval = time.Minute

type memoryRecord struct {
	fields    map[string]string
	expiresAt time.Time
}

// MemoryStore implements Queue and StateStore in process memory.
// It is shared only by components running in the same process.
type MemoryStore struct {
	mu      sync.Mutex
	queue   [][]byte
	ready   chan struct{}
	records map[string]*memoryRecord
	now     func() time.Time

	sweepInterval time.Duration
	nextSweep     time.Time
}

// MemoryStoreOption defines a functional option for MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithClock replaces time.Now for TTL bookkeeping
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// WithSweepInterval sets the minimum spacing between expired-record sweeps
func WithSweepInterval(d time.Duration) MemoryStoreOption {
	return func(m *MemoryStore) {
		if d >= 0 {
			m.sweepInterval = d
		}
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	m := &MemoryStore{
		ready:   make(chan struct{}),
		records: make(map[string]*memoryRecord),
		now:     time.Now,

		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue appends a copy of payload and wakes blocked consumers
func (m *MemoryStore) Enqueue(_ context.Context, payload []byte) error {
	item := make([]byte, len(payload))
	copy(item, payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, item)
	close(m.ready)
	m.ready = make(chan struct{})
	return nil
}

// Dequeue pops the oldest payload, waiting up to timeout for one to arrive
func (m *MemoryStore) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			item := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return item, nil
		}
		ready := m.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued payloads
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Records returns the number of job records held, including expired ones not yet swept
func (m *MemoryStore) Records() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// sweep drops every expired record at most once per sweep interval. Caller holds mu.
func (m *MemoryStore) sweep() {
	now := m.now()
	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(m.sweepInterval)

	for id, rec := range m.records {
		if !rec.expiresAt.IsZero() && !now.Before(rec.expiresAt) {
			delete(m.records, id)
		}
	}
}

// record returns the live record for jobID, dropping it if expired. Caller holds mu.
func (m *MemoryStore) record(jobID string) *memoryRecord {
	rec, ok := m.records[jobID]
	if !ok {
		return nil
	}
	if !rec.expiresAt.IsZero() && !m.now().Before(rec.expiresAt) {
		delete(m.records, jobID)
		return nil
	}
	return rec
}

// SetFields upserts fields into the job record
func (m *MemoryStore) SetFields(_ context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep()
	rec := m.record(jobID)
	if rec == nil {
		rec = &memoryRecord{fields: make(map[string]string, len(fields))}
		m.records[jobID] = rec
	}
	maps.Copy(rec.fields, fields)
	return nil
}

// Fields returns a copy of the job record
func (m *MemoryStore) Fields(_ context.Context, jobID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.record(jobID)
	if rec == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(rec.fields), nil
}

// Expire sets the record TTL relative to the store clock
func (m *MemoryStore) Expire(_ context.Context, jobID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep()
	if rec := m.record(jobID); rec != nil {
		rec.expiresAt = m.now().Add(ttl)
	}
	return nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
