package store

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Dequeue when nothing arrived within the block timeout
var ErrEmpty = errors.New("queue is empty")

// Queue is a FIFO of serialized job descriptors.
// Dequeue pops atomically, so each payload is delivered to exactly one consumer.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// StateStore holds one flat string hash per job id.
// Fields returns an empty map for an unknown or expired job.
// Expire with a non-positive ttl is a no-op.
type StateStore interface {
	SetFields(ctx context.Context, jobID string, fields map[string]string) error
	Fields(ctx context.Context, jobID string) (map[string]string, error)
	Expire(ctx context.Context, jobID string, ttl time.Duration) error
	Ping(ctx context.Context) error
}
