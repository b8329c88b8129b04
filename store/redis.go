package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Queue with a Redis list and StateStore with Redis hashes
type RedisStore struct {
	client    redis.UniversalClient
	queueKey  string
	jobPrefix string
}

// NewRedisClient creates a client from a redis:// URL
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore wraps client. Job hashes live under jobPrefix+jobID.
func NewRedisStore(client redis.UniversalClient, queueKey, jobPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		queueKey:  queueKey,
		jobPrefix: jobPrefix,
	}
}

func (s *RedisStore) jobKey(jobID string) string {
	return s.jobPrefix + jobID
}

// Enqueue appends payload to the tail of the queue list
func (s *RedisStore) Enqueue(ctx context.Context, payload []byte) error {
	if err := s.client.RPush(ctx, s.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue pops the head of the queue list, blocking up to timeout.
// Redis rounds sub-second timeouts up to one second.
func (s *RedisStore) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := s.client.BLPop(ctx, timeout, s.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BLPOP replies with [key, value].
	if len(item) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply with %d elements", len(item))
	}
	return []byte(item[1]), nil
}

// SetFields upserts fields into the job hash
func (s *RedisStore) SetFields(ctx context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.client.HSet(ctx, s.jobKey(jobID), values).Err(); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// Fields reads the whole job hash
func (s *RedisStore) Fields(ctx context.Context, jobID string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	return fields, nil
}

// Expire sets the job hash TTL
func (s *RedisStore) Expire(ctx context.Context, jobID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, s.jobKey(jobID), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ttl on job %s: %w", jobID, err)
	}
	return nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
