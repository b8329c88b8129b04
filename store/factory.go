package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/jobbox/config"
)

// Backends bundles the configured queue and state store
type Backends struct {
	Queue   Queue
	States  StateStore
	closers []func() error
}

// Close releases every connection the backends opened
func (b *Backends) Close() error {
	var errs []error
	for _, closeFn := range b.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// New creates the queue and state store described by the configuration.
// Redis-backed parts share one client; memory-backed parts share one MemoryStore.
func New(logger *zap.Logger, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	var redisStore *RedisStore
	redisBackend := func() (*RedisStore, error) {
		if redisStore != nil {
			return redisStore, nil
		}
		client, err := NewRedisClient(cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		redisStore = NewRedisStore(client, cfg.Store.QueueKey, cfg.Store.JobKeyPrefix)
		b.closers = append(b.closers, redisStore.Close)
		return redisStore, nil
	}

	var memoryStore *MemoryStore
	memoryBackend := func() *MemoryStore {
		if memoryStore == nil {
			memoryStore = NewMemoryStore()
		}
		return memoryStore
	}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		s, err := redisBackend()
		if err != nil {
			return nil, err
		}
		b.States = s
	case config.BackendMemory:
		b.States = memoryBackend()
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}

	switch cfg.Queue.Backend {
	case config.BackendRedis:
		s, err := redisBackend()
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Queue = s
	case config.BackendAMQP:
		q, err := DialAMQP(logger.Named("amqp"), cfg.Queue.AMQPURL, cfg.Queue.AMQPQueue)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Queue = q
		b.closers = append(b.closers, q.Close)
	case config.BackendMemory:
		b.Queue = memoryBackend()
	default:
		_ = b.Close()
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}

	logger.Info("job backends ready",
		zap.String("store", cfg.Store.Backend),
		zap.String("queue", cfg.Queue.Backend))

	return b, nil
}
