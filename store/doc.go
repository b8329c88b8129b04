// Package store provides the work queue and the job state store.
//
// The Queue carries serialized job descriptors in FIFO order; an atomic pop
// delivers each one to a single consumer. The StateStore keeps one flat
// string hash per job with TTL-based expiry.
//
// Backends:
//   - RedisStore: RPUSH/BLPOP list plus HSET/HGETALL/EXPIRE hashes
//   - MemoryStore: both roles inside one process (tests, embedded worker)
//   - AMQPQueue: a durable RabbitMQ queue drained with basic.get
package store
