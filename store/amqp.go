package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultAMQPPollInterval is the pause between empty basic.get attempts
const DefaultAMQPPollInterval = 100 * time.Millisecond

// errAMQPQueueClosed is returned after Close
var errAMQPQueueClosed = errors.New("amqp queue closed")

// amqpChannel is the subset of *amqp.Channel the queue uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// amqpSession is one connection with its channel and the channel's close notification
type amqpSession struct {
	ch     amqpChannel
	conn   io.Closer
	closed <-chan *amqp.Error
}

func (s *amqpSession) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

// amqpDialer opens a session with the queue already declared
type amqpDialer func() (*amqpSession, string, error)

// AMQPQueue implements Queue on a durable RabbitMQ queue.
// Dequeue uses basic.get with auto-ack, which hands each message to one consumer.
// A session lost to a broker restart or channel exception is re-dialed on next use.
type AMQPQueue struct {
	mu           sync.Mutex
	logger       *zap.Logger
	dial         amqpDialer
	session      *amqpSession
	name         string
	pollInterval time.Duration
	shut         bool
}

// DialAMQP connects to url and declares the durable queue name
func DialAMQP(logger *zap.Logger, url, name string) (*AMQPQueue, error) {
	return newAMQPQueue(logger, func() (*amqpSession, string, error) {
		return dialAMQPSession(url, name)
	})
}

func dialAMQPSession(url, name string) (*amqpSession, string, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, "", fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	// Fires on channel exceptions and on connection loss alike.
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	return &amqpSession{ch: ch, conn: conn, closed: closed}, q.Name, nil
}

func newAMQPQueue(logger *zap.Logger, dial amqpDialer) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &AMQPQueue{
		logger:       logger,
		dial:         dial,
		pollInterval: DefaultAMQPPollInterval,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

// connect returns a live session, re-dialing when the current one was closed.
// Callers hold q.mu.
func (q *AMQPQueue) connect() (*amqpSession, error) {
	if q.shut {
		return nil, errAMQPQueueClosed
	}

	if q.session != nil {
		select {
		case reason := <-q.session.closed:
			q.logger.Warn("amqp session closed, reconnecting", zap.Any("reason", reason))
			q.session.close()
			q.session = nil
		default:
			return q.session, nil
		}
	}

	session, name, err := q.dial()
	if err != nil {
		return nil, err
	}
	q.session = session
	q.name = name
	return session, nil
}

// drop discards the session after an operation reported it closed
func (q *AMQPQueue) drop(err error) {
	if q.session != nil && errors.Is(err, amqp.ErrClosed) {
		q.session.close()
		q.session = nil
	}
}

// Enqueue publishes payload as a persistent message
func (q *AMQPQueue) Enqueue(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	session, err := q.connect()
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	err = session.ch.PublishWithContext(ctx,
		"",
		q.name,
		false,
		false, amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         payload,
		})
	if err != nil {
		q.drop(err)
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func (q *AMQPQueue) get() ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	session, err := q.connect()
	if err != nil {
		return nil, false, err
	}

	msg, ok, err := session.ch.Get(q.name, true)
	if err != nil {
		q.drop(err)
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return msg.Body, true, nil
}

// Dequeue polls the queue until a message arrives or timeout passes
func (q *AMQPQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, ok, err := q.get()
		if err != nil {
			return nil, fmt.Errorf("failed to get job: %w", err)
		}
		if ok {
			return body, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrEmpty
		}

		timer := time.NewTimer(min(q.pollInterval, remaining))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Ping reports whether a session is open, reconnecting if the last one was lost
func (q *AMQPQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.connect(); err != nil {
		return fmt.Errorf("amqp unavailable: %w", err)
	}
	return nil
}

// Close closes the channel and connection. The queue does not reconnect afterwards.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shut = true
	if q.session == nil {
		return nil
	}
	_ = q.session.ch.Close()
	err := q.session.conn.Close()
	q.session = nil
	return err
}
