// Package queue defines the work distribution abstraction used by the
// distributed orchestrator, with an in-memory implementation for tests
// and single-process deployments and a Redis implementation for real
// fleets.
//
// Semantics are at-least-once. A handler returning nil acks the message;
// an error returns it to the queue after the visibility window. After a
// message fails more deliveries than MaxRetries allow it is routed to the
// poison queue "<name>-poison" and never redelivered. Ordering is
// best-effort FIFO, not a guarantee. Payloads are small references, never
// document bodies.
package queue

import (
	"context"
	"errors"
	"time"
)

// PoisonSuffix is appended to a queue's name to form its poison queue.
const PoisonSuffix = "-poison"

var (
	// ErrClosed indicates an operation on a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrNoHandler indicates Start was called before OnDequeue.
	ErrNoHandler = errors.New("no dequeue handler registered")
)

// Handler consumes one message. Returning nil acks and deletes it;
// returning an error schedules redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Queue is the capability set of a single named queue.
type Queue interface {
	// Enqueue appends a message.
	Enqueue(ctx context.Context, payload []byte) error

	// OnDequeue registers the consumer callback. Must be called before
	// Start; queues without a handler are write-only.
	OnDequeue(fn Handler)

	// Start begins consuming. The context bounds the consumer's
	// lifetime; cancelling it stops delivery.
	Start(ctx context.Context) error

	// Close stops consumers and releases resources. Messages already
	// accepted remain queued for the next consumer.
	Close() error
}

// Factory connects to named queues. Connecting twice to the same name
// yields the same underlying queue.
type Factory interface {
	Connect(ctx context.Context, name string, opts Options) (Queue, error)
}

// Options tunes a queue connection.
type Options struct {
	// MaxRetries is how many redeliveries a message gets after its first
	// failed delivery before being routed to the poison queue.
	MaxRetries int
	// Visibility is the lock window: how long a delivery may run before
	// the message becomes eligible for redelivery, and how long a nacked
	// message waits before retrying.
	Visibility time.Duration
	// PollInterval is the consumer poll / redelivery sweep cadence.
	PollInterval time.Duration
	// Workers is the number of concurrent handler invocations.
	Workers int
}

// Defaults applied by implementations for zero-valued options.
const (
	DefaultMaxRetries   = 10
	DefaultVisibility   = 30 * time.Second
	DefaultPollInterval = time.Second
	DefaultWorkers      = 1
)

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Visibility <= 0 {
		o.Visibility = DefaultVisibility
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// exhausted reports whether a message that has now failed `deliveries`
// times is out of retries: the first delivery plus MaxRetries more.
func exhausted(deliveries, maxRetries int) bool {
	return deliveries > maxRetries
}
