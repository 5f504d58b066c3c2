// Package messaging defines the external broker-backed queue contract (C4):
// named queues, publish, and a competing-consumer iterator, at-least-once.
package messaging

import (
	"context"
	"errors"
)

// EOF is the sentinel byte string that marks logical end-of-stream for a
// pipeline log queue. It is published as a raw message, never wrapped in
// JSON.
const EOF = "EOF"

// ErrQueueClosed names a queue deleted out from under an active consumer.
// Neither Broker in this repository returns it: their Consumer.Next reports
// a deleted queue as ok == false with a nil error.
var ErrQueueClosed = errors.New("messaging: queue closed")

// Broker is the external, broker-backed messaging port. Implementations
// (pkg/messaging/nats, pkg/messaging/memory) are interchangeable at
// construction — callers never branch on backend identity.
type Broker interface {
	CreateQueue(ctx context.Context, name string) error
	DeleteQueue(ctx context.Context, name string) error
	Publish(ctx context.Context, queue string, message []byte) error
	GetConsumer(ctx context.Context, queue string) (Consumer, error)
	Close() error
}

// Consumer competes with other consumers bound to the same queue: a
// message delivered to one consumer is not delivered to the others.
type Consumer interface {
	// Next blocks until a message is available, the context is canceled, or
	// the queue is deleted. ok is false only when the queue was deleted or
	// the consumer was explicitly closed; ctx cancellation returns the
	// context's error.
	Next(ctx context.Context) (message []byte, ok bool, err error)
	Close() error
}
