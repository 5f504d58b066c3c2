// Package memory implements messaging.Broker as an in-process, channel-
// backed broker for tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/rustyops/pkg/messaging"
)

// queueBuffer is generous enough that a log drain reading slower than a
// stage writes does not stall the writer under normal test workloads.
const queueBuffer = 256

// Broker is a map of named channels; Publish/consume behave like a single
// shared queue with competing consumers, matching the external broker
// contract without any network dependency.
type Broker struct {
	mu     sync.Mutex
	queues map[string]chan []byte
}

// New constructs an empty in-memory broker.
func New() *Broker {
	return &Broker{queues: make(map[string]chan []byte)}
}

func (b *Broker) CreateQueue(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = make(chan []byte, queueBuffer)
	}
	return nil
}

func (b *Broker) DeleteQueue(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.queues[name]; ok {
		close(ch)
		delete(b.queues, name)
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, queue string, message []byte) error {
	b.mu.Lock()
	ch, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		if err := b.CreateQueue(ctx, queue); err != nil {
			return err
		}
		b.mu.Lock()
		ch = b.queues[queue]
		b.mu.Unlock()
	}
	select {
	case ch <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) GetConsumer(_ context.Context, queue string) (messaging.Consumer, error) {
	b.mu.Lock()
	ch, ok := b.queues[queue]
	if !ok {
		ch = make(chan []byte, queueBuffer)
		b.queues[queue] = ch
	}
	b.mu.Unlock()
	return &consumer{ch: ch}, nil
}

func (b *Broker) Close() error { return nil }

type consumer struct {
	ch chan []byte
}

func (c *consumer) Next(ctx context.Context) ([]byte, bool, error) {
	select {
	case msg, ok := <-c.ch:
		if !ok {
			return nil, false, nil
		}
		return msg, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *consumer) Close() error { return nil }

var _ messaging.Broker = (*Broker)(nil)
