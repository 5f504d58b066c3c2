package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// reconnectBackoff is the fixed delay between reconnect attempts — no
// exponential backoff, per spec §5.
const reconnectBackoff = 5 * time.Second

// Client is the agent-side subscriber: it holds a WebSocket open to the
// server's /ws endpoint, performs the connection_init/ack/start handshake,
// and invokes onPipeline for every pipelineInserted data frame. Subscribe
// blocks, reconnecting with a fixed backoff on any error, until ctx is
// canceled.
type Client struct {
	url        string
	authHeader func() string
	onPipeline func(PipelineInsertedPayload)
}

// NewClient constructs a Client. url is the server's ws(s):// endpoint.
// authHeader is called fresh on every (re)connect so a renewed token is
// picked up automatically.
func NewClient(url string, authHeader func() string, onPipeline func(PipelineInsertedPayload)) *Client {
	return &Client{url: url, authHeader: authHeader, onPipeline: onPipeline}
}

// Subscribe runs the reconnect loop until ctx is canceled.
func (c *Client) Subscribe(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			slog.Error("dispatch client: connection failed, reconnecting", "error", err, "backoff", reconnectBackoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	wsc, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn := NewConn(wsc)
	defer conn.Close()

	initPayload, err := encodePayload(ConnectionInitPayload{Auth: c.authHeader()})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(ctx, Message{Type: TypeConnectionInit, Payload: initPayload}); err != nil {
		return err
	}

	ack, err := conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if ack.Type != TypeConnectionAck {
		return fmt.Errorf("expected connection_ack, got %s", ack.Type)
	}

	startPayload, err := encodePayload(StartPayload{Subscription: SubscriptionName})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(ctx, Message{Type: TypeStart, Payload: startPayload}); err != nil {
		return err
	}

	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		switch msg.Type {
		case TypeData:
			var payload PipelineInsertedPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				slog.Error("dispatch client: decode data frame failed", "error", err)
				continue
			}
			c.onPipeline(payload)
		case TypeError:
			return fmt.Errorf("server error frame: %s", string(msg.Payload))
		}
	}
}
