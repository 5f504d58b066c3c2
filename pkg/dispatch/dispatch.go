// Package dispatch implements the Dispatch Subscription (C9): a minimal
// subprotocol variant of GraphQL-over-WS (`connection_init`/
// `connection_ack`/`start`/data frames) the server uses to push newly
// created pipelines to subscribed agents, derived from the pipelines
// change-stream.
package dispatch

import (
	"context"
	"encoding/json"
)

// MessageType names one of the subprotocol's frame kinds.
type MessageType string

const (
	TypeConnectionInit MessageType = "connection_init"
	TypeConnectionAck  MessageType = "connection_ack"
	TypeStart          MessageType = "start"
	TypeData           MessageType = "data"
	TypeError          MessageType = "error"
)

// SubscriptionName is the single subscription this dispatcher serves.
const SubscriptionName = "pipelineInserted"

// Message is the wire frame for every direction of the handshake.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionInitPayload carries the agent's Authorization credential inside
// the connection_init frame, per spec §6: "WebSocket authentication is
// carried in the connection_init payload under auth".
type ConnectionInitPayload struct {
	Auth string `json:"auth"`
}

// StartPayload names the subscription a `start` frame opens.
type StartPayload struct {
	Subscription string `json:"subscription"`
}

// PipelineInsertedPayload is the data frame body: the minimal pipeline
// projection spec §4.9 requires.
type PipelineInsertedPayload struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Number       int    `json:"number"`
	RegisterDate string `json:"register_date"`
}

// Conn is the minimal duplex JSON-message transport both the server handler
// and the agent-side client operate over, satisfied by a thin adapter over
// *coder/websocket.Conn (kept here as an interface so neither side needs the
// underlying library typed into signatures; pkg/dispatch/ws.go supplies it).
type Conn interface {
	ReadMessage(ctx context.Context) (Message, error)
	WriteMessage(ctx context.Context, msg Message) error
	Close() error
}

func encodePayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
