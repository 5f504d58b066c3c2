package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/auth"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/codeready-toolchain/rustyops/pkg/storage/memory"
	"github.com/stretchr/testify/require"
)

// pipeConn implements Conn over in-process channels, for testing the
// handshake and data-frame protocol without a real network socket.
type pipeConn struct {
	in  chan Message
	out chan Message
}

func newPipe() (Conn, Conn) {
	ab := make(chan Message, 16)
	ba := make(chan Message, 16)
	return &pipeConn{in: ba, out: ab}, &pipeConn{in: ab, out: ba}
}

func (p *pipeConn) ReadMessage(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeConn) WriteMessage(ctx context.Context, msg Message) error {
	select {
	case p.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error { return nil }

type alwaysAuthn struct{}

func (alwaysAuthn) Authenticate(context.Context, auth.Credential) (string, error) {
	return "agent", nil
}

func TestHandler_HandshakeThenForwardsPipelineInserted(t *testing.T) {
	store := memory.New(nil)
	h := NewHandler(store, alwaysAuthn{})

	serverSide, clientSide := newPipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- h.Serve(ctx, serverSide) }()

	initPayload, err := encodePayload(ConnectionInitPayload{Auth: "System"})
	require.NoError(t, err)
	require.NoError(t, clientSide.WriteMessage(ctx, Message{Type: TypeConnectionInit, Payload: initPayload}))

	ack, err := clientSide.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, TypeConnectionAck, ack.Type)

	startPayload, err := encodePayload(StartPayload{Subscription: SubscriptionName})
	require.NoError(t, err)
	require.NoError(t, clientSide.WriteMessage(ctx, Message{Type: TypeStart, Payload: startPayload}))

	id, err := storage.Create(ctx, store, storage.IndexPipelines, domain.Pipeline{JobID: "job-1", Number: 1})
	require.NoError(t, err)

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	data, err := clientSide.ReadMessage(readCtx)
	require.NoError(t, err)
	require.Equal(t, TypeData, data.Type)

	var payload PipelineInsertedPayload
	require.NoError(t, json.Unmarshal(data.Payload, &payload))
	require.Equal(t, id, payload.ID)
	require.Equal(t, "job-1", payload.JobID)
}
