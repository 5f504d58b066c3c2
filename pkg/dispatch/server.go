package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/codeready-toolchain/rustyops/pkg/auth"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// Authenticator verifies the credential embedded in a connection_init
// payload. Satisfied by *auth.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) (string, error)
}

// Handler serves one WebSocket connection through the handshake and then
// forwards every new pipeline from the storage change-stream as a data
// frame, until the connection or its context ends.
type Handler struct {
	store storage.Port
	authn Authenticator
}

// NewHandler constructs a Handler backed by store's pipeline change-stream.
func NewHandler(store storage.Port, authn Authenticator) *Handler {
	return &Handler{store: store, authn: authn}
}

// Serve drives the handshake and subscription loop for one connection. It
// blocks until ctx is canceled or the connection errors.
func (h *Handler) Serve(ctx context.Context, conn Conn) error {
	defer conn.Close()

	initMsg, err := conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if initMsg.Type != TypeConnectionInit {
		return writeError(ctx, conn, "expected connection_init")
	}

	var initPayload ConnectionInitPayload
	_ = decodePayload(initMsg.Payload, &initPayload)
	cred := auth.ParseAuthorizationHeader(initPayload.Auth)
	if _, err := h.authn.Authenticate(ctx, cred); err != nil {
		return writeError(ctx, conn, "unauthenticated")
	}

	if err := conn.WriteMessage(ctx, Message{Type: TypeConnectionAck}); err != nil {
		return err
	}

	startMsg, err := conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	var startPayload StartPayload
	_ = decodePayload(startMsg.Payload, &startPayload)
	if startMsg.Type != TypeStart || startPayload.Subscription != SubscriptionName {
		return writeError(ctx, conn, "expected start of pipelineInserted")
	}

	events, unsubscribe, err := h.store.ChangeStream(ctx, storage.IndexPipelines)
	if err != nil {
		return writeError(ctx, conn, "subscribe failed")
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Op != storage.ChangeCreate {
				continue
			}
			p, err := storage.FromDocument[domain.Pipeline](event.Item)
			if err != nil {
				slog.Error("dispatch: decode pipeline event failed", "error", err)
				continue
			}
			payload, err := encodePayload(PipelineInsertedPayload{
				ID:           p.ID,
				JobID:        p.JobID,
				Status:       string(p.Status),
				Number:       p.Number,
				RegisterDate: p.RegisterDate.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
			if err != nil {
				slog.Error("dispatch: encode payload failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(ctx, Message{Type: TypeData, Payload: payload}); err != nil {
				return err
			}
		}
	}
}

func writeError(ctx context.Context, conn Conn, message string) error {
	payload, _ := encodePayload(map[string]string{"message": message})
	return conn.WriteMessage(ctx, Message{Type: TypeError, Payload: payload})
}

func decodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
