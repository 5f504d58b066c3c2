package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// wsConn adapts a *websocket.Conn to the Conn interface.
type wsConn struct {
	c *websocket.Conn
}

// NewConn wraps an already-established websocket connection.
func NewConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) ReadMessage(ctx context.Context) (Message, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("dispatch: read: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("dispatch: decode frame: %w", err)
	}
	return msg, nil
}

func (w *wsConn) WriteMessage(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dispatch: encode frame: %w", err)
	}
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("dispatch: write: %w", err)
	}
	return nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
