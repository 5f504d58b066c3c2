package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/rustyops/pkg/dispatch"
)

// wsHandler upgrades to WebSocket and hands the connection to the dispatch
// Handler (C9), which drives the connection_init/ack/start handshake and
// forwards pipelineInserted events for the lifetime of the connection.
func (s *Server) wsHandler(c *gin.Context) {
	wsc, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws accept failed", "error", err)
		return
	}
	conn := dispatch.NewConn(wsc)
	defer conn.Close()

	if err := s.dispatcher.Serve(c.Request.Context(), conn); err != nil {
		slog.Debug("dispatch connection closed", "error", err)
	}
}
