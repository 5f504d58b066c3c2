package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/rustyops/pkg/auth"
	"github.com/codeready-toolchain/rustyops/pkg/dispatch"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	"github.com/codeready-toolchain/rustyops/pkg/pipelinesvc"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// Server is the GraphQL-shaped HTTP + WebSocket API server (spec §6).
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	store      storage.Port
	auth       *auth.Service
	pipelines  *pipelinesvc.Service
	broker     messaging.Broker
	dispatcher *dispatch.Handler

	routes dispatchTable
}

// Config carries the wiring NewServer needs plus the CORS origin from
// spec §6's environment table.
type Config struct {
	Store           storage.Port
	Auth            *auth.Service
	Pipelines       *pipelinesvc.Service
	Broker          messaging.Broker
	CORSAllowOrigin string
	AgentsMax       int
}

// NewServer wires a Server and registers every route.
func NewServer(cfg Config) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(cfg.CORSAllowOrigin))

	s := &Server{
		engine:     engine,
		store:      cfg.Store,
		auth:       cfg.Auth,
		pipelines:  cfg.Pipelines,
		broker:     cfg.Broker,
		dispatcher: dispatch.NewHandler(cfg.Store, cfg.Auth),
		routes:     make(dispatchTable),
	}

	s.registerAuthHandlers()
	s.registerUserHandlers()
	s.registerProjectHandlers()
	s.registerJobHandlers()
	s.registerPipelineHandlers()
	s.registerAgentHandlers(cfg.AgentsMax)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.POST("/graphql", s.handleGraphQL)
	s.engine.GET("/ws", s.wsHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// corsMiddleware mirrors the teacher's single-origin CORS policy
// (CORS_ALLOW_ORIGIN), hand-rolled rather than pulled from a CORS library
// since the teacher itself sets these headers directly in middleware.go.
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start runs the server on addr, blocking until it stops or errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener runs the server on a caller-supplied listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
