// RustyOps agent - claims and executes pipelines dispatched by the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/rustyops/pkg/agentrt"
	"github.com/codeready-toolchain/rustyops/pkg/config"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	"github.com/codeready-toolchain/rustyops/pkg/messaging/memory"
	natsbroker "github.com/codeready-toolchain/rustyops/pkg/messaging/nats"
	"github.com/codeready-toolchain/rustyops/pkg/version"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."), "directory holding an optional .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env file loaded from %s: %v", envPath, err)
	}

	cfg, err := config.LoadAgentConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load agent configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, closeBroker, err := openBroker(cfg)
	if err != nil {
		log.Fatalf("failed to open messaging backend: %v", err)
	}
	defer closeBroker()

	client := agentrt.NewHTTPClient(cfg.ServerBaseURL())

	wsScheme := "ws"
	if cfg.ServerProtocol == "https" {
		wsScheme = "wss"
	}

	agentID := uuid.NewString()
	agent := agentrt.New(agentID, agentrt.Config{
		Username:               cfg.Username,
		Password:               cfg.Password,
		UnassignedPollInterval: cfg.Scheduler.GetUnassigned,
		AssignedPullInterval:   cfg.Scheduler.GetAssigned,
		HeartbeatInterval:      cfg.Scheduler.Healthcheck,
		AgentTTL:               3 * cfg.Scheduler.Healthcheck,
		WorkdirRoot:            fmt.Sprintf("/tmp/rustyops-agent-%s", agentID),
		DispatchURL:            fmt.Sprintf("%s://%s:%d/ws", wsScheme, cfg.ServerHost, cfg.ServerPort),
	}, client, broker)

	slog.Info("starting "+version.Full(), "agent_id", agentID, "server", cfg.ServerBaseURL())

	if err := agent.Start(ctx); err != nil {
		log.Fatalf("failed to start agent: %v", err)
	}

	<-ctx.Done()
	slog.Info("shutting down agent", "agent_id", agentID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	agent.Stop(shutdownCtx)
}

func openBroker(cfg *config.AgentConfig) (messaging.Broker, func(), error) {
	switch cfg.Messaging {
	case "nats":
		broker, err := natsbroker.Dial(cfg.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		return broker, func() { _ = broker.Close() }, nil
	case "memory":
		broker := memory.New()
		return broker, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported RUSTY_MESSAGING value %q", cfg.Messaging)
	}
}
