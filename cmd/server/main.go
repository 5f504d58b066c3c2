// RustyOps server - provides the GraphQL-shaped HTTP/WebSocket API, the
// pipeline state machine, and the scheduler fleet that keeps agents honest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/rustyops/pkg/api"
	"github.com/codeready-toolchain/rustyops/pkg/auth"
	"github.com/codeready-toolchain/rustyops/pkg/config"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	"github.com/codeready-toolchain/rustyops/pkg/messaging/memory"
	natsbroker "github.com/codeready-toolchain/rustyops/pkg/messaging/nats"
	"github.com/codeready-toolchain/rustyops/pkg/pipelinesvc"
	"github.com/codeready-toolchain/rustyops/pkg/scheduler"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	memstore "github.com/codeready-toolchain/rustyops/pkg/storage/memory"
	"github.com/codeready-toolchain/rustyops/pkg/storage/postgres"
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

	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load server configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open storage backend: %v", err)
	}
	defer closeStore()

	broker, closeBroker, err := openBroker(cfg)
	if err != nil {
		log.Fatalf("failed to open messaging backend: %v", err)
	}
	defer closeBroker()

	authSvc := auth.NewService(store)
	pipelineSvc := pipelinesvc.NewService(store).WithMaxAssignedJobs(cfg.AgentMaxAssignedJobs)

	fleet := scheduler.NewFleet(scheduler.Config{
		AgentsTTL:         cfg.Scheduler.AgentsTTL,
		PipelinesCleanup:  cfg.Scheduler.PipelinesCleanup,
		LogDrainRetryWait: 500 * time.Millisecond,
		LogDrainMaxRetry:  10,
	}, store, broker, pipelineSvc)
	if err := fleet.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler fleet: %v", err)
	}
	defer fleet.Stop()

	server := api.NewServer(api.Config{
		Store:           store,
		Auth:            authSvc,
		Pipelines:       pipelineSvc,
		Broker:          broker,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		AgentsMax:       cfg.AgentsRegisteredMax,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	slog.Info("starting "+version.Full(), "addr", addr, "persistence", cfg.Persistence, "messaging", cfg.Messaging)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		log.Fatalf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.ServerConfig) (storage.Port, func(), error) {
	switch cfg.Persistence {
	case "postgres":
		pgCfg, err := postgres.LoadConfigFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("load postgres config: %w", err)
		}
		store, err := postgres.NewStore(ctx, pgCfg, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "memory":
		store := memstore.New(nil)
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported RUSTY_PERSISTENCE value %q", cfg.Persistence)
	}
}

func openBroker(cfg *config.ServerConfig) (messaging.Broker, func(), error) {
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
