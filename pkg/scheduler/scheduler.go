// Package scheduler implements the Agent Liveness & Scheduler Fleet (C7):
// three cooperating server tasks — periodic agent TTL and pipeline cleanup
// sweeps, and a change-stream-driven log drain — plus a one-time startup pass that resets
// pipelines orphaned by a previous process's abrupt exit.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	"github.com/codeready-toolchain/rustyops/pkg/pipelinesvc"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// Config carries the sweep intervals from spec §6's SCHEDULER_*
// environment variables plus the log drain's consumer-retry settings.
type Config struct {
	AgentsTTL         time.Duration
	PipelinesCleanup  time.Duration
	LogDrainRetryWait time.Duration
	LogDrainMaxRetry  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		AgentsTTL:         60 * time.Second,
		PipelinesCleanup:  60 * time.Second,
		LogDrainRetryWait: 500 * time.Millisecond,
		LogDrainMaxRetry:  10,
	}
}

func logQueueName(pipelineID string) string {
	return "pipeline-logs-" + pipelineID
}

// Fleet owns the three tasks and the startup orphan pass.
type Fleet struct {
	cfg    Config
	store  storage.Port
	broker messaging.Broker
	svc    *pipelinesvc.Service
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFleet constructs a Fleet. svc drives Reset; store and broker back the
// agent/pipeline queries and the log-drain queue consumption respectively.
func NewFleet(cfg Config, store storage.Port, broker messaging.Broker, svc *pipelinesvc.Service) *Fleet {
	return &Fleet{cfg: cfg, store: store, broker: broker, svc: svc}
}

// Start launches the three tasks as supervised goroutines, each
// with its own cancellation-observing loop, and runs the startup orphan
// pass synchronously before returning.
func (f *Fleet) Start(ctx context.Context) error {
	if err := f.ResetStartupOrphans(ctx); err != nil {
		return err
	}

	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(3)
	go func() { defer f.wg.Done(); f.runAgentTTLSweep(ctx) }()
	go func() { defer f.wg.Done(); f.runPipelineCleanupSweep(ctx) }()
	go func() { defer f.wg.Done(); f.runLogDrain(ctx) }()

	slog.Info("scheduler fleet started",
		"agents_ttl", f.cfg.AgentsTTL, "pipelines_cleanup", f.cfg.PipelinesCleanup)
	return nil
}

// Stop signals every task to exit and waits for them to finish.
func (f *Fleet) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.wg.Wait()
	slog.Info("scheduler fleet stopped")
}

// ResetStartupOrphans resets every Assigned/InProgress pipeline whose owning
// agent no longer exists back to Defined once at startup, covering the case where the previous
// server process crashed mid-sweep and left pipelines owned by agents that
// no longer exist, before the periodic cleanup sweep has had a chance to run.
func (f *Fleet) ResetStartupOrphans(ctx context.Context) error {
	return f.sweepOrphanedPipelines(ctx)
}

func (f *Fleet) runAgentTTLSweep(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.AgentsTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.sweepExpiredAgents(ctx); err != nil {
				slog.Error("agent ttl sweep failed", "error", err)
			}
		}
	}
}

func (f *Fleet) sweepExpiredAgents(ctx context.Context) error {
	agents, err := storage.GetAll[domain.Agent](ctx, f.store, storage.IndexAgents, nil, nil)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, agent := range agents {
		if agent.Expiry >= now {
			continue
		}
		if _, err := f.store.DeleteOne(ctx, storage.IndexAgents,
			queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: agent.ID}}); err != nil {
			slog.Error("delete expired agent failed", "agent_id", agent.ID, "error", err)
			continue
		}
		slog.Info("evicted expired agent", "agent_id", agent.ID)
	}
	return nil
}

func (f *Fleet) runPipelineCleanupSweep(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PipelinesCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.sweepOrphanedPipelines(ctx); err != nil {
				slog.Error("pipeline cleanup sweep failed", "error", err)
			}
		}
	}
}

func (f *Fleet) sweepOrphanedPipelines(ctx context.Context) error {
	live, err := storage.GetAll[domain.Pipeline](ctx, f.store, storage.IndexPipelines,
		queryfilter.Filter{"status": {Op: queryfilter.OneOf, Value: []any{
			string(domain.PipelineAssigned), string(domain.PipelineInProgress),
		}}}, nil)
	if err != nil {
		return err
	}

	for _, p := range live {
		if p.AgentID == nil {
			continue
		}
		_, err := storage.GetOne[domain.Agent](ctx, f.store, storage.IndexAgents,
			queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: *p.AgentID}})
		if err == nil {
			continue // agent still exists
		}
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("lookup owning agent failed", "pipeline_id", p.ID, "error", err)
			continue
		}
		if err := f.svc.Reset(ctx, p.ID); err != nil {
			slog.Error("reset orphaned pipeline failed", "pipeline_id", p.ID, "error", err)
			continue
		}
		slog.Info("reset orphaned pipeline", "pipeline_id", p.ID, "agent_id", *p.AgentID)
	}
	return nil
}

// runLogDrain subscribes to the pipeline change-stream; whenever a pipeline
// transitions to InProgress, it drains that pipeline's log queue into
// durable storage until the queue's "EOF" sentinel, then deletes the queue.
func (f *Fleet) runLogDrain(ctx context.Context) {
	events, unsubscribe, err := f.store.ChangeStream(ctx, storage.IndexPipelines)
	if err != nil {
		slog.Error("log drain: subscribe to pipeline change stream failed", "error", err)
		return
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Op != storage.ChangeCreate && event.Op != storage.ChangeUpdate {
				continue
			}
			p, err := storage.FromDocument[domain.Pipeline](event.Item)
			if err != nil {
				slog.Error("log drain: decode pipeline event failed", "error", err)
				continue
			}
			if p.Status != domain.PipelineInProgress {
				continue
			}
			go f.drainPipelineLogs(ctx, p.ID)
		}
	}
}

func (f *Fleet) drainPipelineLogs(ctx context.Context, pipelineID string) {
	queue := logQueueName(pipelineID)

	var consumer messaging.Consumer
	var err error
	for attempt := 0; attempt < f.cfg.LogDrainMaxRetry; attempt++ {
		consumer, err = f.broker.GetConsumer(ctx, queue)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.LogDrainRetryWait):
		}
	}
	if err != nil {
		slog.Error("log drain: acquire consumer failed", "pipeline_id", pipelineID, "queue", queue, "error", err)
		return
	}
	defer consumer.Close()

	for {
		message, ok, err := consumer.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("log drain: consume failed", "pipeline_id", pipelineID, "error", err)
			}
			return
		}
		if !ok {
			return
		}
		if string(message) == messaging.EOF {
			break
		}
		var entry domain.PipelineLogEntry
		if err := json.Unmarshal(message, &entry); err != nil {
			slog.Error("log drain: decode log line failed", "pipeline_id", pipelineID, "error", err)
			continue
		}
		if err := f.store.Append(ctx, storage.IndexPipelineLogs, pipelineID, entry); err != nil {
			slog.Error("log drain: append failed", "pipeline_id", pipelineID, "error", err)
			continue
		}
	}

	if err := f.broker.DeleteQueue(ctx, queue); err != nil {
		slog.Error("log drain: delete queue failed", "queue", queue, "error", err)
	}
}
