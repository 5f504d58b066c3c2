package agentrt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/dispatch"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
)

// Config carries the agent-side periodic-task intervals and credentials
// from spec §6's environment variables.
type Config struct {
	Username string
	Password string

	UnassignedPollInterval time.Duration
	AssignedPullInterval   time.Duration
	HeartbeatInterval      time.Duration
	AgentTTL               time.Duration

	WorkdirRoot string
	DispatchURL string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		UnassignedPollInterval: 300 * time.Second,
		AssignedPullInterval:   300 * time.Second,
		HeartbeatInterval:      180 * time.Second,
		AgentTTL:               540 * time.Second,
		WorkdirRoot:            "/tmp/rustyops-agent",
	}
}

// Agent owns the five cooperating tasks described in spec §4.8, all
// initiated from a single generated identity.
type Agent struct {
	id     string
	cfg    Config
	client ServerClient
	broker messaging.Broker
	runner *Runner

	tokenMu sync.RWMutex
	token   string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Agent with the identity id supplied by the caller.
func New(id string, cfg Config, client ServerClient, broker messaging.Broker) *Agent {
	return &Agent{id: id, cfg: cfg, client: client, broker: broker, runner: NewRunner(cfg.WorkdirRoot)}
}

func (a *Agent) authHeader() string {
	a.tokenMu.RLock()
	defer a.tokenMu.RUnlock()
	if a.token == "" {
		return ""
	}
	return "Bearer " + a.token
}

// Start registers the agent and launches all five tasks. It blocks only
// long enough to perform initial registration and token acquisition.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.client.Register(ctx, a.id, a.cfg.AgentTTL); err != nil {
		return err
	}

	token, err := a.client.Authenticate(ctx, a.cfg.Username, a.cfg.Password)
	if err != nil {
		return err
	}
	a.tokenMu.Lock()
	a.token = token
	a.tokenMu.Unlock()

	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(4)
	go func() { defer a.wg.Done(); a.runHeartbeat(ctx) }()
	go func() { defer a.wg.Done(); a.runUnassignedPoll(ctx) }()
	go func() { defer a.wg.Done(); a.runAssignedPull(ctx) }()
	go func() { defer a.wg.Done(); a.runTokenRenewal(ctx) }()

	if a.cfg.DispatchURL != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			dispatch.NewClient(a.cfg.DispatchURL, a.authHeader, a.onPipelineInserted).Subscribe(ctx)
		}()
	}

	slog.Info("agent started", "agent_id", a.id)
	return nil
}

// Stop cancels every task, waits for them to finish, and unregisters.
func (a *Agent) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
	if err := a.client.Unregister(ctx, a.id); err != nil {
		slog.Error("agent unregister failed", "agent_id", a.id, "error", err)
	}
	slog.Info("agent stopped", "agent_id", a.id)
}

func (a *Agent) onPipelineInserted(p dispatch.PipelineInsertedPayload) {
	if err := a.client.Assign(context.Background(), p.ID, a.id); err != nil {
		slog.Debug("assign from dispatch push failed", "pipeline_id", p.ID, "error", err)
	}
}

func (a *Agent) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.Heartbeat(ctx, a.id, a.cfg.AgentTTL); err != nil {
				slog.Error("heartbeat failed", "agent_id", a.id, "error", err)
			}
		}
	}
}

func (a *Agent) runUnassignedPoll(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.UnassignedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := a.client.OldestDefined(ctx)
			if err != nil {
				slog.Error("unassigned poll failed", "agent_id", a.id, "error", err)
				continue
			}
			if p == nil {
				continue
			}
			if err := a.client.Assign(ctx, p.ID, a.id); err != nil {
				slog.Debug("unassigned poll assign lost race", "pipeline_id", p.ID, "error", err)
			}
		}
	}
}

func (a *Agent) runAssignedPull(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AssignedPullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pullAndExecute(ctx)
		}
	}
}

func (a *Agent) pullAndExecute(ctx context.Context) {
	p, err := a.client.OldestAssignedTo(ctx, a.id)
	if err != nil {
		slog.Error("assigned pull failed", "agent_id", a.id, "error", err)
		return
	}
	if p == nil {
		return
	}
	if err := a.client.SetRunning(ctx, p.ID, a.id); err != nil {
		slog.Error("set_running failed", "pipeline_id", p.ID, "agent_id", a.id, "error", err)
		return
	}

	job, err := a.client.Job(ctx, p.JobID)
	if err != nil {
		slog.Error("load job failed", "pipeline_id", p.ID, "error", err)
		_ = a.client.Finalize(ctx, p.ID, a.id, domain.PipelineFailure)
		return
	}
	project, err := a.client.Project(ctx, job.ProjectID)
	if err != nil {
		slog.Error("load project failed", "pipeline_id", p.ID, "error", err)
		_ = a.client.Finalize(ctx, p.ID, a.id, domain.PipelineFailure)
		return
	}

	result := a.runner.Execute(ctx, ExecutionInput{
		Pipeline: *p,
		Job:      *job,
		Project:  *project,
		Client:   a.client,
		Broker:   a.broker,
		AgentID:  a.id,
	})

	status := domain.PipelineSuccess
	if !result.Success {
		status = domain.PipelineFailure
	}
	if err := a.client.Finalize(ctx, p.ID, a.id, status); err != nil {
		slog.Error("finalize failed", "pipeline_id", p.ID, "error", err)
	}
}

func (a *Agent) runTokenRenewal(ctx context.Context) {
	for {
		ttl := 0.9 * float64(renewalAssumedTokenTTL)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(ttl)):
		}
		token, err := a.client.Authenticate(ctx, a.cfg.Username, a.cfg.Password)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("token renewal failed, will retry", "agent_id", a.id, "error", err, "retry_in", tokenRenewalRetryWait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(tokenRenewalRetryWait):
			}
			continue
		}
		a.tokenMu.Lock()
		a.token = token
		a.tokenMu.Unlock()
	}
}

// renewalAssumedTokenTTL mirrors auth.TokenTTL; kept as a local constant so
// this package doesn't need to import pkg/auth for a single duration.
const renewalAssumedTokenTTL = 24 * time.Hour

// tokenRenewalRetryWait is the wait before retrying a failed renewal.
const tokenRenewalRetryWait = 30 * time.Second
