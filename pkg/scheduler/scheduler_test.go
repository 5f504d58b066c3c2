package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	memorybroker "github.com/codeready-toolchain/rustyops/pkg/messaging/memory"
	"github.com/codeready-toolchain/rustyops/pkg/pipelinesvc"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/codeready-toolchain/rustyops/pkg/storage/memory"
	"github.com/codeready-toolchain/rustyops/pkg/template"
	"github.com/stretchr/testify/require"
)

const sampleTemplateYAML = `
stages:
  build:
    script: ["make build"]
`

func newFleet(t *testing.T) (*Fleet, storage.Port, messaging.Broker, *pipelinesvc.Service) {
	t.Helper()
	store := memory.New(nil)
	broker := memorybroker.New()
	svc := pipelinesvc.NewService(store)
	cfg := DefaultConfig()
	cfg.AgentsTTL = 20 * time.Millisecond
	cfg.PipelinesCleanup = 20 * time.Millisecond
	cfg.LogDrainRetryWait = 5 * time.Millisecond
	return NewFleet(cfg, store, broker, svc), store, broker, svc
}

func TestSweepExpiredAgents_DeletesPastExpiry(t *testing.T) {
	fleet, store, _, _ := newFleet(t)
	ctx := context.Background()

	_, err := storage.Create(ctx, store, storage.IndexAgents, domain.Agent{Expiry: time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)
	liveID, err := storage.Create(ctx, store, storage.IndexAgents, domain.Agent{Expiry: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	require.NoError(t, fleet.sweepExpiredAgents(ctx))

	agents, err := storage.GetAll[domain.Agent](ctx, store, storage.IndexAgents, nil, nil)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, liveID, agents[0].ID)
}

func queryFilterID(id string) queryfilter.Filter {
	return queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: id}}
}

func newJob(t *testing.T) domain.Job {
	t.Helper()
	return domain.Job{ID: "job-1", Template: template.EncodeBase64URL([]byte(sampleTemplateYAML))}
}

func TestSweepOrphanedPipelines_ResetsWhenOwningAgentMissing(t *testing.T) {
	fleet, store, _, svc := newFleet(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, newJob(t), "main")
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, p.ID, "ghost-agent"))

	require.NoError(t, fleet.sweepOrphanedPipelines(ctx))

	got, err := storage.GetOne[domain.Pipeline](ctx, store, storage.IndexPipelines,
		queryFilterID(p.ID))
	require.NoError(t, err)
	require.Equal(t, domain.PipelineDefined, got.Status)
	require.Nil(t, got.AgentID)
}

func TestSweepOrphanedPipelines_LeavesLiveAgentOwnedPipelineAlone(t *testing.T) {
	fleet, store, _, svc := newFleet(t)
	ctx := context.Background()

	agentID, err := storage.Create(ctx, store, storage.IndexAgents, domain.Agent{Expiry: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	p, err := svc.Create(ctx, newJob(t), "main")
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, p.ID, agentID))

	require.NoError(t, fleet.sweepOrphanedPipelines(ctx))

	got, err := storage.GetOne[domain.Pipeline](ctx, store, storage.IndexPipelines, queryFilterID(p.ID))
	require.NoError(t, err)
	require.Equal(t, domain.PipelineAssigned, got.Status)
}

func TestResetStartupOrphans_RunsCleanupPassOnce(t *testing.T) {
	fleet, store, _, svc := newFleet(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, newJob(t), "main")
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, p.ID, "ghost-agent"))

	require.NoError(t, fleet.ResetStartupOrphans(ctx))

	got, err := storage.GetOne[domain.Pipeline](ctx, store, storage.IndexPipelines, queryFilterID(p.ID))
	require.NoError(t, err)
	require.Equal(t, domain.PipelineDefined, got.Status)
}

func TestLogDrain_DrainsQueueIntoDurableLogOnInProgress(t *testing.T) {
	fleet, store, broker, svc := newFleet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, fleet.Start(ctx))
	defer fleet.Stop()

	p, err := svc.Create(ctx, newJob(t), "main")
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, p.ID, "agent-1"))
	require.NoError(t, svc.SetRunning(ctx, p.ID, "agent-1"))

	queue := logQueueName(p.ID)
	require.NoError(t, broker.Publish(ctx, queue, []byte(`{"stage":"build","line":"hello"}`)))
	require.NoError(t, broker.Publish(ctx, queue, []byte(messaging.EOF)))

	require.Eventually(t, func() bool {
		log, err := storage.GetOne[domain.PipelineLog](ctx, store, storage.IndexPipelineLogs, queryFilterID(p.ID))
		return err == nil && len(log.Entries) == 1 && log.Entries[0].Line == "hello"
	}, 2*time.Second, 10*time.Millisecond)
}
