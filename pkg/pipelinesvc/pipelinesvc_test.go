package pipelinesvc

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage/memory"
	"github.com/codeready-toolchain/rustyops/pkg/template"
	"github.com/stretchr/testify/require"
)

const sampleTemplateYAML = `
stages:
  build:
    script: ["make build"]
  test:
    script: ["make test"]
    depends_on: ["build"]
`

func newJob(t *testing.T) domain.Job {
	t.Helper()
	return domain.Job{ID: "job-1", Template: template.EncodeBase64URL([]byte(sampleTemplateYAML))}
}

func TestCreate_ComputesMonotonicNumber(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	job := newJob(t)

	p1, err := svc.Create(context.Background(), job, "main")
	require.NoError(t, err)
	require.Equal(t, 1, p1.Number)
	require.Equal(t, domain.PipelineDefined, p1.Status)

	p2, err := svc.Create(context.Background(), job, "main")
	require.NoError(t, err)
	require.Equal(t, 2, p2.Number)
}

func TestCreate_InvalidTemplateReturnsValidationError(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	job := domain.Job{ID: "job-bad", Template: template.EncodeBase64URL([]byte("stages: {}"))}

	_, err := svc.Create(context.Background(), job, "main")
	require.Error(t, err)
}

func newDefinedPipeline(t *testing.T, svc *Service) *domain.Pipeline {
	t.Helper()
	p, err := svc.Create(context.Background(), newJob(t), "main")
	require.NoError(t, err)
	return p
}

func TestAssign_SucceedsFromDefined(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)

	err := svc.Assign(context.Background(), p.ID, "agent-1")
	require.NoError(t, err)

	got, err := svc.byID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineAssigned, got.Status)
	require.Equal(t, "agent-1", *got.AgentID)
}

func TestAssign_FailsWhenAlreadyAssigned(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)

	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))
	err := svc.Assign(context.Background(), p.ID, "agent-2")
	require.Error(t, err)
}

func TestAssign_EnforcesConcurrencyCap(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store).WithMaxAssignedJobs(1)

	p1 := newDefinedPipeline(t, svc)
	p2 := newDefinedPipeline(t, svc)

	require.NoError(t, svc.Assign(context.Background(), p1.ID, "agent-1"))
	err := svc.Assign(context.Background(), p2.ID, "agent-1")
	require.Error(t, err)

	// rolled back to Defined, not left dangling in Assigned
	got, err := svc.byID(context.Background(), p2.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineDefined, got.Status)
}

func TestSetRunning_RequiresOwningAgent(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)
	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))

	err := svc.SetRunning(context.Background(), p.ID, "agent-2")
	require.Error(t, err)

	require.NoError(t, svc.SetRunning(context.Background(), p.ID, "agent-1"))
	got, err := svc.byID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineInProgress, got.Status)
	require.NotNil(t, got.StartDate)
}

func TestFinalize_RequiresInProgressAndOwningAgent(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)
	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))
	require.NoError(t, svc.SetRunning(context.Background(), p.ID, "agent-1"))

	err := svc.Finalize(context.Background(), p.ID, "agent-2", domain.PipelineSuccess)
	require.Error(t, err)

	require.NoError(t, svc.Finalize(context.Background(), p.ID, "agent-1", domain.PipelineSuccess))
	got, err := svc.byID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineSuccess, got.Status)
	require.NotNil(t, got.EndDate)
}

func TestReset_ClearsAgentAndReturnsToDefined(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)
	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))

	require.NoError(t, svc.Reset(context.Background(), p.ID))

	got, err := svc.byID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineDefined, got.Status)
	require.Nil(t, got.AgentID)
}

func TestReset_NoOpOnTerminalStatus(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)
	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))
	require.NoError(t, svc.SetRunning(context.Background(), p.ID, "agent-1"))
	require.NoError(t, svc.Finalize(context.Background(), p.ID, "agent-1", domain.PipelineSuccess))

	require.NoError(t, svc.Reset(context.Background(), p.ID))

	got, err := svc.byID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineSuccess, got.Status)
}

func TestUpdateStage_RecordsStatusForOwningAgent(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)
	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))

	require.NoError(t, svc.UpdateStage(context.Background(), p.ID, "agent-1", "build", "Success"))

	got, err := svc.byID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, "Success", got.StageStatus["build"])
}

func TestUpdateStage_RejectsNonOwningAgent(t *testing.T) {
	store := memory.New(nil)
	svc := NewService(store)
	p := newDefinedPipeline(t, svc)
	require.NoError(t, svc.Assign(context.Background(), p.ID, "agent-1"))

	err := svc.UpdateStage(context.Background(), p.ID, "agent-2", "build", "Success")
	require.Error(t, err)
}
