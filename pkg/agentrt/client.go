// Package agentrt implements the Agent Runtime (C8): the five cooperating
// tasks that claim, execute, and report on pipelines, plus the pipeline and
// stage execution engine.
package agentrt

import (
	"context"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
)

// ServerClient is the narrow remote contract an agent process needs against
// the server — the agent-side counterpart of the same operations
// pkg/pipelinesvc exposes in-process, reached here over the network. A
// production implementation drives this through the GraphQL-shaped HTTP API
// (pkg/api); the Runner tests substitute a fake that records UpdateStage
// calls, so stage execution is exercised without a server.
type ServerClient interface {
	Register(ctx context.Context, agentID string, ttl time.Duration) error
	Heartbeat(ctx context.Context, agentID string, ttl time.Duration) error
	Unregister(ctx context.Context, agentID string) error

	Assign(ctx context.Context, pipelineID, agentID string) error
	SetRunning(ctx context.Context, pipelineID, agentID string) error
	Finalize(ctx context.Context, pipelineID, agentID string, status domain.PipelineStatus) error
	UpdateStage(ctx context.Context, pipelineID, agentID, stageName, stageStatus string) error

	// OldestDefined returns the oldest (lowest number) pipeline with
	// status == Defined, or nil if none exist.
	OldestDefined(ctx context.Context) (*domain.Pipeline, error)
	// OldestAssignedTo returns the oldest pipeline assigned to agentID, or
	// nil if none exist.
	OldestAssignedTo(ctx context.Context, agentID string) (*domain.Pipeline, error)

	Job(ctx context.Context, jobID string) (*domain.Job, error)
	Project(ctx context.Context, projectID string) (*domain.Project, error)

	// Authenticate performs Basic login and returns a bearer token.
	Authenticate(ctx context.Context, username, password string) (string, error)
}
