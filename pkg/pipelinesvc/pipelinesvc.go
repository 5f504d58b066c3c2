// Package pipelinesvc implements the Pipeline Service (C6): the lifecycle
// state machine, assignment policy, and concurrency cap enforcement that
// governs how a Pipeline moves from Defined through to a terminal status.
package pipelinesvc

import (
	"context"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/codeready-toolchain/rustyops/pkg/template"
)

// DefaultMaxAssignedJobs is the default per-agent concurrent in-flight cap
// (AGENT_MAX_ASSIGNED_JOBS), overridable by Service.WithMaxAssignedJobs.
const DefaultMaxAssignedJobs = 1

// conditionalStore is implemented by storage backends that can perform an
// atomic compare-and-set update. Both pkg/storage/memory and
// pkg/storage/postgres implement it; a backend that doesn't falls back to a
// non-atomic read-then-write, accepting the overshoot the source's naive
// check already admits (spec §9, option (c)).
type conditionalStore interface {
	UpdateConditional(ctx context.Context, index storage.Index, id string, where queryfilter.Filter, item storage.Document) (bool, error)
}

// Service implements the pipeline lifecycle state machine over a Storage
// Port.
type Service struct {
	store           storage.Port
	maxAssignedJobs int
}

// NewService constructs a Service with the default concurrency cap.
func NewService(store storage.Port) *Service {
	return &Service{store: store, maxAssignedJobs: DefaultMaxAssignedJobs}
}

// WithMaxAssignedJobs overrides the per-agent concurrency cap (from
// AGENT_MAX_ASSIGNED_JOBS).
func (s *Service) WithMaxAssignedJobs(n int) *Service {
	s.maxAssignedJobs = n
	return s
}

func (s *Service) byID(ctx context.Context, id string) (*domain.Pipeline, error) {
	return storage.GetOne[domain.Pipeline](ctx, s.store, storage.IndexPipelines,
		queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: id}})
}

// casUpdate performs the compare-and-set guard every conditional transition
// needs: succeed only if the pipeline still matches `where` at write time.
func (s *Service) casUpdate(ctx context.Context, id string, where queryfilter.Filter, next domain.Pipeline) (bool, error) {
	doc, err := storage.ToDocument(next)
	if err != nil {
		return false, err
	}
	if cas, ok := s.store.(conditionalStore); ok {
		return cas.UpdateConditional(ctx, storage.IndexPipelines, id, where, doc)
	}

	current, err := s.byID(ctx, id)
	if err != nil {
		return false, err
	}
	currentDoc, err := storage.ToDocument(*current)
	if err != nil {
		return false, err
	}
	if !queryfilter.Match(where, currentDoc) {
		return false, nil
	}
	if _, err := s.store.Update(ctx, storage.IndexPipelines, id, doc); err != nil {
		return false, err
	}
	return true, nil
}

// Create registers a new Pipeline against job, validating its template via
// pkg/template and computing the next monotonic `number` for the job.
func (s *Service) Create(ctx context.Context, job domain.Job, branch string) (*domain.Pipeline, error) {
	tpl, err := template.Parse(job.Template)
	if err != nil {
		if ve, ok := err.(*template.ValidationError); ok {
			return nil, apierrors.NewValidation(ve.Msgs, nil)
		}
		return nil, apierrors.Newf(apierrors.KindSerialization, "parse template: %v", err)
	}
	if _, err := tpl.Layers(); err != nil {
		return nil, apierrors.Newf(apierrors.KindValidation, "template dependency graph: %v", err)
	}

	existing, err := storage.GetAll[domain.Pipeline](ctx, s.store, storage.IndexPipelines,
		queryfilter.Filter{"job_id": {Op: queryfilter.Equals, Value: job.ID}}, nil)
	if err != nil {
		return nil, err
	}

	p := domain.Pipeline{
		Number:       len(existing) + 1,
		Branch:       branch,
		RegisterDate: time.Now().UTC(),
		Status:       domain.PipelineDefined,
		StageStatus:  map[string]string{},
		JobID:        job.ID,
	}

	id, err := storage.Create(ctx, s.store, storage.IndexPipelines, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

// Assign transitions a Defined, unowned pipeline to Assigned for agentID,
// then enforces the per-agent concurrency cap — if the cap is exceeded the
// assignment is rolled back by resetting the pipeline back to Defined.
func (s *Service) Assign(ctx context.Context, pipelineID, agentID string) error {
	where := queryfilter.Filter{
		"status":   {Op: queryfilter.Equals, Value: string(domain.PipelineDefined)},
		"agent_id": {Op: queryfilter.Equals, Value: nil},
	}

	current, err := s.byID(ctx, pipelineID)
	if err != nil {
		return err
	}
	next := *current
	next.Status = domain.PipelineAssigned
	next.AgentID = &agentID

	ok, err := s.casUpdate(ctx, pipelineID, where, next)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.AsyncGraphqlErrorf("assign %s: not Defined or already owned", pipelineID)
	}

	assigned, err := storage.GetAll[domain.Pipeline](ctx, s.store, storage.IndexPipelines,
		queryfilter.Filter{
			"status":   {Op: queryfilter.Equals, Value: string(domain.PipelineAssigned)},
			"agent_id": {Op: queryfilter.Equals, Value: agentID},
		}, nil)
	if err != nil {
		return err
	}
	if len(assigned) > s.maxAssignedJobs {
		// Cap exceeded: roll the assignment back. The read-check-write here
		// still races against another assign for the same agent (the cap
		// is advisory per spec §9), but rolling back keeps the overshoot
		// bounded rather than silently accepted.
		_ = s.Reset(ctx, pipelineID)
		return apierrors.AsyncGraphqlErrorf("assign %s: agent %s exceeds max assigned jobs", pipelineID, agentID)
	}
	return nil
}

// SetRunning transitions an Assigned pipeline owned by agentID to
// InProgress, stamping start_date.
func (s *Service) SetRunning(ctx context.Context, pipelineID, agentID string) error {
	current, err := s.byID(ctx, pipelineID)
	if err != nil {
		return err
	}
	if current.Status != domain.PipelineAssigned || current.AgentID == nil || *current.AgentID != agentID {
		return apierrors.AsyncGraphqlErrorf("set_running %s: not Assigned to %s", pipelineID, agentID)
	}

	where := queryfilter.Filter{
		"status":   {Op: queryfilter.Equals, Value: string(domain.PipelineAssigned)},
		"agent_id": {Op: queryfilter.Equals, Value: agentID},
	}
	now := time.Now().UTC()
	next := *current
	next.Status = domain.PipelineInProgress
	next.StartDate = &now

	ok, err := s.casUpdate(ctx, pipelineID, where, next)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.AsyncGraphqlErrorf("set_running %s: not Assigned to %s", pipelineID, agentID)
	}
	return nil
}

// Finalize transitions an InProgress pipeline owned by agentID to a terminal
// status, stamping end_date.
func (s *Service) Finalize(ctx context.Context, pipelineID, agentID string, status domain.PipelineStatus) error {
	if !status.Terminal() {
		return apierrors.Newf(apierrors.KindRequest, "finalize %s: %s is not a terminal status", pipelineID, status)
	}

	current, err := s.byID(ctx, pipelineID)
	if err != nil {
		return err
	}
	if current.Status != domain.PipelineInProgress || current.AgentID == nil || *current.AgentID != agentID {
		return apierrors.AsyncGraphqlErrorf("finalize %s: not InProgress under %s", pipelineID, agentID)
	}

	where := queryfilter.Filter{
		"status":   {Op: queryfilter.Equals, Value: string(domain.PipelineInProgress)},
		"agent_id": {Op: queryfilter.Equals, Value: agentID},
	}
	now := time.Now().UTC()
	next := *current
	next.Status = status
	next.EndDate = &now

	ok, err := s.casUpdate(ctx, pipelineID, where, next)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.AsyncGraphqlErrorf("finalize %s: not InProgress under %s", pipelineID, agentID)
	}
	return nil
}

// Reset unconditionally returns a non-terminal, non-Defined pipeline to
// Defined, clearing agent_id and start_date — used by the cleanup sweep
// (C7) when an owning agent has vanished, and by Assign's own rollback.
func (s *Service) Reset(ctx context.Context, pipelineID string) error {
	current, err := s.byID(ctx, pipelineID)
	if err != nil {
		return err
	}
	if current.Status == domain.PipelineDefined || current.Status.Terminal() {
		return nil
	}

	next := *current
	next.Status = domain.PipelineDefined
	next.AgentID = nil
	next.StartDate = nil

	doc, err := storage.ToDocument(next)
	if err != nil {
		return err
	}
	_, err = s.store.Update(ctx, storage.IndexPipelines, pipelineID, doc)
	return err
}

// UpdateStage records the status of a single stage on a pipeline owned by
// agentID. This is a free, purely informational transition: it does not
// participate in the pipeline's own status machine.
func (s *Service) UpdateStage(ctx context.Context, pipelineID, agentID, stageName, stageStatus string) error {
	current, err := s.byID(ctx, pipelineID)
	if err != nil {
		return err
	}
	if current.AgentID == nil || *current.AgentID != agentID {
		return apierrors.AsyncGraphqlErrorf("update_stage %s: not owned by %s", pipelineID, agentID)
	}

	next := *current
	if next.StageStatus == nil {
		next.StageStatus = map[string]string{}
	}
	next.StageStatus[stageName] = stageStatus

	doc, err := storage.ToDocument(next)
	if err != nil {
		return err
	}
	_, err = s.store.Update(ctx, storage.IndexPipelines, pipelineID, doc)
	return err
}
