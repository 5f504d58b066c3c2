package api

import (
	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

func (s *Server) registerPipelineHandlers() {
	s.routes.register("pipelines", "create", s.pipelinesCreate)
	s.routes.register("pipelines", "list", s.pipelinesList)
	s.routes.register("pipelines", "get", s.pipelinesGet)
	s.routes.register("pipelines", "logs", s.pipelinesLogs)
	s.routes.register("pipelines", "assign", s.pipelinesAssign)
	s.routes.register("pipelines", "setRunning", s.pipelinesSetRunning)
	s.routes.register("pipelines", "finalize", s.pipelinesFinalize)
	s.routes.register("pipelines", "updateStage", s.pipelinesUpdateStage)
	s.routes.register("pipelines", "reset", s.pipelinesReset)
	s.routes.register("pipelines", "oldestDefined", s.pipelinesOldestDefined)
	s.routes.register("pipelines", "oldestAssignedTo", s.pipelinesOldestAssignedTo)
}

// oldestByNumber returns the single oldest (lowest number) record matching
// filter, or nil if none match — used by the agent polling loop via
// oldestDefined/oldestAssignedTo.
func oldestByNumber(rc *requestContext, s *Server, filter queryfilter.Filter) (*domain.Pipeline, error) {
	opts := queryfilter.SearchOptions{PageNumber: 1, PageSize: 1, SortField: "number", SortMode: queryfilter.Ascending}
	pipelines, err := storage.GetAll[domain.Pipeline](rc.ctx, s.store, storage.IndexPipelines, filter, &opts)
	if err != nil {
		return nil, apierrors.StorageErrorf("query pipelines: %s", err.Error())
	}
	if len(pipelines) == 0 {
		return nil, nil
	}
	return &pipelines[0], nil
}

func (s *Server) pipelinesOldestDefined(rc *requestContext) (any, error) {
	filter := queryfilter.Filter{"status": {Op: queryfilter.Equals, Value: string(domain.PipelineDefined)}}
	return oldestByNumber(rc, s, filter)
}

func (s *Server) pipelinesOldestAssignedTo(rc *requestContext) (any, error) {
	agentID, err := argString(rc.args, "agent_id")
	if err != nil {
		return nil, err
	}
	filter := queryfilter.Filter{
		"status":   {Op: queryfilter.Equals, Value: string(domain.PipelineAssigned)},
		"agent_id": {Op: queryfilter.Equals, Value: agentID},
	}
	return oldestByNumber(rc, s, filter)
}

func (s *Server) pipelinesCreate(rc *requestContext) (any, error) {
	jobID, err := argString(rc.args, "job_id")
	if err != nil {
		return nil, err
	}
	branch := argOptString(rc.args, "branch")

	job, err := storage.GetOne[domain.Job](rc.ctx, s.store, storage.IndexJobs, idFilter(jobID))
	if err != nil {
		return nil, notFoundAsRequest(err, "job")
	}
	pipeline, err := s.pipelines.Create(rc.ctx, *job, branch)
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (s *Server) pipelinesList(rc *requestContext) (any, error) {
	pipelines, err := storage.GetAll[domain.Pipeline](rc.ctx, s.store, storage.IndexPipelines, nil, nil)
	if err != nil {
		return nil, apierrors.StorageErrorf("list pipelines: %s", err.Error())
	}
	return pipelines, nil
}

func (s *Server) pipelinesGet(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	pipeline, err := storage.GetOne[domain.Pipeline](rc.ctx, s.store, storage.IndexPipelines, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "pipeline")
	}
	return pipeline, nil
}

func (s *Server) pipelinesLogs(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	log, err := storage.GetOne[domain.PipelineLog](rc.ctx, s.store, storage.IndexPipelineLogs, idFilter(id))
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.PipelineLog{ID: id}, nil
		}
		return nil, apierrors.StorageErrorf("get pipeline logs: %s", err.Error())
	}
	return log, nil
}

func (s *Server) pipelinesAssign(rc *requestContext) (any, error) {
	id, err := argString(rc.args, "id")
	if err != nil {
		return nil, err
	}
	agentID, err := argString(rc.args, "agent_id")
	if err != nil {
		return nil, err
	}
	if err := s.pipelines.Assign(rc.ctx, id, agentID); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "status": string(domain.PipelineAssigned)}, nil
}

func (s *Server) pipelinesSetRunning(rc *requestContext) (any, error) {
	id, err := argString(rc.args, "id")
	if err != nil {
		return nil, err
	}
	agentID, err := argString(rc.args, "agent_id")
	if err != nil {
		return nil, err
	}
	if err := s.pipelines.SetRunning(rc.ctx, id, agentID); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "status": string(domain.PipelineInProgress)}, nil
}

func (s *Server) pipelinesFinalize(rc *requestContext) (any, error) {
	id, err := argString(rc.args, "id")
	if err != nil {
		return nil, err
	}
	agentID, err := argString(rc.args, "agent_id")
	if err != nil {
		return nil, err
	}
	status, err := argString(rc.args, "status")
	if err != nil {
		return nil, err
	}
	if err := s.pipelines.Finalize(rc.ctx, id, agentID, domain.PipelineStatus(status)); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "status": status}, nil
}

func (s *Server) pipelinesUpdateStage(rc *requestContext) (any, error) {
	id, err := argString(rc.args, "id")
	if err != nil {
		return nil, err
	}
	agentID, err := argString(rc.args, "agent_id")
	if err != nil {
		return nil, err
	}
	stageName, err := argString(rc.args, "stage_name")
	if err != nil {
		return nil, err
	}
	stageStatus, err := argString(rc.args, "stage_status")
	if err != nil {
		return nil, err
	}
	if err := s.pipelines.UpdateStage(rc.ctx, id, agentID, stageName, stageStatus); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "stage_name": stageName, "stage_status": stageStatus}, nil
}

func (s *Server) pipelinesReset(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	if err := s.pipelines.Reset(rc.ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "status": string(domain.PipelineDefined)}, nil
}
