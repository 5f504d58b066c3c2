package api

import (
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// defaultAgentTTL is used when a register/heartbeat call omits ttl_seconds.
const defaultAgentTTL = 180 * time.Second

func (s *Server) registerAgentHandlers(agentsMax int) {
	s.routes.register("agents", "register", s.agentsRegisterFunc(agentsMax))
	s.routes.register("agents", "heartbeat", s.agentsHeartbeat)
	s.routes.register("agents", "unregister", s.agentsUnregister)
	s.routes.register("agents", "list", s.agentsList)
	s.routes.register("agents", "get", s.agentsGet)
}

func (s *Server) agentsRegisterFunc(agentsMax int) handlerFunc {
	return func(rc *requestContext) (any, error) {
		id, err := argID(rc.args)
		if err != nil {
			return nil, err
		}

		existing, err := storage.GetAll[domain.Agent](rc.ctx, s.store, storage.IndexAgents, nil, nil)
		if err != nil {
			return nil, apierrors.StorageErrorf("count agents: %s", err.Error())
		}
		if agentsMax > 0 && len(existing) >= agentsMax {
			return nil, apierrors.AsyncGraphqlErrorf("agent fleet is at capacity (%d)", agentsMax)
		}

		ttl := ttlFromArgs(rc.args)
		agent := domain.Agent{ID: id, Expiry: time.Now().Add(ttl).Unix()}
		if _, err := storage.Create(rc.ctx, s.store, storage.IndexAgents, agent); err != nil {
			return nil, apierrors.StorageErrorf("register agent: %s", err.Error())
		}
		return agent, nil
	}
}

func (s *Server) agentsHeartbeat(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	ttl := ttlFromArgs(rc.args)
	agent, err := storage.GetOne[domain.Agent](rc.ctx, s.store, storage.IndexAgents, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "agent")
	}
	agent.Expiry = time.Now().Add(ttl).Unix()
	if _, err := storage.Update(rc.ctx, s.store, storage.IndexAgents, id, *agent); err != nil {
		return nil, apierrors.StorageErrorf("heartbeat agent: %s", err.Error())
	}
	return agent, nil
}

func (s *Server) agentsUnregister(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	n, err := s.store.DeleteOne(rc.ctx, storage.IndexAgents, idFilter(id))
	if err != nil {
		return nil, apierrors.StorageErrorf("unregister agent: %s", err.Error())
	}
	return map[string]any{"deleted": n}, nil
}

func (s *Server) agentsList(rc *requestContext) (any, error) {
	agents, err := storage.GetAll[domain.Agent](rc.ctx, s.store, storage.IndexAgents, nil, nil)
	if err != nil {
		return nil, apierrors.StorageErrorf("list agents: %s", err.Error())
	}
	return agents, nil
}

func (s *Server) agentsGet(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	agent, err := storage.GetOne[domain.Agent](rc.ctx, s.store, storage.IndexAgents, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "agent")
	}
	return agent, nil
}

func ttlFromArgs(args map[string]any) time.Duration {
	raw, ok := args["ttl_seconds"]
	if !ok {
		return defaultAgentTTL
	}
	seconds, ok := raw.(float64)
	if !ok || seconds <= 0 {
		return defaultAgentTTL
	}
	return time.Duration(seconds) * time.Second
}
