package api

import (
	"github.com/google/uuid"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// registerUserHandlers wires the `users` and `project_groups` top-level
// groups — the latter shares this file since Group is a small, closely
// related entity with no operations of its own beyond CRUD.
func (s *Server) registerUserHandlers() {
	s.routes.register("users", "list", s.usersList)
	s.routes.register("users", "get", s.usersGet)
	s.routes.register("users", "delete", s.usersDelete)

	s.routes.register("project_groups", "create", s.groupsCreate)
	s.routes.register("project_groups", "list", s.groupsList)
	s.routes.register("project_groups", "get", s.groupsGet)
	s.routes.register("project_groups", "delete", s.groupsDelete)
}

func (s *Server) usersList(rc *requestContext) (any, error) {
	users, err := storage.GetAll[domain.User](rc.ctx, s.store, storage.IndexUsers, nil, nil)
	if err != nil {
		return nil, apierrors.StorageErrorf("list users: %s", err.Error())
	}
	return users, nil
}

func (s *Server) usersGet(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	user, err := storage.GetOne[domain.User](rc.ctx, s.store, storage.IndexUsers, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "user")
	}
	return user, nil
}

func (s *Server) usersDelete(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	n, err := s.store.DeleteOne(rc.ctx, storage.IndexUsers, idFilter(id))
	if err != nil {
		return nil, apierrors.StorageErrorf("delete user: %s", err.Error())
	}
	return map[string]any{"deleted": n}, nil
}

func (s *Server) groupsCreate(rc *requestContext) (any, error) {
	name, err := argString(rc.args, "name")
	if err != nil {
		return nil, err
	}
	group := domain.Group{ID: uuid.NewString(), Name: name}
	id, err := storage.Create(rc.ctx, s.store, storage.IndexGroups, group)
	if err != nil {
		return nil, apierrors.StorageErrorf("create group: %s", err.Error())
	}
	return map[string]any{"id": id}, nil
}

func (s *Server) groupsList(rc *requestContext) (any, error) {
	groups, err := storage.GetAll[domain.Group](rc.ctx, s.store, storage.IndexGroups, nil, nil)
	if err != nil {
		return nil, apierrors.StorageErrorf("list groups: %s", err.Error())
	}
	return groups, nil
}

func (s *Server) groupsGet(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	group, err := storage.GetOne[domain.Group](rc.ctx, s.store, storage.IndexGroups, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "group")
	}
	return group, nil
}

func (s *Server) groupsDelete(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	n, err := s.store.DeleteOne(rc.ctx, storage.IndexGroups, idFilter(id))
	if err != nil {
		return nil, apierrors.StorageErrorf("delete group: %s", err.Error())
	}
	return map[string]any{"deleted": n}, nil
}
