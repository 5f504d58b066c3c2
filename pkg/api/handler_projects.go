package api

import (
	"github.com/google/uuid"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// defaultMainBranch is the spec §3 default for Project.main_branch when a
// caller omits it.
const defaultMainBranch = "master"

func (s *Server) registerProjectHandlers() {
	s.routes.register("projects", "create", s.projectsCreate)
	s.routes.register("projects", "list", s.projectsList)
	s.routes.register("projects", "get", s.projectsGet)
	s.routes.register("projects", "update", s.projectsUpdate)
	s.routes.register("projects", "delete", s.projectsDelete)
}

type projectInput struct {
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	GroupID    *string `json:"group_id"`
	MainBranch string  `json:"main_branch"`
}

func (s *Server) projectsCreate(rc *requestContext) (any, error) {
	var in projectInput
	if err := decodeArgs(rc.args, &in); err != nil {
		return nil, err
	}
	if in.Name == "" || in.URL == "" {
		return nil, apierrors.NewValidation([]string{"name and url are required"}, nil)
	}
	if in.MainBranch == "" {
		in.MainBranch = defaultMainBranch
	}

	project := domain.Project{ID: uuid.NewString(), Name: in.Name, URL: in.URL, GroupID: in.GroupID, MainBranch: in.MainBranch}
	id, err := storage.Create(rc.ctx, s.store, storage.IndexProjects, project)
	if err != nil {
		return nil, apierrors.StorageErrorf("create project: %s", err.Error())
	}
	return map[string]any{"id": id}, nil
}

func (s *Server) projectsList(rc *requestContext) (any, error) {
	projects, err := storage.GetAll[domain.Project](rc.ctx, s.store, storage.IndexProjects, nil, nil)
	if err != nil {
		return nil, apierrors.StorageErrorf("list projects: %s", err.Error())
	}
	return projects, nil
}

func (s *Server) projectsGet(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	project, err := storage.GetOne[domain.Project](rc.ctx, s.store, storage.IndexProjects, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "project")
	}
	return project, nil
}

func (s *Server) projectsUpdate(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	project, err := storage.GetOne[domain.Project](rc.ctx, s.store, storage.IndexProjects, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "project")
	}
	var in projectInput
	if err := decodeArgs(rc.args, &in); err != nil {
		return nil, err
	}
	if in.Name != "" {
		project.Name = in.Name
	}
	if in.URL != "" {
		project.URL = in.URL
	}
	if in.MainBranch != "" {
		project.MainBranch = in.MainBranch
	}
	if in.GroupID != nil {
		project.GroupID = in.GroupID
	}
	if _, err := storage.Update(rc.ctx, s.store, storage.IndexProjects, id, *project); err != nil {
		return nil, apierrors.StorageErrorf("update project: %s", err.Error())
	}
	return project, nil
}

func (s *Server) projectsDelete(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	n, err := s.store.DeleteOne(rc.ctx, storage.IndexProjects, idFilter(id))
	if err != nil {
		return nil, apierrors.StorageErrorf("delete project: %s", err.Error())
	}
	return map[string]any{"deleted": n}, nil
}
