package api

import (
	"github.com/google/uuid"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/codeready-toolchain/rustyops/pkg/template"
)

func (s *Server) registerJobHandlers() {
	s.routes.register("jobs", "create", s.jobsCreate)
	s.routes.register("jobs", "list", s.jobsList)
	s.routes.register("jobs", "get", s.jobsGet)
	s.routes.register("jobs", "update", s.jobsUpdate)
	s.routes.register("jobs", "delete", s.jobsDelete)
}

type jobInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Template    string `json:"template"`
	ProjectID   string `json:"project_id"`
}

func (s *Server) jobsCreate(rc *requestContext) (any, error) {
	var in jobInput
	if err := decodeArgs(rc.args, &in); err != nil {
		return nil, err
	}
	if in.Name == "" || in.Template == "" || in.ProjectID == "" {
		return nil, apierrors.NewValidation([]string{"name, template and project_id are required"}, nil)
	}
	if _, err := template.Parse(in.Template); err != nil {
		return nil, apierrors.New(apierrors.KindValidation, err.Error())
	}
	if _, err := storage.GetOne[domain.Project](rc.ctx, s.store, storage.IndexProjects, idFilter(in.ProjectID)); err != nil {
		return nil, notFoundAsRequest(err, "project")
	}

	job := domain.Job{ID: uuid.NewString(), Name: in.Name, Description: in.Description, Template: in.Template, ProjectID: in.ProjectID}
	id, err := storage.Create(rc.ctx, s.store, storage.IndexJobs, job)
	if err != nil {
		return nil, apierrors.StorageErrorf("create job: %s", err.Error())
	}
	return map[string]any{"id": id}, nil
}

func (s *Server) jobsList(rc *requestContext) (any, error) {
	jobs, err := storage.GetAll[domain.Job](rc.ctx, s.store, storage.IndexJobs, nil, nil)
	if err != nil {
		return nil, apierrors.StorageErrorf("list jobs: %s", err.Error())
	}
	return jobs, nil
}

func (s *Server) jobsGet(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	job, err := storage.GetOne[domain.Job](rc.ctx, s.store, storage.IndexJobs, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "job")
	}
	return job, nil
}

func (s *Server) jobsUpdate(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	job, err := storage.GetOne[domain.Job](rc.ctx, s.store, storage.IndexJobs, idFilter(id))
	if err != nil {
		return nil, notFoundAsRequest(err, "job")
	}
	var in jobInput
	if err := decodeArgs(rc.args, &in); err != nil {
		return nil, err
	}
	if in.Template != "" {
		if _, err := template.Parse(in.Template); err != nil {
			return nil, apierrors.New(apierrors.KindValidation, err.Error())
		}
		job.Template = in.Template
	}
	if in.Name != "" {
		job.Name = in.Name
	}
	if in.Description != "" {
		job.Description = in.Description
	}
	if _, err := storage.Update(rc.ctx, s.store, storage.IndexJobs, id, *job); err != nil {
		return nil, apierrors.StorageErrorf("update job: %s", err.Error())
	}
	return job, nil
}

func (s *Server) jobsDelete(rc *requestContext) (any, error) {
	id, err := argID(rc.args)
	if err != nil {
		return nil, err
	}
	n, err := s.store.DeleteOne(rc.ctx, storage.IndexJobs, idFilter(id))
	if err != nil {
		return nil, apierrors.StorageErrorf("delete job: %s", err.Error())
	}
	return map[string]any{"deleted": n}, nil
}
