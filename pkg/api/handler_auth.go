package api

import (
	"github.com/google/uuid"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/auth"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// registerAuthHandlers wires register and login under the `users`
// top-level group, matching the whitelist format spec §4.5 documents
// literally as "mutation:users:register" / "mutation:users:login". Both
// are public since neither can require an already-authenticated caller.
func (s *Server) registerAuthHandlers() {
	s.routes.register("users", "register", s.authRegister)
	s.routes.register("users", "login", s.authLogin)
}

func (s *Server) authRegister(rc *requestContext) (any, error) {
	username, err := argString(rc.args, "username")
	if err != nil {
		return nil, err
	}
	password, err := argString(rc.args, "password")
	if err != nil {
		return nil, err
	}

	if _, found, err := s.store.GetOne(rc.ctx, storage.IndexUsers, usernameFilter(username)); err == nil && found {
		return nil, apierrors.NewValidation([]string{"username already registered"}, nil)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apierrors.Newf(apierrors.KindHashing, "hash password: %s", err.Error())
	}

	user := domain.User{ID: uuid.NewString(), Username: username, PasswordHash: hash}
	id, err := storage.Create(rc.ctx, s.store, storage.IndexUsers, user)
	if err != nil {
		return nil, apierrors.StorageErrorf("create user: %s", err.Error())
	}
	return map[string]any{"id": id, "username": username}, nil
}

func (s *Server) authLogin(rc *requestContext) (any, error) {
	username, err := argString(rc.args, "username")
	if err != nil {
		return nil, err
	}
	password, err := argString(rc.args, "password")
	if err != nil {
		return nil, err
	}
	token, err := s.auth.Login(rc.ctx, username, password)
	if err != nil {
		return nil, err
	}
	return map[string]any{"token": token}, nil
}
