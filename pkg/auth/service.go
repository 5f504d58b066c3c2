package auth

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// TokenTTL is the lifetime of the tokens Login mints for the login
// mutation.
const TokenTTL = 24 * time.Hour

// Service binds credential parsing to the Storage Port, resolving a
// Credential into the authenticated username and, on Bearer/Basic success,
// loading the permission set Authorize needs.
type Service struct {
	store storage.Port
}

// NewService constructs a Service backed by store.
func NewService(store storage.Port) *Service {
	return &Service{store: store}
}

func (s *Service) findUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return storage.GetOne[domain.User](ctx, s.store, storage.IndexUsers,
		queryfilter.Filter{"username": {Op: queryfilter.Equals, Value: username}})
}

// Authenticate resolves cred into the authenticated username. System always
// succeeds with no lookup. Basic verifies the stored bcrypt hash. Bearer
// extracts the unverified subject, loads that user's stored hash, and
// verifies the token's signature against the key derived from it.
func (s *Service) Authenticate(ctx context.Context, cred Credential) (string, error) {
	switch cred.Kind {
	case KindSystem:
		return "", nil
	case KindNone:
		return "", apierrors.ErrCredentialMissing
	case KindBasic:
		user, err := s.findUserByUsername(ctx, cred.Username)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", apierrors.ErrUnauthenticated
			}
			return "", err
		}
		if !VerifyPassword(user.PasswordHash, cred.Password) {
			return "", apierrors.ErrUnauthenticated
		}
		return user.Username, nil
	case KindBearer:
		sub, err := ExtractSubject(cred.Token)
		if err != nil {
			return "", apierrors.ErrUnauthenticated
		}
		user, err := s.findUserByUsername(ctx, sub)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", apierrors.ErrUnauthenticated
			}
			return "", err
		}
		verifiedSub, err := VerifyToken(cred.Token, user.PasswordHash)
		if err != nil {
			return "", err
		}
		return verifiedSub, nil
	default:
		return "", apierrors.ErrWrongCredentialType
	}
}

// Login authenticates Basic credentials and mints a token for the resulting
// session, the pair the `users:login` mutation calls.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	username, err := s.Authenticate(ctx, Credential{Kind: KindBasic, Username: username, Password: password})
	if err != nil {
		return "", err
	}
	user, err := s.findUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return MintToken(user.Username, user.PasswordHash, TokenTTL)
}

// AuthorizeUser loads permissions and roles visible to user and reports
// whether the union satisfies required. Neither it nor Authorize has a
// System case.
func (s *Service) AuthorizeUser(ctx context.Context, username, required string) (bool, error) {
	user, err := s.findUserByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	roles, err := storage.GetAll[domain.Role](ctx, s.store, storage.IndexRoles, nil, nil)
	if err != nil {
		return false, err
	}
	permissions, err := storage.GetAll[domain.Permission](ctx, s.store, storage.IndexPermissions, nil, nil)
	if err != nil {
		return false, err
	}
	return Authorize(*user, roles, permissions, required), nil
}
