package auth

import (
	"testing"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestAuthorize_DirectUserPermissionMatches(t *testing.T) {
	user := domain.User{ID: "u1"}
	perms := []domain.Permission{
		{UserID: strPtr("u1"), Resource: "pipelines", Right: "assign"},
	}
	require.True(t, Authorize(user, nil, perms, Required("pipelines", "assign")))
}

func TestAuthorize_RolePermissionMatchesViaMembership(t *testing.T) {
	user := domain.User{ID: "u1", RoleIDs: []string{"r1"}}
	perms := []domain.Permission{
		{RoleID: strPtr("r1"), Resource: "projects", Right: "create"},
	}
	require.True(t, Authorize(user, nil, perms, Required("projects", "create")))
}

func TestAuthorize_NoMatchingPermissionFails(t *testing.T) {
	user := domain.User{ID: "u1"}
	perms := []domain.Permission{
		{UserID: strPtr("u1"), Resource: "pipelines", Right: "assign"},
	}
	require.False(t, Authorize(user, nil, perms, Required("pipelines", "delete")))
}

func TestAuthorize_RoleNotHeldByUserDoesNotMatch(t *testing.T) {
	user := domain.User{ID: "u1", RoleIDs: []string{"r2"}}
	perms := []domain.Permission{
		{RoleID: strPtr("r1"), Resource: "projects", Right: "create"},
	}
	require.False(t, Authorize(user, nil, perms, Required("projects", "create")))
}

func TestIsPublic_RegisterAndLoginWhitelisted(t *testing.T) {
	require.True(t, IsPublic("mutation", "users", "register"))
	require.True(t, IsPublic("mutation", "users", "login"))
	require.False(t, IsPublic("mutation", "users", "delete"))
}
