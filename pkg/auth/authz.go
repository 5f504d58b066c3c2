package auth

import (
	"fmt"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
)

// Required builds the exact-match permission string authorize compares
// against, e.g. "pipelines:assign".
func Required(resource, right string) string {
	return fmt.Sprintf("%s:%s", resource, right)
}

// PublicEndpoint identifies a GraphQL-shaped operation exempt from
// authentication entirely, keyed by {op-type, top-level, field}.
type PublicEndpoint struct {
	OpType   string // "query" or "mutation"
	TopLevel string
	Field    string
}

// PublicEndpoints is the whitelist of operations that bypass authentication.
// It is a package-level table rather than a runtime-mutable singleton per
// spec §9's guidance to isolate process-wide state behind a narrow,
// explicitly-initialized accessor — this table is read-only after package
// init, so no accessor indirection is needed.
var PublicEndpoints = []PublicEndpoint{
	{OpType: "mutation", TopLevel: "users", Field: "register"},
	{OpType: "mutation", TopLevel: "users", Field: "login"},
}

// IsPublic reports whether the given operation bypasses authentication.
func IsPublic(opType, topLevel, field string) bool {
	for _, pe := range PublicEndpoints {
		if pe.OpType == opType && pe.TopLevel == topLevel && pe.Field == field {
			return true
		}
	}
	return false
}

// Permission formats a domain.Permission the same way Required formats the
// requirement string, so authorize can compare them directly.
func permissionString(p domain.Permission) string {
	return Required(p.Resource, p.Right)
}

// Authorize reports whether user satisfies required ("RESOURCE:RIGHT")
// through a permission attached to user directly or to a role listed in
// user.RoleIDs. The roles argument is not consulted, and there is no System
// case: only matching permissions authorize.
func Authorize(user domain.User, roles []domain.Role, permissions []domain.Permission, required string) bool {
	roleIDs := make(map[string]bool, len(user.RoleIDs))
	for _, id := range user.RoleIDs {
		roleIDs[id] = true
	}

	for _, p := range permissions {
		if p.UserID != nil && *p.UserID == user.ID && permissionString(p) == required {
			return true
		}
		if p.RoleID != nil && roleIDs[*p.RoleID] && permissionString(p) == required {
			return true
		}
	}
	return false
}
