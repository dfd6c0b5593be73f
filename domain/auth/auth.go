// Package auth provides user identity value types and pure access checks.
// This package has NO dependencies on I/O or external packages.
package auth

import "strings"

// Roles that may view and change a tenant's billing.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "sadmin"
)

// Role is a role granted to a user in an environment.
type Role struct {
	RoleName    string
	DisplayName string
}

// Env is an environment of a tenant and the user's roles in it.
type Env struct {
	ID    int64
	Name  string
	Roles []Role
}

// TenantMembership is a user's membership of one tenant.
type TenantMembership struct {
	ID   string
	Name string
	Envs []Env
}

// UserInfo is the authenticated user as returned by the identity provider.
type UserInfo struct {
	ID      string
	Email   string
	Tenants []TenantMembership
}

// HasBillingAccess reports whether the user holds an admin role in any
// environment of tenantID.
// This is a PURE function.
func HasBillingAccess(u UserInfo, tenantID string) bool {
	for _, t := range u.Tenants {
		if t.ID != tenantID {
			continue
		}
		for _, env := range t.Envs {
			for _, r := range env.Roles {
				if r.RoleName == RoleAdmin || r.RoleName == RoleSuperAdmin {
					return true
				}
			}
		}
	}
	return false
}

// BearerToken extracts the token from an Authorization header value.
// Returns "" when the header is not a bearer credential.
// This is a PURE function.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
