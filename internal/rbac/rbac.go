package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Role is a tenant membership role. Ordering: owner > admin > viewer > user.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
)

var roleOrder = map[Role]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleViewer: 2,
	RoleUser:   1,
}

var ErrForbidden = errors.New("forbidden")

// ParseRole converts a case-insensitive string to a Role.
func ParseRole(value string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleOrder[r]; !ok {
		return "", false
	}
	return r, true
}

// AtLeast reports whether current ranks at or above required.
func AtLeast(current, required Role) bool {
	return roleOrder[current] >= roleOrder[required]
}

// MembershipSource resolves a user's role within a tenant.
type MembershipSource interface {
	MembershipRole(ctx context.Context, tenantID, userID uuid.UUID) (Role, error)
}

// Ensure enforces that the user holds at least the required role for the
// tenant. Super admins are expected to bypass this at the call site.
func Ensure(ctx context.Context, src MembershipSource, tenantID, userID uuid.UUID, required Role) (Role, error) {
	role, err := src.MembershipRole(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	if !AtLeast(role, required) {
		return "", ErrForbidden
	}
	return role, nil
}
