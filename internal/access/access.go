// Package access resolves what a caller's role allows. Roles are ordered
// general < admin < superadmin and every permission check goes through HasAtLeast.
package access

import (
	"errors"
	"fmt"

	"carparts/backend/internal/domain"
)

var ErrPermission = errors.New("permission denied")

func level(role domain.Role) int {
	switch role {
	case domain.RoleGeneral:
		return 1
	case domain.RoleAdmin:
		return 2
	case domain.RoleSuperadmin:
		return 3
	default:
		return 0
	}
}

func Valid(role domain.Role) bool {
	return level(role) > 0
}

func HasAtLeast(role domain.Role, required domain.Role) bool {
	return level(role) > 0 && level(role) >= level(required)
}

// Require returns an error wrapping ErrPermission when the actor is below required.
func Require(actor domain.Actor, required domain.Role) error {
	if !HasAtLeast(actor.Role, required) {
		return fmt.Errorf("%w: %s role required", ErrPermission, required)
	}
	return nil
}

func CanSeeCostPrice(role domain.Role) bool {
	return HasAtLeast(role, domain.RoleSuperadmin)
}

func CanSetCostPrice(role domain.Role) bool {
	return HasAtLeast(role, domain.RoleSuperadmin)
}

// CanManageUser reports whether actor may modify or delete an account holding target.
// Superadmins manage everyone; admins manage general accounts only.
func CanManageUser(actor domain.Role, target domain.Role) bool {
	if HasAtLeast(actor, domain.RoleSuperadmin) {
		return true
	}
	return HasAtLeast(actor, domain.RoleAdmin) && level(target) < level(domain.RoleAdmin)
}

// CanAssignRole reports whether actor may create an account with, or promote one to, role.
func CanAssignRole(actor domain.Role, role domain.Role) bool {
	if !Valid(role) {
		return false
	}
	if HasAtLeast(actor, domain.RoleSuperadmin) {
		return true
	}
	return HasAtLeast(actor, domain.RoleAdmin) && role == domain.RoleGeneral
}
