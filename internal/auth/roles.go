// Package auth provides authentication and authorization types.
package auth

import (
	"fmt"
	"strings"
)

// Role represents a user role in the system.
type Role string

const (
	RoleClient        Role = "CLIENT"         // Owns cases
	RoleInternalStaff Role = "INTERNAL_STAFF" // Handles assigned cases
	RoleAttorney      Role = "ATTORNEY"       // Handles assigned cases
	RoleAdmin         Role = "ADMIN"          // Full access, manages staff
)

// Roles lists every valid role.
var Roles = []Role{RoleClient, RoleInternalStaff, RoleAttorney, RoleAdmin}

// ParseRole accepts exactly the upper-case role names listed in Roles.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// Lower is the spelling returned by the session endpoint.
func (r Role) Lower() string {
	return strings.ToLower(string(r))
}

// Permission represents a specific action on a resource.
type Permission string

// Case permissions
const (
	PermCaseCreateOwn Permission = "case.create_own"
	PermCaseReadAll   Permission = "case.read_all"
	PermCaseUpdate    Permission = "case.update"
	PermCaseAssign    Permission = "case.assign"
	PermCaseDelete    Permission = "case.delete"
)

// Admin permissions
const (
	PermAdminArea    Permission = "admin.area"
	PermStaffManage  Permission = "staff.manage"
	PermActivityRead Permission = "activity.read"
)

// RolePermissions maps roles to their coarse permissions. Per-case access is
// decided by CanAccessCase, not by this table.
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermCaseCreateOwn, PermCaseReadAll, PermCaseUpdate, PermCaseAssign, PermCaseDelete,
		PermAdminArea, PermStaffManage, PermActivityRead,
	},
	RoleAttorney: {
		PermCaseReadAll, PermCaseUpdate, PermAdminArea, PermActivityRead,
	},
	RoleInternalStaff: {
		PermCaseReadAll, PermCaseUpdate, PermAdminArea, PermActivityRead,
	},
	RoleClient: {
		PermCaseCreateOwn,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// CanAccessAdminArea reports whether the role may use /api/admin.
func CanAccessAdminArea(role Role) bool {
	return HasPermission(role, PermAdminArea)
}

// CanManageStaff reports whether the role may list, create and re-role users.
func CanManageStaff(role Role) bool {
	return HasPermission(role, PermStaffManage)
}
