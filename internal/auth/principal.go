package auth

import (
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// Principal is the resolved caller. The set of variants is closed; every
// authorization decision switches over it exhaustively.
type Principal interface {
	UserID() types.ID
	Role() Role
	sealed()
}

// ClientPrincipal owns cases.
type ClientPrincipal struct {
	User types.ID
}

// AttorneyPrincipal sees cases assigned to its attorney profile. Profile is
// zero when the user has the role but no profile row.
type AttorneyPrincipal struct {
	User    types.ID
	Profile types.ID
}

// InternalStaffPrincipal sees cases assigned to its staff profile.
type InternalStaffPrincipal struct {
	User    types.ID
	Profile types.ID
}

// AdminPrincipal sees everything.
type AdminPrincipal struct {
	User types.ID
}

// UnknownPrincipal carries a role the system does not recognise. It is
// denied everything.
type UnknownPrincipal struct {
	User    types.ID
	RawRole Role
}

func (p ClientPrincipal) UserID() types.ID        { return p.User }
func (p AttorneyPrincipal) UserID() types.ID      { return p.User }
func (p InternalStaffPrincipal) UserID() types.ID { return p.User }
func (p AdminPrincipal) UserID() types.ID         { return p.User }
func (p UnknownPrincipal) UserID() types.ID       { return p.User }

func (ClientPrincipal) Role() Role        { return RoleClient }
func (AttorneyPrincipal) Role() Role      { return RoleAttorney }
func (InternalStaffPrincipal) Role() Role { return RoleInternalStaff }
func (AdminPrincipal) Role() Role         { return RoleAdmin }
func (p UnknownPrincipal) Role() Role     { return p.RawRole }

func (ClientPrincipal) sealed()        {}
func (AttorneyPrincipal) sealed()      {}
func (InternalStaffPrincipal) sealed() {}
func (AdminPrincipal) sealed()         {}
func (UnknownPrincipal) sealed()       {}

// NewPrincipal builds the variant for role. profileID is the attorney or
// internal staff profile id and is ignored for other roles.
func NewPrincipal(role Role, userID, profileID types.ID) Principal {
	switch role {
	case RoleClient:
		return ClientPrincipal{User: userID}
	case RoleAttorney:
		return AttorneyPrincipal{User: userID, Profile: profileID}
	case RoleInternalStaff:
		return InternalStaffPrincipal{User: userID, Profile: profileID}
	case RoleAdmin:
		return AdminPrincipal{User: userID}
	default:
		return UnknownPrincipal{User: userID, RawRole: role}
	}
}

// CaseScope is the part of a case that access decisions look at.
type CaseScope struct {
	OwnerID         types.ID
	AttorneyID      types.ID
	InternalStaffID types.ID
}

// CanAccessCase decides whether p may read and write the case described by
// scope.
func CanAccessCase(p Principal, scope CaseScope) bool {
	switch v := p.(type) {
	case AdminPrincipal:
		return true
	case ClientPrincipal:
		return !v.User.IsZero() && v.User == scope.OwnerID
	case AttorneyPrincipal:
		return !v.Profile.IsZero() && v.Profile == scope.AttorneyID
	case InternalStaffPrincipal:
		return !v.Profile.IsZero() && v.Profile == scope.InternalStaffID
	default:
		return false
	}
}

// AuthorizeCase is CanAccessCase plus the decision metric.
func AuthorizeCase(p Principal, scope CaseScope, action string) bool {
	allowed := CanAccessCase(p, scope)
	metrics.RecordAuthorizationDecision("case", action, allowed)
	return allowed
}

// AssignedProfile returns the profile a staff principal is matched on, and
// false for principals that see cases by ownership or not at all.
func AssignedProfile(p Principal) (types.ID, bool) {
	switch v := p.(type) {
	case AttorneyPrincipal:
		return v.Profile, true
	case InternalStaffPrincipal:
		return v.Profile, true
	default:
		return "", false
	}
}
