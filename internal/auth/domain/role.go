package domain

import "slices"

// Role is the enumerated admin role of an identity.
type Role string

const (
	RoleFounder  Role = "founder"
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// Roles lists every valid role, highest privilege first.
var Roles = []Role{RoleFounder, RoleAdmin, RoleEmployee}

func (r Role) Valid() bool { return slices.Contains(Roles, r) }

// IsFounder is the founder predicate used by the authority lock.
func (r Role) IsFounder() bool { return r == RoleFounder }

func (r Role) String() string { return string(r) }

// ParseRole maps a string onto a Role. Unknown values map to RoleEmployee
// so a typo can never grant more privilege.
func ParseRole(s string) Role {
	r := Role(s)
	if !r.Valid() {
		return RoleEmployee
	}
	return r
}

// Lane is the login entry point selected by the client.
type Lane string

const (
	LaneOwner Lane = "owner"
	LaneTeam  Lane = "team"
)

func (l Lane) Valid() bool { return l == LaneOwner || l == LaneTeam }

// Permits reports whether an identity with role r may sign in via lane l.
// The owner lane is reserved for founders; everyone else uses the team lane.
func (l Lane) Permits(r Role) bool {
	switch l {
	case LaneOwner:
		return r == RoleFounder
	case LaneTeam:
		return r == RoleAdmin || r == RoleEmployee
	default:
		return false
	}
}
