package session

import (
	"strings"

	"golang.org/x/text/cases"
)

// Role is a caller's fixed authorization class. The set is closed.
type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleRecruiter  Role = "recruiter"
	RoleClient     Role = "client"
	RoleCandidate  Role = "candidate"
)

// Roles lists every member of the closed set.
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleRecruiter, RoleClient, RoleCandidate}
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleRecruiter, RoleClient, RoleCandidate:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

var fold = cases.Fold()

// ParseRole maps s onto the closed set, ignoring case and surrounding space.
func ParseRole(s string) (Role, bool) {
	r := Role(fold.String(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}

// LandingPath is where a role is sent after sign-in, or when it reaches a
// page it may not view. Unknown roles go to the root.
func LandingPath(r Role) string {
	switch r {
	case RoleCandidate:
		return "/candidate"
	case RoleRecruiter:
		return "/recruiter"
	case RoleClient:
		return "/client"
	case RoleSuperAdmin:
		return "/admin"
	default:
		return "/"
	}
}
