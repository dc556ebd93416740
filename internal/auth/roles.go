package auth

import "strings"

// Role is one of a closed set of account roles.
type Role string

const (
	RoleCompanyLeader Role = "COMPANY_LEADER"
	RoleManager       Role = "MANAGER"
	RoleTeamLeader    Role = "TEAM_LEADER"
	RoleUser          Role = "USER"
)

var upperRoles = []Role{RoleCompanyLeader, RoleManager, RoleTeamLeader}

// UpperRoles returns the elevated roles. The slice is a copy.
func UpperRoles() []Role {
	out := make([]Role, len(upperRoles))
	copy(out, upperRoles)
	return out
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleCompanyLeader, RoleManager, RoleTeamLeader, RoleUser:
		return true
	}
	return false
}

// Upper reports whether r grants elevated access.
func (r Role) Upper() bool {
	for _, u := range upperRoles {
		if r == u {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }
