package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of staff roles the gate recognises.
type Role int

const (
	RoleSuperuser Role = iota + 1
	RoleAdmin
	RoleDoctor
	RoleSecretary
	RoleAccountant
)

// AllRoles lists every role in policy display order.
var AllRoles = []Role{RoleSuperuser, RoleAdmin, RoleDoctor, RoleSecretary, RoleAccountant}

func (r Role) String() string {
	switch r {
	case RoleSuperuser:
		return "superuser"
	case RoleAdmin:
		return "admin"
	case RoleDoctor:
		return "doctor"
	case RoleSecretary:
		return "secretary"
	case RoleAccountant:
		return "accountant"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole maps a role name onto a Role. There is no fallback: an empty or
// unknown name is an error.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "superuser":
		return RoleSuperuser, nil
	case "admin":
		return RoleAdmin, nil
	case "doctor":
		return RoleDoctor, nil
	case "secretary":
		return RoleSecretary, nil
	case "accountant":
		return RoleAccountant, nil
	case "":
		return 0, fmt.Errorf("missing role")
	}
	return 0, fmt.Errorf("unknown role %q", s)
}
