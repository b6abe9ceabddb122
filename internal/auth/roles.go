package auth

import (
	"fmt"
	"strings"
)

// Role is a user's privilege tier. Higher values dominate lower ones.
type Role int

// Roles in ascending order of privilege. RoleNone is the zero value and
// means "no role requirement" when passed as a required level.
const (
	RoleNone Role = iota
	RoleObserver
	RoleOperator
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleObserver: "OBSERVER",
	RoleOperator: "OPERATOR",
	RoleAdmin:    "ADMIN",
}

// AllRoles lists the assignable roles, highest first.
var AllRoles = []Role{RoleAdmin, RoleOperator, RoleObserver}

// String returns the canonical upper-case role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	if r == RoleNone {
		return ""
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Valid reports whether r is one of the three assignable roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r satisfies a requirement of level. Every role
// satisfies RoleNone.
func (r Role) AtLeast(level Role) bool {
	return r >= level
}

// ValidGrantLevel reports whether r may be stored as a junction access level.
// Only OPERATOR and OBSERVER are grantable; ADMIN needs no grants.
func (r Role) ValidGrantLevel() bool {
	return r == RoleOperator || r == RoleObserver
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return RoleAdmin, nil
	case "OPERATOR":
		return RoleOperator, nil
	case "OBSERVER":
		return RoleObserver, nil
	}
	return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// MarshalText encodes the role by name, so JSON and JWT claims carry
// "OPERATOR" rather than an integer.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
