package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a capability tag drawn from a fixed set.
type Role string

const (
	RoleAdmin     Role = "Admin"
	RoleRecruiter Role = "Recruiter"
	RoleUser      Role = "User"
)

// allRoles is also the canonical ordering of a RoleSet.
var allRoles = []Role{RoleAdmin, RoleRecruiter, RoleUser}

// legacy tags still present in older records and tokens.
var roleAliases = map[string]Role{
	"reclutador": RoleRecruiter,
}

// AllRoles returns every known role in canonical order.
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// ParseRole resolves a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, r := range allRoles {
		if strings.ToLower(string(r)) == key {
			return r, nil
		}
	}
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// RoleSet is a duplicate-free set of roles kept in canonical order.
type RoleSet []Role

// NewRoleSet builds a canonical set, dropping unknown roles and duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	seen := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		seen[r] = struct{}{}
	}
	out := make(RoleSet, 0, len(seen))
	for _, r := range allRoles {
		if _, ok := seen[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// ParseRoleSet validates every name and returns the canonical set.
// Any unknown name fails the whole input.
func ParseRoleSet(names []string) (RoleSet, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return NewRoleSet(roles...), nil
}

// Has reports whether the set contains r.
func (s RoleSet) Has(r Role) bool {
	for _, have := range s {
		if have == r {
			return true
		}
	}
	return false
}

// With returns a copy of the set including r.
func (s RoleSet) With(r Role) RoleSet {
	return NewRoleSet(append(append([]Role{}, s...), r)...)
}

// Without returns a copy of the set excluding r.
func (s RoleSet) Without(r Role) RoleSet {
	out := make(RoleSet, 0, len(s))
	for _, have := range s {
		if have != r {
			out = append(out, have)
		}
	}
	return out
}

// Intersects reports whether the two sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	for _, r := range other {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Equal compares two sets irrespective of input order.
func (s RoleSet) Equal(other RoleSet) bool {
	a, b := NewRoleSet(s...), NewRoleSet(other...)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Strings returns role names in canonical order.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewRoleSet(s...).Strings())
}

// UnmarshalJSON rejects unknown role names so invalid tags never enter the domain.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseRoleSet(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
