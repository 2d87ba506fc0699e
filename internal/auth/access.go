package auth

import "fmt"

// Operation names a privileged action guarded by a RolePolicy.
type Operation string

const (
	OpAssignRoles Operation = "roles.assign"
	OpGrantAdmin  Operation = "roles.grant_admin"
	OpRevokeAdmin Operation = "roles.revoke_admin"
	OpCreateUser  Operation = "users.create"
	OpReadUser    Operation = "users.read"
)

// RolePolicy maps each operation to the roles allowed to invoke it. An empty
// set admits any authenticated caller; an operation absent from the policy is
// denied.
type RolePolicy map[Operation]RoleSet

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() RolePolicy {
	admin := NewRoleSet(RoleAdmin)
	return RolePolicy{
		OpAssignRoles: admin,
		OpGrantAdmin:  admin,
		OpRevokeAdmin: admin,
		OpCreateUser:  admin,
		OpReadUser:    {},
	}
}

// Required returns the roles permitted for op.
func (p RolePolicy) Required(op Operation) (RoleSet, bool) {
	roles, ok := p[op]
	return roles, ok
}

// Check applies the policy for op to an already authenticated identity.
func (p RolePolicy) Check(id Identity, op Operation) error {
	required, ok := p.Required(op)
	if !ok {
		return fmt.Errorf("%w: operation %s is not permitted", ErrForbidden, op)
	}
	return Permit(id, required)
}

// Permit reports whether id holds at least one of the required roles.
func Permit(id Identity, required RoleSet) error {
	if len(required) == 0 {
		return nil
	}
	if !id.Roles.Intersects(required) {
		return fmt.Errorf("%w: requires one of %v", ErrForbidden, required.Strings())
	}
	return nil
}

// TokenVerifier is the verification half of a TokenIssuer.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// AccessController authenticates bearer credentials and applies role gates.
// It holds no per-request state and never consults the directory: roles come
// from the token snapshot.
type AccessController struct {
	verifier TokenVerifier
	policy   RolePolicy
}

// NewAccessController builds a gate. A nil policy means DefaultPolicy.
func NewAccessController(v TokenVerifier, policy RolePolicy) *AccessController {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &AccessController{verifier: v, policy: policy}
}

// Policy returns the policy used by AuthorizeOperation.
func (a *AccessController) Policy() RolePolicy { return a.policy }

// Authenticate verifies the credential without any role requirement.
func (a *AccessController) Authenticate(credential string) (Identity, error) {
	claims, err := a.verifier.Verify(credential)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity(), nil
}

// Authorize verifies the credential and requires one of the given roles.
func (a *AccessController) Authorize(credential string, required RoleSet) (Identity, error) {
	id, err := a.Authenticate(credential)
	if err != nil {
		return Identity{}, err
	}
	if err := Permit(id, required); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// AuthorizeOperation verifies the credential against the policy entry for op.
func (a *AccessController) AuthorizeOperation(credential string, op Operation) (Identity, error) {
	id, err := a.Authenticate(credential)
	if err != nil {
		return Identity{}, err
	}
	if err := a.policy.Check(id, op); err != nil {
		return Identity{}, err
	}
	return id, nil
}
