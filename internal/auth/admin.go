package auth

import (
	"context"
	"fmt"
	"strings"
)

// Administration holds the privileged directory mutations. Every method checks
// the caller identity stored in ctx against the policy before touching the
// directory.
type Administration struct {
	dir        Directory
	policy     RolePolicy
	reconciler *Reconciler
	auditor    AuditFunc
}

// AuditRecord describes one finished privileged mutation, denied ones
// included.
type AuditRecord struct {
	Operation Operation
	TargetID  string
	Before    RoleSet
	After     RoleSet
	Err       error
}

// Changed reports whether the call altered the stored role set.
func (r AuditRecord) Changed() bool {
	return r.Err == nil && !r.Before.Equal(r.After)
}

// AuditFunc receives an AuditRecord after every mutation.
type AuditFunc func(ctx context.Context, rec AuditRecord)

// NewAdministration wires the privileged operations. A nil policy means
// DefaultPolicy; a nil reconciler gets one with default options.
func NewAdministration(dir Directory, policy RolePolicy, reconciler *Reconciler) *Administration {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if reconciler == nil {
		reconciler = NewReconciler(dir)
	}
	return &Administration{dir: dir, policy: policy, reconciler: reconciler}
}

// SetAuditor installs fn for AssignRoles, GrantAdmin, RevokeAdmin and
// CreateUser. Reads are not audited.
func (a *Administration) SetAuditor(fn AuditFunc) {
	a.auditor = fn
}

func (a *Administration) record(ctx context.Context, op Operation, targetID string, before RoleSet, after User, err error) {
	if a.auditor == nil {
		return
	}
	if after.ID != "" {
		targetID = after.ID
	}
	a.auditor(ctx, AuditRecord{
		Operation: op,
		TargetID:  strings.TrimSpace(targetID),
		Before:    before,
		After:     after.Roles,
		Err:       err,
	})
}

func (a *Administration) authorize(ctx context.Context, op Operation) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no caller identity", ErrUnauthenticated)
	}
	return a.policy.Check(id, op)
}

// AssignRoles replaces the target's role set. The new set must be non-empty
// and made only of known roles.
func (a *Administration) AssignRoles(ctx context.Context, targetID string, roles []string) (out User, err error) {
	var before RoleSet
	defer func() { a.record(ctx, OpAssignRoles, targetID, before, out, err) }()

	if err := a.authorize(ctx, OpAssignRoles); err != nil {
		return User{}, err
	}
	if len(roles) == 0 {
		return User{}, fmt.Errorf("%w: roles must not be empty", ErrValidation)
	}
	set, err := ParseRoleSet(roles)
	if err != nil {
		return User{}, err
	}
	u, err := a.load(ctx, targetID)
	if err != nil {
		return User{}, err
	}
	before = u.Roles
	u.Roles = set
	return a.dir.Save(ctx, u)
}

// GrantAdmin adds Admin to the target. Already an admin is not an error.
func (a *Administration) GrantAdmin(ctx context.Context, targetID string) (out User, err error) {
	var before RoleSet
	defer func() { a.record(ctx, OpGrantAdmin, targetID, before, out, err) }()

	if err := a.authorize(ctx, OpGrantAdmin); err != nil {
		return User{}, err
	}
	u, err := a.load(ctx, targetID)
	if err != nil {
		return User{}, err
	}
	before = u.Roles
	if u.Roles.Has(RoleAdmin) {
		return u, nil
	}
	u.Roles = u.Roles.With(RoleAdmin)
	return a.dir.Save(ctx, u)
}

// RevokeAdmin removes Admin from the target, including the caller itself.
// Nothing prevents removing the last administrator.
func (a *Administration) RevokeAdmin(ctx context.Context, targetID string) (out User, err error) {
	var before RoleSet
	defer func() { a.record(ctx, OpRevokeAdmin, targetID, before, out, err) }()

	if err := a.authorize(ctx, OpRevokeAdmin); err != nil {
		return User{}, err
	}
	u, err := a.load(ctx, targetID)
	if err != nil {
		return User{}, err
	}
	before = u.Roles
	if !u.Roles.Has(RoleAdmin) {
		return u, nil
	}
	u.Roles = u.Roles.Without(RoleAdmin)
	return a.dir.Save(ctx, u)
}

// CreateUser registers a record outside the OAuth flow or returns the
// existing one with the same id.
func (a *Administration) CreateUser(ctx context.Context, in NewUser) (User, bool, error) {
	if err := a.authorize(ctx, OpCreateUser); err != nil {
		a.record(ctx, OpCreateUser, in.ID, nil, User{}, err)
		return User{}, false, err
	}
	u, created, err := a.reconciler.CreateOrFetch(ctx, in)
	if created || err != nil {
		a.record(ctx, OpCreateUser, in.ID, nil, u, err)
	}
	return u, created, err
}

// GetUser loads a record by id.
func (a *Administration) GetUser(ctx context.Context, id string) (User, error) {
	if err := a.authorize(ctx, OpReadUser); err != nil {
		return User{}, err
	}
	return a.load(ctx, id)
}

func (a *Administration) load(ctx context.Context, id string) (User, error) {
	if err := ValidateUserID(id); err != nil {
		return User{}, err
	}
	u, err := a.dir.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return User{}, err
	}
	return u, nil
}
