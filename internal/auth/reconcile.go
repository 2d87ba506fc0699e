package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/epehc/crm-auth-service/internal/ids"
)

// Reconciler maps verified external identities onto directory records.
type Reconciler struct {
	dir          Directory
	defaultRoles RoleSet
	newID        func() string
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDefaultRoles sets the role set given to newly created records.
func WithDefaultRoles(roles RoleSet) ReconcilerOption {
	return func(r *Reconciler) {
		if len(roles) > 0 {
			r.defaultRoles = NewRoleSet(roles...)
		}
	}
}

// WithIDGenerator overrides how record identifiers are generated.
func WithIDGenerator(fn func() string) ReconcilerOption {
	return func(r *Reconciler) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewReconciler builds a Reconciler over dir. New records get {User} unless
// WithDefaultRoles says otherwise.
func NewReconciler(dir Directory, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		dir:          dir,
		defaultRoles: NewRoleSet(RoleUser),
		newID:        ids.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRoles returns the role set assigned on creation.
func (r *Reconciler) DefaultRoles() RoleSet {
	return append(RoleSet(nil), r.defaultRoles...)
}

// Reconcile finds or creates the record for a verified external profile.
// A repeat login returns the stored record unchanged; profile drift at the
// provider is not applied. The bool result reports whether a record was created.
func (r *Reconciler) Reconcile(ctx context.Context, p ExternalProfile) (User, bool, error) {
	externalID := strings.TrimSpace(p.ExternalID)
	if externalID == "" {
		return User{}, false, fmt.Errorf("%w: external id is required", ErrInvalidAssertion)
	}
	email := firstEmail(p.Emails)
	if email == "" {
		return User{}, false, fmt.Errorf("%w: no verified email", ErrInvalidAssertion)
	}

	existing, err := r.dir.FindByExternalID(ctx, externalID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, fmt.Errorf("lookup external identity: %w", err)
	}

	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = email
	}
	created, err := r.dir.Create(ctx, User{
		ID:         r.newID(),
		Name:       name,
		Email:      email,
		ExternalID: externalID,
		Roles:      r.DefaultRoles(),
	})
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrConflict) {
		return User{}, false, fmt.Errorf("create user: %w", err)
	}

	// Either a concurrent first login won the insert, or the email belongs
	// to a different identity. Only the former resolves on re-read.
	existing, lookupErr := r.dir.FindByExternalID(ctx, externalID)
	if lookupErr == nil {
		return existing, false, nil
	}
	if !errors.Is(lookupErr, ErrNotFound) {
		return User{}, false, fmt.Errorf("lookup external identity: %w", lookupErr)
	}
	return User{}, false, err
}

// CreateOrFetch registers a record outside the OAuth flow. An existing id is
// returned as stored; the bool result reports whether a record was created.
func (r *Reconciler) CreateOrFetch(ctx context.Context, in NewUser) (User, bool, error) {
	if err := in.Validate(); err != nil {
		return User{}, false, err
	}
	in = in.Normalized()
	id, name, email := in.ID, in.Name, in.Email
	roles := r.DefaultRoles()
	if len(in.Roles) > 0 {
		parsed, err := ParseRoleSet(in.Roles)
		if err != nil {
			return User{}, false, err
		}
		roles = parsed
	}

	if id != "" {
		existing, err := r.dir.FindByID(ctx, id)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return User{}, false, fmt.Errorf("lookup user: %w", err)
		}
	} else {
		id = r.newID()
	}

	created, err := r.dir.Create(ctx, User{ID: id, Name: name, Email: email, Roles: roles})
	if err == nil {
		return created, true, nil
	}
	if errors.Is(err, ErrConflict) {
		if existing, lookupErr := r.dir.FindByID(ctx, id); lookupErr == nil {
			return existing, false, nil
		}
		return User{}, false, err
	}
	return User{}, false, fmt.Errorf("create user: %w", err)
}

func firstEmail(emails []string) string {
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			return e
		}
	}
	return ""
}
