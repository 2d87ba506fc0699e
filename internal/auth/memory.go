package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryDirectory is a process-local Directory. A single lock covers the
// uniqueness checks and the insert, so Create is atomic.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]User
	byEmail    map[string]string
	byExternal map[string]string
	now        func() time.Time
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory returns an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:       make(map[string]User),
		byEmail:    make(map[string]string),
		byExternal: make(map[string]string),
		now:        time.Now,
	}
}

func (d *MemoryDirectory) FindByExternalID(_ context.Context, externalID string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byExternal[externalID]
	if !ok || externalID == "" {
		return User{}, ErrNotFound
	}
	return cloneUser(d.byID[id]), nil
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (d *MemoryDirectory) Create(_ context.Context, u User) (User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return User{}, fmt.Errorf("%w: id is required", ErrValidation)
	}
	email := normalizeEmail(u.Email)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[u.ID]; ok {
		return User{}, fmt.Errorf("%w: id %s already exists", ErrConflict, u.ID)
	}
	if _, ok := d.byEmail[email]; ok {
		return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if u.ExternalID != "" {
		if _, ok := d.byExternal[u.ExternalID]; ok {
			return User{}, fmt.Errorf("%w: external identity already linked", ErrConflict)
		}
	}

	now := d.now().UTC()
	u.Email = email
	u.Roles = NewRoleSet(u.Roles...)
	u.CreatedAt = now
	u.UpdatedAt = now
	d.byID[u.ID] = u
	d.byEmail[email] = u.ID
	if u.ExternalID != "" {
		d.byExternal[u.ExternalID] = u.ID
	}
	return cloneUser(u), nil
}

func (d *MemoryDirectory) Save(_ context.Context, u User) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.byID[u.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	stored.Roles = NewRoleSet(u.Roles...)
	stored.UpdatedAt = d.now().UTC()
	d.byID[u.ID] = stored
	return cloneUser(stored), nil
}

// Len returns the number of stored records.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

func cloneUser(u User) User {
	u.Roles = append(RoleSet(nil), u.Roles...)
	return u
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
