package auth

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectorySaveUnknownUser(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	if _, err := dir.Create(ctx, User{ID: "u1", Name: "Ana", Email: "ana@example.com", Roles: NewRoleSet(RoleUser)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := dir.Save(ctx, User{ID: "ghost", Name: "Ghost", Email: "ghost@example.com", Roles: NewRoleSet(RoleAdmin)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if dir.Len() != 1 {
		t.Fatalf("save must not insert, len = %d", dir.Len())
	}
	if _, err := dir.FindByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ghost should not exist, got %v", err)
	}
}

func TestMemoryDirectorySaveOnlyTouchesRoles(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	created, err := dir.Create(ctx, User{ID: "u1", Name: "Ana", Email: "ana@example.com", Roles: NewRoleSet(RoleUser)})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	saved, err := dir.Save(ctx, User{ID: "u1", Name: "Changed", Email: "other@example.com", Roles: NewRoleSet(RoleRecruiter)})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Name != created.Name || saved.Email != created.Email {
		t.Fatalf("profile fields changed: %+v", saved)
	}
	if !saved.Roles.Equal(NewRoleSet(RoleRecruiter)) {
		t.Fatalf("roles = %v", saved.Roles)
	}
}
