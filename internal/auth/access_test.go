package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func issueFor(t *testing.T, issuer *TokenIssuer, roles ...Role) string {
	t.Helper()
	token, _, err := issuer.Issue(User{ID: "caller", Email: "caller@example.com", Roles: NewRoleSet(roles...)})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func TestAccessControllerRoleGate(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	gate := NewAccessController(issuer, nil)
	admin := NewRoleSet(RoleAdmin)

	id, err := gate.Authorize(issueFor(t, issuer, RoleAdmin, RoleUser), admin)
	if err != nil {
		t.Fatalf("admin token rejected: %v", err)
	}
	if id.UserID != "caller" || !id.Roles.Has(RoleAdmin) {
		t.Fatalf("unexpected identity %+v", id)
	}

	_, err = gate.Authorize(issueFor(t, issuer, RoleRecruiter, RoleUser), admin)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := gate.Authorize(issueFor(t, issuer, RoleUser), RoleSet{}); err != nil {
		t.Fatalf("empty requirement must admit any valid token: %v", err)
	}
}

func TestAccessControllerAuthenticationFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	gate := NewAccessController(issuer, nil)

	if _, err := gate.Authorize("garbage", NewRoleSet(RoleAdmin)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	token := issueFor(t, issuer, RoleAdmin)
	clock.now = clock.now.Add(2 * time.Minute)
	_, err := gate.Authorize(token, NewRoleSet(RoleAdmin))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("authentication failures must not be reported as forbidden")
	}
}

func TestAccessControllerOperations(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	gate := NewAccessController(issuer, DefaultPolicy())
	userToken := issueFor(t, issuer, RoleUser)

	if _, err := gate.AuthorizeOperation(userToken, OpReadUser); err != nil {
		t.Fatalf("read should be open to authenticated callers: %v", err)
	}
	if _, err := gate.AuthorizeOperation(userToken, OpGrantAdmin); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for grant, got %v", err)
	}
	if _, err := gate.AuthorizeOperation(issueFor(t, issuer, RoleAdmin), Operation("reports.export")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unknown operation must be denied, got %v", err)
	}
}

func TestContextIdentity(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("unexpected identity in empty context")
	}
	ctx = ContextWithIdentity(ctx, Identity{UserID: "u-7", Roles: NewRoleSet(RoleRecruiter)})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "u-7" {
		t.Fatalf("unexpected user id %q ok=%v", id, ok)
	}
	if !HasRole(ctx, RoleRecruiter) || HasRole(ctx, RoleAdmin) {
		t.Fatal("HasRole returned unexpected result")
	}
}
