package auth

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"Admin":       RoleAdmin,
		"admin":       RoleAdmin,
		" recruiter ": RoleRecruiter,
		"Reclutador":  RoleRecruiter,
		"USER":        RoleUser,
	}
	for input, want := range cases {
		got, err := ParseRole(input)
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseRole(%q)=%q, want %q", input, got, want)
		}
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown role, got %v", err)
	}
}

func TestRoleSetCanonical(t *testing.T) {
	set := NewRoleSet(RoleUser, RoleAdmin, RoleUser, RoleRecruiter, RoleAdmin)
	want := []string{"Admin", "Recruiter", "User"}
	got := set.Strings()
	if len(got) != len(want) {
		t.Fatalf("unexpected set %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v", got)
		}
	}
	if !set.Equal(NewRoleSet(RoleRecruiter, RoleUser, RoleAdmin)) {
		t.Fatal("expected sets to be equal regardless of order")
	}
}

func TestRoleSetWithWithout(t *testing.T) {
	set := NewRoleSet(RoleUser)
	set = set.With(RoleAdmin).With(RoleAdmin)
	if len(set) != 2 || !set.Has(RoleAdmin) {
		t.Fatalf("With produced %v", set)
	}
	set = set.Without(RoleAdmin).Without(RoleAdmin)
	if len(set) != 1 || set.Has(RoleAdmin) {
		t.Fatalf("Without produced %v", set)
	}
	if !NewRoleSet(RoleAdmin, RoleUser).Intersects(NewRoleSet(RoleUser)) {
		t.Fatal("expected intersection")
	}
	if NewRoleSet(RoleRecruiter).Intersects(NewRoleSet(RoleAdmin)) {
		t.Fatal("unexpected intersection")
	}
}

func TestParseRoleSetRejectsUnknown(t *testing.T) {
	if _, err := ParseRoleSet([]string{"Admin", "superuser"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	set, err := ParseRoleSet([]string{"admin", "Admin", "recruiter"})
	if err != nil {
		t.Fatalf("ParseRoleSet: %v", err)
	}
	if !set.Equal(NewRoleSet(RoleAdmin, RoleRecruiter)) {
		t.Fatalf("unexpected set %v", set)
	}
}

func TestRoleSetJSON(t *testing.T) {
	raw, err := json.Marshal(NewRoleSet(RoleUser, RoleAdmin))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `["Admin","User"]` {
		t.Fatalf("unexpected json %s", raw)
	}
	empty, _ := json.Marshal(RoleSet(nil))
	if string(empty) != `[]` {
		t.Fatalf("expected empty array, got %s", empty)
	}

	var set RoleSet
	if err := json.Unmarshal([]byte(`["Recruiter","Admin"]`), &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !set.Equal(NewRoleSet(RoleAdmin, RoleRecruiter)) {
		t.Fatalf("unexpected set %v", set)
	}
	if err := json.Unmarshal([]byte(`["root"]`), &set); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}
