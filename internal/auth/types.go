package auth

import (
	"context"
	"time"
)

// User is the local identity and authorization record.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ExternalID string    `json:"external_id,omitempty"`
	Roles      RoleSet   `json:"roles"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserView is the client-facing projection of a User.
type UserView struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Roles RoleSet `json:"roles"`
}

// View projects the record for API responses.
func (u User) View() UserView {
	roles := u.Roles
	if roles == nil {
		roles = RoleSet{}
	}
	return UserView{ID: u.ID, Name: u.Name, Email: u.Email, Roles: roles}
}

// ExternalProfile is an identity assertion already verified by the provider.
// Emails holds provider-attested addresses only.
type ExternalProfile struct {
	Provider    string
	ExternalID  string
	DisplayName string
	Emails      []string
}

// NewUser is the input of the explicit create-or-fetch path.
type NewUser struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// Identity is the acting caller as asserted by a verified token.
type Identity struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Roles     RoleSet   `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SystemIdentity is an in-process administrator used by operator tooling.
func SystemIdentity() Identity {
	return Identity{UserID: "system", Roles: NewRoleSet(RoleAdmin)}
}

// Directory persists user records. Uniqueness of id, email and external id is
// enforced atomically by the implementation.
type Directory interface {
	FindByExternalID(ctx context.Context, externalID string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	// Create fails with ErrConflict when id, email or external id is taken.
	Create(ctx context.Context, u User) (User, error)
	// Save persists the role set only.
	Save(ctx context.Context, u User) (User, error)
}
