package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/epehc/crm-auth-service/internal/auth"
)

const pgErrUniqueViolation = "23505"

const userColumns = `id, name, email, external_id, roles, created_at, updated_at`

var _ auth.Directory = (*Store)(nil)

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (auth.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return auth.User{}, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where external_id = $1`, externalID)
	return scanUser(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

// Create inserts the record; the unique indexes decide conflicts.
func (s *Store) Create(ctx context.Context, u auth.User) (auth.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Roles = auth.NewRoleSet(u.Roles...)
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return auth.User{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into users (id, name, email, external_id, roles, created_at, updated_at)
		values ($1, $2, $3, $4, $5, now(), now())
		returning created_at, updated_at
	`, u.ID, u.Name, u.Email, nullIfEmpty(u.ExternalID), string(roles)).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, fmt.Errorf("%w: %s", auth.ErrConflict, constraintSubject(pgErr.ConstraintName))
		}
		return auth.User{}, err
	}
	return u, nil
}

// Save writes the role set of an existing record.
func (s *Store) Save(ctx context.Context, u auth.User) (auth.User, error) {
	roles, err := json.Marshal(auth.NewRoleSet(u.Roles...))
	if err != nil {
		return auth.User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update users set roles = $2, updated_at = now()
		where id = $1
		returning `+userColumns, u.ID, string(roles))
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u          auth.User
		externalID sql.NullString
		roles      []byte
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &externalID, &roles, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &u.Roles); err != nil {
			return auth.User{}, fmt.Errorf("decode roles of %s: %w", u.ID, err)
		}
	}
	u.ExternalID = externalID.String
	return u, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func constraintSubject(constraint string) string {
	switch constraint {
	case "users_email_key":
		return "email already registered"
	case "users_external_id_key":
		return "external identity already linked"
	case "users_pkey":
		return "id already exists"
	}
	return "duplicate user"
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
