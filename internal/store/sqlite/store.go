package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded SQLite schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const userColumns = `id, name, email, external_id, roles, created_at, updated_at`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a single-file user directory for local runs and tests.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ auth.Directory = (*Store)(nil)

// Open opens the database at path and applies the bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; uniqueness is still decided by the indexes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := migrate.NewManager(db, Migrations(), nil, migrate.WithDialect(migrate.SQLite)).Up(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (auth.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return auth.User{}, auth.ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
}

func (s *Store) FindByID(ctx context.Context, id string) (auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) Create(ctx context.Context, u auth.User) (auth.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Roles = auth.NewRoleSet(u.Roles...)
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return auth.User{}, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	var externalID any
	if u.ExternalID != "" {
		externalID = u.ExternalID
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO users (id, name, email, external_id, roles, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, externalID, string(roles), toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return auth.User{}, fmt.Errorf("%w: %s", auth.ErrConflict, conflictSubject(err))
		}
		return auth.User{}, err
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return u, nil
}

func (s *Store) Save(ctx context.Context, u auth.User) (auth.User, error) {
	roles, err := json.Marshal(auth.NewRoleSet(u.Roles...))
	if err != nil {
		return auth.User{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET roles = ?, updated_at = ? WHERE id = ?`,
		string(roles), toMillis(s.now()), u.ID)
	if err != nil {
		return auth.User{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.User{}, auth.ErrNotFound
	}
	return s.FindByID(ctx, u.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u          auth.User
		externalID sql.NullString
		roles      string
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &externalID, &roles, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return auth.User{}, fmt.Errorf("decode roles of %s: %w", u.ID, err)
	}
	u.ExternalID = externalID.String
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func conflictSubject(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return "email already registered"
	case strings.Contains(msg, "users.external_id"):
		return "external identity already linked"
	case strings.Contains(msg, "users.id"):
		return "id already exists"
	}
	return "duplicate user"
}
