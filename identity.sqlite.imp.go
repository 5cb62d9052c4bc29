// File: identity.sqlite.imp.go

package gourdiansession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	name        TEXT,
	email       TEXT NOT NULL UNIQUE COLLATE NOCASE,
	role        TEXT NOT NULL DEFAULT 'member',
	created_at  INTEGER NOT NULL,
	deleted_at  INTEGER
);`

// SQLiteIdentityResolver resolves accounts from a SQLite users table.
type SQLiteIdentityResolver struct {
	db *sql.DB
}

// NewSQLiteIdentityResolver opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteIdentityResolver(ctx context.Context, path string) (*SQLiteIdentityResolver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, accountsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init users table schema: %w", err)
	}
	return &SQLiteIdentityResolver{db: db}, nil
}

func (s *SQLiteIdentityResolver) Close() error {
	return s.db.Close()
}

// CreateAccount inserts account, assigning an ID and creation time when unset.
func (s *SQLiteIdentityResolver) CreateAccount(ctx context.Context, account Account) (*Account, error) {
	if account.Email == "" {
		return nil, fmt.Errorf("account email is required")
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Role == "" {
		account.Role = "member"
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	var deletedAt sql.NullInt64
	if account.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: account.DeletedAt.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role, created_at, deleted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID.String(), account.Name, normalizeEmail(account.Email), account.Role, account.CreatedAt.Unix(), deletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	return &account, nil
}

// DeleteAccount soft-deletes the account with the given email.
func (s *SQLiteIdentityResolver) DeleteAccount(ctx context.Context, email string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ? WHERE email = ? AND deleted_at IS NULL`,
		at.Unix(), normalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteIdentityResolver) ResolveIdentity(ctx context.Context, identifier string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at FROM users WHERE email = ? AND deleted_at IS NULL`,
		normalizeEmail(identifier),
	)

	var (
		account   Account
		id        string
		name      sql.NullString
		createdAt int64
	)
	if err := row.Scan(&id, &name, &account.Email, &account.Role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to query account: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid account ID: %w", err)
	}
	account.ID = parsed
	account.Name = name.String
	account.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &account, nil
}
