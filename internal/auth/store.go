package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	userid     UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name       TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// querier is the subset of *pgxpool.Pool used by PGStore.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is a Store backed by Postgres. Passwords are stored as bcrypt
// hashes.
type PGStore struct {
	db   querier
	cost int
}

// NewPGStore creates a store on db, typically a *pgxpool.Pool.
func NewPGStore(db querier) *PGStore {
	return &PGStore{db: db, cost: bcrypt.DefaultCost}
}

// EnsureSchema creates the users table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// Register creates a user.
func (s *PGStore) Register(ctx context.Context, name, password string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return uuid.Nil, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	var id uuid.UUID
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (name, password) VALUES ($1, $2) RETURNING userid`,
		name, string(hash),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return uuid.Nil, ErrUserExists
		}
		return uuid.Nil, fmt.Errorf("insert user: %w", err)
	}

	return id, nil
}

// Authenticate checks name and password.
func (s *PGStore) Authenticate(ctx context.Context, name, password string) (uuid.UUID, error) {
	var (
		id   uuid.UUID
		hash string
	)
	err := s.db.QueryRow(ctx,
		`SELECT userid, password FROM users WHERE name = $1`,
		strings.TrimSpace(name),
	).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrInvalidCredentials
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return uuid.Nil, ErrInvalidCredentials
	}
	return id, nil
}

// Exists reports ErrUserNotFound for unknown ids.
func (s *PGStore) Exists(ctx context.Context, id uuid.UUID) error {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM users WHERE userid = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("select user: %w", err)
	}
	return nil
}

// Delete removes a user.
func (s *PGStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE userid = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
