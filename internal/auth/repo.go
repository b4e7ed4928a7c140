package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigil-auth/vigil/internal/platform/httpx"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	InsertUser(ctx context.Context, user *User) (*User, error)
	InsertRevocation(ctx context.Context, token string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
	DeleteExpiredRevocations(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindUserByEmail fetches a user by email. The match is exact: emails are
// stored and compared case-sensitively.
func (r *PGRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, fmt.Errorf("auth: find user by email: %w", err)
	}
	return user, nil
}

// InsertUser persists a new user. The unique constraint on email is the
// authoritative guard against concurrent duplicate registrations.
func (r *PGRepository) InsertUser(ctx context.Context, user *User) (*User, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id, created_at`,
		user.Name, user.Email, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return nil, httpx.ErrDuplicate
		}
		return nil, fmt.Errorf("auth: insert user: %w", err)
	}
	return user, nil
}

// InsertRevocation records a token in the revocation ledger keyed by the raw
// token string. Revoking an already revoked token refreshes revoked_at; the
// entry stays revoked either way.
func (r *PGRepository) InsertRevocation(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO revoked_tokens (token, revoked_at, expires_at) VALUES ($1, now(), $2)
		 ON CONFLICT (token) DO UPDATE SET revoked_at = EXCLUDED.revoked_at`,
		token, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("auth: insert revocation: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a live revocation entry exists for the
// token: present AND its stored expiry still in the future. An expired entry
// counts as absent.
func (r *PGRepository) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	var revoked bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token = $1 AND expires_at > now())`,
		token,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("auth: is token revoked: %w", err)
	}
	return revoked, nil
}

// DeleteExpiredRevocations prunes ledger entries whose expiry has passed.
// Housekeeping only: expired entries already behave as absent.
func (r *PGRepository) DeleteExpiredRevocations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at <= $1`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("auth: delete expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
