package auth

import "time"

// User represents a registered account. Records are immutable once created;
// the service never updates or deletes them.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// RevokedToken marks a bearer token invalidated before its natural expiry.
// ExpiresAt is copied from the token itself at revocation time; once it has
// passed, the entry is inert and equivalent to absent.
type RevokedToken struct {
	Token     string
	RevokedAt time.Time
	ExpiresAt time.Time
}
