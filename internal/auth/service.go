package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/vigil-auth/vigil/internal/platform/httpx"
	"github.com/vigil-auth/vigil/internal/token"
)

// Service wraps the credential lifecycle rules: registration, authentication,
// token issuance and revocation. It holds no state of its own; the repository
// owns all persisted records.
type Service struct {
	repo   Repository
	codec  *token.Codec
	cache  *RevocationCache
	checks singleflight.Group
}

// NewService constructs a new Service. cache may be nil.
func NewService(repo Repository, codec *token.Codec, cache *RevocationCache) *Service {
	return &Service{repo: repo, codec: codec, cache: cache}
}

// requireFields returns a validation error naming the first field whose value
// is empty after trimming. The check order is fixed so the reported field is
// deterministic.
func requireFields(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return fmt.Errorf("%w: the '%s' field is required", httpx.ErrValidation, f[0])
		}
	}
	return nil
}

// errIncorrectCredentials is identical for unknown emails and wrong passwords
// so callers cannot enumerate accounts.
func errIncorrectCredentials() error {
	return fmt.Errorf("%w: incorrect email or password", httpx.ErrUnauthorized)
}

// Register creates a new user with a bcrypt hash of the password. The
// plaintext is never stored. The existence pre-check is an optimisation; the
// database unique constraint decides concurrent duplicates.
func (s *Service) Register(ctx context.Context, name, email, password string) error {
	if err := requireFields(
		[2]string{"name", name},
		[2]string{"email", email},
		[2]string{"password", password},
	); err != nil {
		return err
	}

	if _, err := s.repo.FindUserByEmail(ctx, email); err == nil {
		return fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
	} else if !errors.Is(err, httpx.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	if _, err := s.repo.InsertUser(ctx, &User{Name: name, Email: email, PasswordHash: string(hash)}); err != nil {
		if errors.Is(err, httpx.ErrDuplicate) {
			// Lost the race against a concurrent registration.
			return fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
		}
		return err
	}
	return nil
}

// Authenticate validates email/password credentials and returns the matching
// user. Token issuance is a separate step.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	if err := requireFields(
		[2]string{"email", email},
		[2]string{"password", password},
	); err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, errIncorrectCredentials()
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errIncorrectCredentials()
	}
	return user, nil
}

// IssueToken builds a signed bearer token for the identity. Each call is
// independent; no record of issuance is kept.
func (s *Service) IssueToken(email, name string) (string, error) {
	return s.codec.Issue(name, email)
}

// Logout revokes a bearer token by recording it in the revocation ledger
// along with its own expiry claim. The token is only structurally decoded;
// possession was already proven by the transport-level auth check.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.codec.DecodeUnverified(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return fmt.Errorf("%w: invalid token", httpx.ErrValidation)
	}
	expiresAt := claims.ExpiresAt.Time

	if err := s.repo.InsertRevocation(ctx, tokenString, expiresAt); err != nil {
		return err
	}
	// Best effort: the ledger stays authoritative when the cache is down.
	_ = s.cache.MarkRevoked(ctx, tokenString, expiresAt)
	return nil
}

// IsValid reports whether the token is still usable: true unless a live
// revocation entry exists for it. An expired revocation entry behaves as if
// absent, since such a token is already rejected upstream by expiry checks.
func (s *Service) IsValid(ctx context.Context, tokenString string) (bool, error) {
	if revoked, ok := s.cache.IsRevoked(ctx, tokenString); ok && revoked {
		return false, nil
	}
	// Concurrent checks for the same token collapse into one ledger lookup.
	v, err, _ := s.checks.Do(tokenString, func() (any, error) {
		return s.repo.IsTokenRevoked(ctx, tokenString)
	})
	if err != nil {
		return false, err
	}
	return !v.(bool), nil
}
