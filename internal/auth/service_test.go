package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vigil-auth/vigil/internal/platform/httpx"
	"github.com/vigil-auth/vigil/internal/token"
)

type mockRepo struct {
	users   map[string]*User
	revoked map[string]RevokedToken
	nextID  int64
	now     func() time.Time

	// Error injection.
	findErr      error
	insertErr    error
	revokeErr    error
	checkErr     error
	forceInsDupe bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		users:   make(map[string]*User),
		revoked: make(map[string]RevokedToken),
		nextID:  1,
		now:     time.Now,
	}
}

func (m *mockRepo) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	user, ok := m.users[email]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *mockRepo) InsertUser(ctx context.Context, user *User) (*User, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if m.forceInsDupe {
		return nil, httpx.ErrDuplicate
	}
	if _, ok := m.users[user.Email]; ok {
		return nil, httpx.ErrDuplicate
	}
	user.ID = m.nextID
	m.nextID++
	user.CreatedAt = m.now()
	m.users[user.Email] = user
	return user, nil
}

func (m *mockRepo) InsertRevocation(ctx context.Context, tok string, expiresAt time.Time) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	m.revoked[tok] = RevokedToken{Token: tok, RevokedAt: m.now(), ExpiresAt: expiresAt}
	return nil
}

func (m *mockRepo) IsTokenRevoked(ctx context.Context, tok string) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	entry, ok := m.revoked[tok]
	return ok && entry.ExpiresAt.After(m.now()), nil
}

func (m *mockRepo) DeleteExpiredRevocations(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	for tok, entry := range m.revoked {
		if !entry.ExpiresAt.After(before) {
			delete(m.revoked, tok)
			removed++
		}
	}
	return removed, nil
}

var _ Repository = (*mockRepo)(nil)

func testCodec() *token.Codec {
	return token.NewCodec(token.Config{
		Secret:   "test-secret",
		Issuer:   "vigil-test",
		Audience: "vigil-test-clients",
		TTL:      time.Hour,
	})
}

func newTestService(repo Repository) *Service {
	return NewService(repo, testCodec(), nil)
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	service := newTestService(repo)

	err := service.Register(context.Background(), "Alice", "alice@x.com", "Secret1")
	require.NoError(t, err)

	stored, ok := repo.users["alice@x.com"]
	require.True(t, ok)
	assert.Equal(t, "Alice", stored.Name)
	assert.NotEqual(t, "Secret1", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Secret1")))
}

func TestRegister_ValidationFieldOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		inName   string
		inEmail  string
		inPass   string
		wantSub  string
	}{
		{"all empty reports name", "", "", "", "'name'"},
		{"whitespace name reports name", "   ", "alice@x.com", "Secret1", "'name'"},
		{"empty name and email reports name", "", "", "Secret1", "'name'"},
		{"empty email reports email", "Alice", "", "Secret1", "'email'"},
		{"whitespace password reports password", "Alice", "alice@x.com", "\t ", "'password'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			service := newTestService(newMockRepo())
			err := service.Register(context.Background(), tc.inName, tc.inEmail, tc.inPass)
			require.ErrorIs(t, err, httpx.ErrValidation)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	service := newTestService(repo)

	require.NoError(t, service.Register(context.Background(), "Alice", "alice@x.com", "Secret1"))

	// A different name and password do not matter; the email decides.
	err := service.Register(context.Background(), "Alicia", "alice@x.com", "Other2")
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	assert.Contains(t, err.Error(), "email already registered")
}

func TestRegister_DuplicateRaceLostOnInsert(t *testing.T) {
	t.Parallel()

	// The existence pre-check passes (no stored user) but the insert reports
	// a uniqueness violation, as a concurrent registration would cause.
	repo := newMockRepo()
	repo.forceInsDupe = true
	service := newTestService(repo)

	err := service.Register(context.Background(), "Alice", "alice@x.com", "Secret1")
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	assert.Contains(t, err.Error(), "email already registered")
}

func TestAuthenticate_Success(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	service := newTestService(repo)
	require.NoError(t, service.Register(context.Background(), "Alice", "alice@x.com", "Secret1"))

	user, err := service.Authenticate(context.Background(), "alice@x.com", "Secret1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.NotEqual(t, "Secret1", user.PasswordHash)
}

func TestAuthenticate_NonDistinguishingError(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	service := newTestService(repo)
	require.NoError(t, service.Register(context.Background(), "Alice", "alice@x.com", "Secret1"))

	_, unknownErr := service.Authenticate(context.Background(), "nobody@x.com", "Secret1")
	require.ErrorIs(t, unknownErr, httpx.ErrUnauthorized)

	_, wrongErr := service.Authenticate(context.Background(), "alice@x.com", "wrong")
	require.ErrorIs(t, wrongErr, httpx.ErrUnauthorized)

	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestAuthenticate_ValidationFieldOrder(t *testing.T) {
	t.Parallel()

	service := newTestService(newMockRepo())

	_, err := service.Authenticate(context.Background(), "", "")
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "'email'")

	_, err = service.Authenticate(context.Background(), "alice@x.com", "  ")
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "'password'")
}

func TestIssueToken_DistinctOnImmediateReissue(t *testing.T) {
	t.Parallel()

	service := newTestService(newMockRepo())

	first, err := service.IssueToken("alice@x.com", "Alice")
	require.NoError(t, err)
	second, err := service.IssueToken("alice@x.com", "Alice")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	codec := testCodec()
	firstClaims, err := codec.Parse(first)
	require.NoError(t, err)
	secondClaims, err := codec.Parse(second)
	require.NoError(t, err)
	assert.Equal(t, firstClaims.Subject, secondClaims.Subject)
	assert.Equal(t, firstClaims.Name, secondClaims.Name)
	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

func TestLogout_RevokesToken(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	service := newTestService(repo)

	tok, err := service.IssueToken("alice@x.com", "Alice")
	require.NoError(t, err)
	other, err := service.IssueToken("bob@x.com", "Bob")
	require.NoError(t, err)

	require.NoError(t, service.Logout(context.Background(), tok))

	valid, err := service.IsValid(context.Background(), tok)
	require.NoError(t, err)
	assert.False(t, valid)

	otherValid, err := service.IsValid(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, otherValid)

	// A never-issued string has no ledger entry and therefore reports valid.
	strayValid, err := service.IsValid(context.Background(), "never-issued-token")
	require.NoError(t, err)
	assert.True(t, strayValid)
}

func TestLogout_InvalidToken(t *testing.T) {
	t.Parallel()

	service := newTestService(newMockRepo())

	err := service.Logout(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestLogout_Idempotent(t *testing.T) {
	t.Parallel()

	service := newTestService(newMockRepo())

	tok, err := service.IssueToken("alice@x.com", "Alice")
	require.NoError(t, err)

	require.NoError(t, service.Logout(context.Background(), tok))
	require.NoError(t, service.Logout(context.Background(), tok))

	valid, err := service.IsValid(context.Background(), tok)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestIsValid_ExpiredRevocationEntryBehavesAsAbsent(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	// An already expired token: its revocation entry carries a past expiry,
	// so the ledger must answer "not revoked" for it.
	expiredCodec := token.NewCodec(token.Config{
		Secret:   "test-secret",
		Issuer:   "vigil-test",
		Audience: "vigil-test-clients",
		TTL:      -time.Minute,
	})
	service := NewService(repo, expiredCodec, nil)

	tok, err := service.IssueToken("alice@x.com", "Alice")
	require.NoError(t, err)
	require.NoError(t, service.Logout(context.Background(), tok))

	entry, ok := repo.revoked[tok]
	require.True(t, ok)
	require.True(t, entry.ExpiresAt.Before(time.Now()))

	valid, err := service.IsValid(context.Background(), tok)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestIsValid_StoreFailure(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	repo.checkErr = errors.New("store down")
	service := newTestService(repo)

	_, err := service.IsValid(context.Background(), "any-token")
	assert.Error(t, err)
}

func TestScenario_RegisterLoginLogout(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	service := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, service.Register(ctx, "Alice", "alice@x.com", "Secret1"))
	require.ErrorIs(t, service.Register(ctx, "Alice", "alice@x.com", "Secret1"), httpx.ErrDuplicate)

	user, err := service.Authenticate(ctx, "alice@x.com", "Secret1")
	require.NoError(t, err)

	tok, err := service.IssueToken(user.Email, user.Name)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	require.NoError(t, service.Logout(ctx, tok))
	require.NoError(t, service.Logout(ctx, tok))

	valid, err := service.IsValid(ctx, tok)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestPruneExpiredRevocations(t *testing.T) {
	t.Parallel()

	repo := newMockRepo()
	now := time.Now()
	repo.revoked["stale"] = RevokedToken{Token: "stale", RevokedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	repo.revoked["live"] = RevokedToken{Token: "live", RevokedAt: now, ExpiresAt: now.Add(time.Hour)}

	removed, err := repo.DeleteExpiredRevocations(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	service := newTestService(repo)
	valid, err := service.IsValid(context.Background(), "live")
	require.NoError(t, err)
	assert.False(t, valid)
	valid, err = service.IsValid(context.Background(), "stale")
	require.NoError(t, err)
	assert.True(t, valid)
}
