package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "auth:revoked:"

// RevocationCache is a best-effort write-through cache in front of the
// revocation ledger. Entries expire together with the token they mark, so a
// hit always means "revoked and unexpired". A miss is never authoritative
// (the cache may have restarted); callers fall through to the store.
type RevocationCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRevocationCache instantiates the cache helper. A nil client yields a
// no-op cache.
func NewRevocationCache(client *redis.Client) *RevocationCache {
	return &RevocationCache{client: client, now: time.Now}
}

// MarkRevoked records the token with a TTL equal to its remaining lifetime.
// Tokens already past their expiry are not cached.
func (c *RevocationCache) MarkRevoked(ctx context.Context, token string, expiresAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, revokedKeyPrefix+token, 1, ttl).Err()
}

// IsRevoked reports whether a live cache entry exists for the token. The
// second return is false whenever the cache could not answer positively, in
// which case the caller must consult the ledger.
func (c *RevocationCache) IsRevoked(ctx context.Context, token string) (revoked, ok bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	if err := c.client.Get(ctx, revokedKeyPrefix+token).Err(); err != nil {
		return false, false
	}
	return true, true
}
