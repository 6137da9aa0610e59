// Package redis provides a Redis-backed token blacklist. Redis fits this
// store well: entries carry their own TTL, so revoked ids vanish exactly
// when the tokens they belong to expire.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authmux:blacklist:"

// BlacklistStore implements authmux.BlacklistStore over a Redis client.
type BlacklistStore struct {
	client redis.UniversalClient
}

// NewBlacklistStore wraps an existing Redis client.
func NewBlacklistStore(client redis.UniversalClient) *BlacklistStore {
	return &BlacklistStore{client: client}
}

func (s *BlacklistStore) BlacklistJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; nothing to deny.
		return nil
	}
	return s.client.Set(ctx, keyPrefix+jti, "1", ttl).Err()
}

func (s *BlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
