// Package cache holds the Redis side of token revocation.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations stores one key per revoked access token digest. Keys expire
// with the token, so Redis never holds more than the live blacklist.
type Revocations struct {
	rdb    *redis.Client
	prefix string
}

func NewRevocations(rdb *redis.Client, prefix string) *Revocations {
	if prefix == "" {
		prefix = "bl"
	}
	return &Revocations{rdb: rdb, prefix: prefix}
}

func (r *Revocations) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", r.prefix, tokenHash)
}

// MarkRevoked records tokenHash for ttl. A non-positive ttl is a no-op.
func (r *Revocations) MarkRevoked(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.key(tokenHash), 1, ttl).Err()
}

// IsRevoked reports a positive hit only. false means "ask the database".
func (r *Revocations) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(tokenHash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
