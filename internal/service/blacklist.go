package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/utils"
)

// TokenBlacklist revokes access tokens before their natural expiry. MySQL is
// the source of truth; the optional cache only ever short-circuits a
// positive answer, so a revocation is visible to the next request even when
// the cache write was lost.
type TokenBlacklist struct {
	repo  BlacklistRepository
	cache RevocationCache // may be nil
	log   *zap.Logger
	now   func() time.Time
}

func NewTokenBlacklist(repo BlacklistRepository, cache RevocationCache, log *zap.Logger) *TokenBlacklist {
	return &TokenBlacklist{repo: repo, cache: cache, log: log.Named("blacklist"), now: time.Now}
}

// Blacklist records token as revoked until its own embedded expiry. The
// signature is not checked again; callers pass a token they already
// verified. Revoking the same token twice is not an error.
func (b *TokenBlacklist) Blacklist(ctx context.Context, token string, userID uint64) error {
	claims, err := utils.DecodeUnverified(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	exp := claims.ExpiresAtTime()
	now := b.now()
	if exp.IsZero() || !exp.After(now) {
		// Already unusable; a row would be deleted by the next sweep anyway.
		return nil
	}

	hash := utils.HashToken(token)
	entry := model.BlacklistEntry{TokenHash: hash, UserID: userID, ExpiresAt: exp, CreatedAt: now}
	if err := b.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}

	if b.cache != nil {
		if err := b.cache.MarkRevoked(ctx, hash, exp.Sub(now)); err != nil {
			b.log.Warn("cache write failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// IsBlacklisted reports whether token has been revoked and has not yet
// expired.
func (b *TokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	hash := utils.HashToken(token)
	if b.cache != nil {
		hit, err := b.cache.IsRevoked(ctx, hash)
		if err != nil {
			b.log.Debug("cache read failed, using database", zap.Error(err))
		} else if hit {
			return true, nil
		}
	}
	found, err := b.repo.Exists(ctx, hash, b.now())
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return found, nil
}

// CleanupExpired deletes entries whose token has expired.
func (b *TokenBlacklist) CleanupExpired(ctx context.Context) (int64, error) {
	return b.repo.DeleteExpired(ctx, b.now())
}

// Stats counts blacklist rows.
func (b *TokenBlacklist) Stats(ctx context.Context) (model.RowStats, error) {
	return b.repo.Stats(ctx, b.now())
}
