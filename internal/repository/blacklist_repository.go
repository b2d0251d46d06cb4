package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/credential-service/internal/database"
	"github.com/iliyamo/credential-service/internal/model"
)

// BlacklistRepo persists revoked access tokens in `token_blacklist`, keyed
// by token digest.
type BlacklistRepo struct{ DB database.DBTX }

func NewBlacklistRepo(db database.DBTX) *BlacklistRepo { return &BlacklistRepo{DB: db} }

// Insert records a revoked token. Revoking the same token twice keeps a
// single row with the later expiry.
func (r *BlacklistRepo) Insert(ctx context.Context, e model.BlacklistEntry) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO token_blacklist (token_hash, user_id, expires_at) VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE expires_at = GREATEST(expires_at, VALUES(expires_at))`,
		e.TokenHash, e.UserID, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}
	return nil
}

// Exists reports whether tokenHash is revoked and its row is still live.
func (r *BlacklistRepo) Exists(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		"SELECT 1 FROM token_blacklist WHERE token_hash=? AND expires_at > ? LIMIT 1",
		tokenHash, now).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup blacklist entry: %w", err)
	}
	return true, nil
}

// DeleteExpired removes entries whose token has expired.
func (r *BlacklistRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteExpired(ctx, r.DB, "token_blacklist", now)
}

// Stats counts entries by expiry state.
func (r *BlacklistRepo) Stats(ctx context.Context, now time.Time) (model.RowStats, error) {
	return rowStats(ctx, r.DB, "token_blacklist", now)
}
