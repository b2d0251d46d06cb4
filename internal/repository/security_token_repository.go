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

// SecurityTokenRepo persists password reset and email verification tokens.
// Each type has its own table with identical columns.
type SecurityTokenRepo struct{ DB *sql.DB }

func NewSecurityTokenRepo(db *sql.DB) *SecurityTokenRepo { return &SecurityTokenRepo{DB: db} }

func tableFor(t model.SecurityTokenType) (string, error) {
	switch t {
	case model.TokenPasswordReset:
		return "password_reset_tokens", nil
	case model.TokenEmailVerification:
		return "email_verification_tokens", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTokenType, t)
}

// Replace marks every unused token of tok.Type for tok.UserID as used and
// inserts tok, in one transaction. It returns how many tokens were
// invalidated.
func (r *SecurityTokenRepo) Replace(ctx context.Context, tok model.SecurityToken) (int64, error) {
	table, err := tableFor(tok.Type)
	if err != nil {
		return 0, err
	}
	var invalidated int64
	err = database.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx database.DBTX) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE "+table+" SET used=1 WHERE user_id=? AND used=0", tok.UserID)
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", table, err)
		}
		invalidated, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (user_id, token_hash, used, expires_at) VALUES (?,?,0,?)",
			tok.UserID, tok.TokenHash, tok.ExpiresAt); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return invalidated, nil
}

// GetByHash looks up a token row of type t.
func (r *SecurityTokenRepo) GetByHash(ctx context.Context, t model.SecurityTokenType, tokenHash string) (model.SecurityToken, error) {
	table, err := tableFor(t)
	if err != nil {
		return model.SecurityToken{}, err
	}
	tok := model.SecurityToken{Type: t}
	err = r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, used, expires_at, created_at FROM "+table+" WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.Used, &tok.ExpiresAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SecurityToken{}, ErrNotFound
		}
		return model.SecurityToken{}, fmt.Errorf("lookup %s: %w", table, err)
	}
	return tok, nil
}

// MarkUsed flips used to 1 only if the row is still unused. It returns false
// when another caller consumed the token first.
func (r *SecurityTokenRepo) MarkUsed(ctx context.Context, t model.SecurityTokenType, tokenHash string) (bool, error) {
	table, err := tableFor(t)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE "+table+" SET used=1 WHERE token_hash=? AND used=0", tokenHash)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", table, err)
	}
	return n == 1, nil
}

// DeleteExpired removes rows of type t with expires_at < now, used or not.
func (r *SecurityTokenRepo) DeleteExpired(ctx context.Context, t model.SecurityTokenType, now time.Time) (int64, error) {
	table, err := tableFor(t)
	if err != nil {
		return 0, err
	}
	return deleteExpired(ctx, r.DB, table, now)
}

// Stats counts rows of type t by expiry state.
func (r *SecurityTokenRepo) Stats(ctx context.Context, t model.SecurityTokenType, now time.Time) (model.RowStats, error) {
	table, err := tableFor(t)
	if err != nil {
		return model.RowStats{}, err
	}
	return rowStats(ctx, r.DB, table, now)
}
