package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/credential-service/internal/database"
)

// PasswordResetRepo commits a password reset in one transaction over the
// token, user and session tables.
type PasswordResetRepo struct{ DB *sql.DB }

func NewPasswordResetRepo(db *sql.DB) *PasswordResetRepo { return &PasswordResetRepo{DB: db} }

// ApplyPasswordReset consumes the reset token, replaces the password hash and
// deletes every session of userID. When the token is already used nothing is
// written and consumed is false. Any failure rolls the whole reset back.
func (r *PasswordResetRepo) ApplyPasswordReset(ctx context.Context, tokenHash string, userID uint64, passwordHash string) (consumed bool, err error) {
	err = database.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx database.DBTX) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE password_reset_tokens SET used=1 WHERE token_hash=? AND user_id=? AND used=0",
			tokenHash, userID)
		if err != nil {
			return fmt.Errorf("consume password_reset_tokens: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume password_reset_tokens: %w", err)
		}
		if n != 1 {
			return nil
		}

		if err := NewUserRepo(tx).UpdatePassword(ctx, userID, passwordHash); err != nil {
			return err
		}
		if _, err := NewSessionRepo(tx).DeleteByUser(ctx, userID); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}
