package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order at startup. Every statement is idempotent.
// Token columns hold SHA-256 hex digests, hence CHAR(64).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		email          VARCHAR(255) NOT NULL UNIQUE,
		password_hash  VARCHAR(255) NOT NULL,
		role           VARCHAR(32)  NOT NULL DEFAULT 'USER',
		is_active      TINYINT(1)   NOT NULL DEFAULT 1,
		email_verified TINYINT(1)   NOT NULL DEFAULT 0,
		last_login_at  DATETIME(3)  NULL,
		created_at     DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at     DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id            CHAR(64)        NOT NULL PRIMARY KEY,
		user_id       BIGINT UNSIGNED NOT NULL,
		user_agent    VARCHAR(512)    NOT NULL DEFAULT '',
		ip            VARCHAR(64)     NOT NULL DEFAULT '',
		data          JSON            NULL,
		login_time    DATETIME(3)     NOT NULL,
		last_activity DATETIME(3)     NOT NULL,
		expires_at    DATETIME(3)     NOT NULL,
		INDEX idx_sessions_user (user_id, expires_at),
		INDEX idx_sessions_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS token_blacklist (
		token_hash CHAR(64)        NOT NULL PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		expires_at DATETIME(3)     NOT NULL,
		created_at DATETIME(3)     NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		INDEX idx_blacklist_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	securityTokenTable("password_reset_tokens"),
	securityTokenTable("email_verification_tokens"),
}

func securityTokenTable(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64)        NOT NULL UNIQUE,
		used       TINYINT(1)      NOT NULL DEFAULT 0,
		expires_at DATETIME(3)     NOT NULL,
		created_at DATETIME(3)     NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		INDEX idx_%s_user (user_id, used),
		INDEX idx_%s_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, name, name, name)
}

// EnsureSchema creates the tables this service owns when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
