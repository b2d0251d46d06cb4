package service

import (
	"context"
	"time"

	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/queue"
)

// The interfaces below are the narrow views each service has of storage and
// delivery. The repository package satisfies the store interfaces with MySQL.

type UserStore interface {
	Create(ctx context.Context, email, passwordHash, role string) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id uint64) error
	TouchLastLogin(ctx context.Context, id uint64, at time.Time) error
}

type SessionRepository interface {
	Create(ctx context.Context, s model.Session) error
	GetByID(ctx context.Context, id string) (model.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	SaveMetadata(ctx context.Context, s model.Session) error
	SetExpiry(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID uint64) (int64, error)
	ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (model.RowStats, error)
}

type BlacklistRepository interface {
	Insert(ctx context.Context, e model.BlacklistEntry) error
	Exists(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (model.RowStats, error)
}

type SecurityTokenRepository interface {
	Replace(ctx context.Context, tok model.SecurityToken) (int64, error)
	GetByHash(ctx context.Context, t model.SecurityTokenType, tokenHash string) (model.SecurityToken, error)
	MarkUsed(ctx context.Context, t model.SecurityTokenType, tokenHash string) (bool, error)
	DeleteExpired(ctx context.Context, t model.SecurityTokenType, now time.Time) (int64, error)
	Stats(ctx context.Context, t model.SecurityTokenType, now time.Time) (model.RowStats, error)
}

// PasswordResetter applies a password reset as one unit: the unused reset
// token stored under tokenHash for userID is consumed, the password hash is
// replaced and every session of the user is deleted. consumed is false, and
// nothing is written, when the token was no longer usable.
type PasswordResetter interface {
	ApplyPasswordReset(ctx context.Context, tokenHash string, userID uint64, passwordHash string) (consumed bool, err error)
}

// RevocationCache is an optional fast path in front of BlacklistRepository.
// It only ever answers "revoked"; a miss is not authoritative.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// EmailQueue hands outbound account emails to the delivery pipeline.
type EmailQueue interface {
	Enqueue(ctx context.Context, ev queue.EmailEvent) error
}

// ConnectionRegistry tracks live realtime connections per user so that a
// global logout also drops them.
type ConnectionRegistry interface {
	DisconnectUser(userID uint64) int
}
