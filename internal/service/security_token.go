package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/repository"
	"github.com/iliyamo/credential-service/internal/utils"
)

// IssuedToken is a freshly minted security token. Token is the only copy of
// the raw value; storage keeps its digest.
type IssuedToken struct {
	Token     string
	Type      model.SecurityTokenType
	ExpiresAt time.Time
}

// SecurityTokenManager issues and consumes single-use password reset and
// email verification tokens. For each (user, type) at most one token is
// usable at a time: issuing a new one retires the previous ones.
type SecurityTokenManager struct {
	repo   SecurityTokenRepository
	signer *utils.Signer
	ttl    map[model.SecurityTokenType]time.Duration
	now    func() time.Time
}

func NewSecurityTokenManager(repo SecurityTokenRepository, signer *utils.Signer, resetTTL, verifyTTL time.Duration) *SecurityTokenManager {
	return &SecurityTokenManager{
		repo:   repo,
		signer: signer,
		ttl: map[model.SecurityTokenType]time.Duration{
			model.TokenPasswordReset:     resetTTL,
			model.TokenEmailVerification: verifyTTL,
		},
		now: time.Now,
	}
}

// CreateToken retires every unused token of type t for userID and stores a
// new one, in a single transaction.
func (m *SecurityTokenManager) CreateToken(ctx context.Context, userID uint64, t model.SecurityTokenType) (IssuedToken, error) {
	ttl, ok := m.ttl[t]
	if !ok {
		return IssuedToken{}, fmt.Errorf("%w: %q", repository.ErrUnknownTokenType, t)
	}
	claims := utils.Claims{Use: utils.UseSecurity, Type: string(t)}
	claims.Subject = strconv.FormatUint(userID, 10)
	signed, err := m.signer.Sign(claims, ttl)
	if err != nil {
		return IssuedToken{}, err
	}

	row := model.SecurityToken{
		UserID:    userID,
		TokenHash: utils.HashToken(signed.Token),
		Type:      t,
		ExpiresAt: signed.ExpiresAt,
		CreatedAt: signed.IssuedAt,
	}
	if _, err := m.repo.Replace(ctx, row); err != nil {
		return IssuedToken{}, fmt.Errorf("store %s token: %w", t, err)
	}
	return IssuedToken{Token: signed.Token, Type: t, ExpiresAt: signed.ExpiresAt}, nil
}

// VerifyAndConsume checks token against its stored row and marks it used.
// It returns the owning user id. The used flag is flipped with a
// conditional update, so of several concurrent callers with the same token
// exactly one succeeds and the rest get ErrSecurityTokenAlreadyUsed.
func (m *SecurityTokenManager) VerifyAndConsume(ctx context.Context, token string, expected model.SecurityTokenType) (uint64, error) {
	uid, err := m.Validate(ctx, token, expected)
	if err != nil {
		return 0, err
	}
	ok, err := m.repo.MarkUsed(ctx, expected, utils.HashToken(token))
	if err != nil {
		return 0, fmt.Errorf("consume %s token: %w", expected, err)
	}
	if !ok {
		return 0, ErrSecurityTokenAlreadyUsed
	}
	return uid, nil
}

// Validate runs every check of VerifyAndConsume without consuming the token.
// Callers that consume it themselves, inside a transaction with their own
// writes, must still use a conditional update.
func (m *SecurityTokenManager) Validate(ctx context.Context, token string, expected model.SecurityTokenType) (uint64, error) {
	if token == "" {
		return 0, ErrSecurityTokenInvalid
	}
	// The type claim names the table; a forged claim cannot match a row
	// because rows are keyed by the digest of the whole token.
	unverified, err := utils.DecodeUnverified(token)
	if err != nil {
		return 0, ErrSecurityTokenInvalid
	}
	t := model.SecurityTokenType(unverified.Type)
	if !t.Valid() {
		return 0, ErrSecurityTokenInvalid
	}

	hash := utils.HashToken(token)
	row, err := m.repo.GetByHash(ctx, t, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrSecurityTokenInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("load %s token: %w", t, err)
	}
	switch {
	case row.Used:
		return 0, ErrSecurityTokenAlreadyUsed
	case !row.ExpiresAt.After(m.now()):
		return 0, ErrSecurityTokenExpired
	case t != expected:
		return 0, ErrSecurityTokenWrongType
	}

	claims, err := m.signer.Verify(token, utils.UseSecurity)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return 0, ErrSecurityTokenExpired
		}
		return 0, ErrSecurityTokenInvalid
	}
	if claims.Subject != strconv.FormatUint(row.UserID, 10) || claims.Type != string(expected) {
		return 0, ErrSecurityTokenInvalid
	}
	return row.UserID, nil
}

// CleanupExpired sweeps both token tables and returns the total removed.
// A failing table does not stop the other one; the first error is returned.
func (m *SecurityTokenManager) CleanupExpired(ctx context.Context) (int64, error) {
	var total int64
	var firstErr error
	for _, t := range model.SecurityTokenTypes {
		n, err := m.CleanupExpiredType(ctx, t)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// CleanupExpiredType sweeps the table of one token type.
func (m *SecurityTokenManager) CleanupExpiredType(ctx context.Context, t model.SecurityTokenType) (int64, error) {
	return m.repo.DeleteExpired(ctx, t, m.now())
}

// Stats counts rows of one token type.
func (m *SecurityTokenManager) Stats(ctx context.Context, t model.SecurityTokenType) (model.RowStats, error) {
	return m.repo.Stats(ctx, t, m.now())
}
