// Package utils provides the signing, hashing and random helpers behind every
// credential the service issues.
package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenUse tells which flow a signed token belongs to. Verify refuses a
// token presented for a different use, so a refresh token can never pass as
// an access token and a reset token can never authenticate a request.
type TokenUse string

const (
	UseAccess   TokenUse = "access"
	UseRefresh  TokenUse = "refresh"
	UseSecurity TokenUse = "security"
)

var (
	ErrTokenInvalid  = errors.New("token invalid")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenWrongUse = errors.New("token used for the wrong purpose")
)

// Claims is the payload of every token this service signs. Subject holds the
// user id in decimal form. Type is only set on single-use security tokens.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Use         TokenUse `json:"use"`
	Type        string   `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// SignedToken is a serialized JWT together with the claims that matter to
// callers.
type SignedToken struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues and verifies HS256 tokens with a single secret.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner returns a Signer using the wall clock.
func NewSigner(secret, issuer string) *Signer {
	return &Signer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// WithClock returns a copy of s that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// Sign fills in the registered claims (jti, iat, exp, iss) and signs c. A
// random jti keeps two tokens issued in the same second distinct.
func (s *Signer) Sign(c Claims, ttl time.Duration) (SignedToken, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	c.ID = uuid.NewString()
	c.Issuer = s.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return SignedToken{
		Token:     signed,
		ID:        c.ID,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, algorithm, expiry and issuer, then the token use.
// Expired tokens yield ErrTokenExpired, any other parse failure ErrTokenInvalid.
func (s *Signer) Verify(raw string, use TokenUse) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Use != use {
		return nil, ErrTokenWrongUse
	}
	return claims, nil
}

// DecodeUnverified reads the claims of raw without checking its signature.
// Only use it on tokens that were verified earlier in the same request.
func DecodeUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

// ExpiresAtTime returns the embedded expiry of c, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (uint64, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrTokenInvalid, c.Subject)
	}
	return id, nil
}
