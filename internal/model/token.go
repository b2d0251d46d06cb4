package model

import "time"

// BlacklistEntry models a row of `token_blacklist`. Only the SHA-256 digest of
// the revoked access token is kept; ExpiresAt is copied from the token's own
// exp claim so the row never outlives the token.
type BlacklistEntry struct {
	TokenHash string
	UserID    uint64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SecurityTokenType distinguishes the two single-use token kinds. Each kind
// lives in its own table.
type SecurityTokenType string

const (
	TokenPasswordReset     SecurityTokenType = "password_reset"
	TokenEmailVerification SecurityTokenType = "email_verification"
)

// SecurityTokenTypes lists every kind, in sweep order.
var SecurityTokenTypes = []SecurityTokenType{TokenPasswordReset, TokenEmailVerification}

// Valid reports whether t is a known kind.
func (t SecurityTokenType) Valid() bool {
	return t == TokenPasswordReset || t == TokenEmailVerification
}

// SecurityToken models a password reset or email verification row. Used
// never goes back to false once set.
type SecurityToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	Type      SecurityTokenType
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RowStats counts rows of one record kind for the maintenance endpoint.
type RowStats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Expired int64 `json:"expired"`
}
