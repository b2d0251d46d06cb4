// Package queue carries account emails over RabbitMQ: the HTTP side publishes
// an EmailEvent and a background consumer hands it to the mail provider.
package queue

import "time"

// EmailKind selects the template used for an EmailEvent.
type EmailKind string

const (
	EmailPasswordReset   EmailKind = "password_reset"
	EmailVerification    EmailKind = "email_verification"
	EmailPasswordChanged EmailKind = "password_changed"
)

// EmailEvent is published whenever the service needs to mail a user. Token
// is the raw security token and is only set for reset and verification mails.
type EmailEvent struct {
	Kind      EmailKind `json:"kind"`
	UserID    uint64    `json:"user_id"`
	To        string    `json:"to"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
