package model

import "time"

// Session mirrors a row of the `sessions` table: one logical login on one
// device. Data holds free-form client metadata merged by SessionStore.Update.
type Session struct {
	ID           string            // sessions.id, 64 hex chars
	UserID       uint64            // sessions.user_id
	UserAgent    string            // sessions.user_agent
	IP           string            // sessions.ip
	Data         map[string]string // sessions.data (JSON)
	LoginTime    time.Time         // sessions.login_time
	LastActivity time.Time         // sessions.last_activity
	ExpiresAt    time.Time         // sessions.expires_at
}

// SessionSummary is the shape returned when a user lists their devices.
type SessionSummary struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"user_agent"`
	IP           string    `json:"ip"`
	LoginTime    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Summary drops the metadata map and the owner id.
func (s Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		UserAgent:    s.UserAgent,
		IP:           s.IP,
		LoginTime:    s.LoginTime,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
	}
}
