package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/repository"
	"github.com/iliyamo/credential-service/internal/utils"
)

// sessionIDBytes of randomness back every session id (64 hex chars).
const sessionIDBytes = 32

// Metadata describes the device a session was opened from.
type Metadata struct {
	UserAgent string
	IP        string
	Data      map[string]string
}

// SessionUpdate is a partial update. Empty strings leave the stored value
// alone; Data keys are merged, and an empty value deletes its key.
type SessionUpdate struct {
	UserAgent string
	IP        string
	Data      map[string]string
}

// SessionStore manages server-tracked sessions. It knows nothing about the
// token blacklist; the issuer combines the two on logout.
type SessionStore struct {
	repo     SessionRepository
	lifetime time.Duration
	now      func() time.Time
}

func NewSessionStore(repo SessionRepository, lifetime time.Duration) *SessionStore {
	return &SessionStore{repo: repo, lifetime: lifetime, now: time.Now}
}

// Create opens a session for userID that expires after the configured
// lifetime and returns its id.
func (s *SessionStore) Create(ctx context.Context, userID uint64, md Metadata) (string, error) {
	id, err := utils.RandomHex(sessionIDBytes)
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	now := s.now().UTC()
	sess := model.Session{
		ID:           id,
		UserID:       userID,
		UserAgent:    md.UserAgent,
		IP:           md.IP,
		Data:         md.Data,
		LoginTime:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.lifetime),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns a live session and records the activity. An expired session
// is deleted on the spot and reported as ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (model.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	now := s.now().UTC()
	if err := s.repo.Touch(ctx, id, now); err != nil {
		return model.Session{}, err
	}
	sess.LastActivity = now
	return sess, nil
}

// load fetches a session and applies lazy expiry without touching it.
func (s *SessionStore) load(ctx context.Context, id string) (model.Session, error) {
	if id == "" {
		return model.Session{}, ErrSessionNotFound
	}
	sess, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		if err := s.repo.Delete(ctx, id); err != nil {
			return model.Session{}, err
		}
		return model.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// Update merges u into the session.
func (s *SessionStore) Update(ctx context.Context, id string, u SessionUpdate) (model.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if u.UserAgent != "" {
		sess.UserAgent = u.UserAgent
	}
	if u.IP != "" {
		sess.IP = u.IP
	}
	if len(u.Data) > 0 {
		if sess.Data == nil {
			sess.Data = make(map[string]string, len(u.Data))
		}
		for k, v := range u.Data {
			if v == "" {
				delete(sess.Data, k)
				continue
			}
			sess.Data[k] = v
		}
	}
	sess.LastActivity = s.now().UTC()
	if err := s.repo.SaveMetadata(ctx, sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Destroy deletes one session. A missing session is not an error.
func (s *SessionStore) Destroy(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// DestroyAll deletes every session of userID.
func (s *SessionStore) DestroyAll(ctx context.Context, userID uint64) (int64, error) {
	return s.repo.DeleteByUser(ctx, userID)
}

// DestroyOwned deletes session id only if it belongs to userID. A session
// of another user is reported exactly like a missing one.
func (s *SessionStore) DestroyOwned(ctx context.Context, userID uint64, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}
	return s.repo.Delete(ctx, id)
}

// GetOwned is Get restricted to sessions of userID.
func (s *SessionStore) GetOwned(ctx context.Context, userID uint64, id string) (model.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if sess.UserID != userID {
		return model.Session{}, ErrSessionNotFound
	}
	now := s.now().UTC()
	if err := s.repo.Touch(ctx, id, now); err != nil {
		return model.Session{}, err
	}
	sess.LastActivity = now
	return sess, nil
}

// Extend moves the expiry to now+hours. The previous expiry is ignored.
func (s *SessionStore) Extend(ctx context.Context, id string, hours int) (time.Time, error) {
	if hours < 1 {
		return time.Time{}, fmt.Errorf("%w: extend by %d hours", ErrInvalidInput, hours)
	}
	if _, err := s.load(ctx, id); err != nil {
		return time.Time{}, err
	}
	exp := s.now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := s.repo.SetExpiry(ctx, id, exp); err != nil {
		return time.Time{}, err
	}
	return exp, nil
}

// ListActive returns the unexpired sessions of userID, most recently used
// first.
func (s *SessionStore) ListActive(ctx context.Context, userID uint64) ([]model.SessionSummary, error) {
	rows, err := s.repo.ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Summary())
	}
	return out, nil
}

// CleanupExpired deletes every expired session.
func (s *SessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

// Stats counts session rows.
func (s *SessionStore) Stats(ctx context.Context) (model.RowStats, error) {
	return s.repo.Stats(ctx, s.now())
}
