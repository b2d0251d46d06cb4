package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/credential-service/internal/database"
	"github.com/iliyamo/credential-service/internal/model"
)

// SessionRepo persists server-tracked sessions in the `sessions` table.
type SessionRepo struct{ DB database.DBTX }

func NewSessionRepo(db database.DBTX) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id,user_id,user_agent,ip,data,login_time,last_activity,expires_at"

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	data, err := encodeData(s.Data)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO sessions ("+sessionColumns+") VALUES (?,?,?,?,?,?,?,?)",
		s.ID, s.UserID, s.UserAgent, s.IP, data, s.LoginTime, s.LastActivity, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID returns the session regardless of expiry; callers decide what an
// expired row means.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (model.Session, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id=? LIMIT 1", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// Touch sets last_activity.
func (r *SessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := r.DB.ExecContext(ctx, "UPDATE sessions SET last_activity=? WHERE id=?", at, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SaveMetadata overwrites the device metadata columns of a session.
func (r *SessionRepo) SaveMetadata(ctx context.Context, s model.Session) error {
	data, err := encodeData(s.Data)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE sessions SET user_agent=?, ip=?, data=?, last_activity=? WHERE id=?",
		s.UserAgent, s.IP, data, s.LastActivity, s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// SetExpiry moves expires_at.
func (r *SessionRepo) SetExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if _, err := r.DB.ExecContext(ctx, "UPDATE sessions SET expires_at=? WHERE id=?", expiresAt, id); err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	return nil
}

// Delete removes one session. Deleting a missing session is not an error.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE id=?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes every session of a user and reports how many.
func (r *SessionRepo) DeleteByUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE user_id=?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListActive returns sessions with expires_at > now, most recent activity first.
func (r *SessionRepo) ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id=? AND expires_at > ? ORDER BY last_activity DESC",
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// DeleteExpired removes sessions with expires_at < now.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteExpired(ctx, r.DB, "sessions", now)
}

// Stats counts sessions by expiry state.
func (r *SessionRepo) Stats(ctx context.Context, now time.Time) (model.RowStats, error) {
	return rowStats(ctx, r.DB, "sessions", now)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (model.Session, error) {
	var (
		s    model.Session
		data []byte
	)
	if err := sc.Scan(&s.ID, &s.UserID, &s.UserAgent, &s.IP, &data, &s.LoginTime, &s.LastActivity, &s.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, err
		}
		return model.Session{}, fmt.Errorf("scan session: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.Data); err != nil {
			return model.Session{}, fmt.Errorf("decode session data: %w", err)
		}
	}
	return s, nil
}

func encodeData(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	return string(b), nil
}

// deleteExpired and rowStats are shared by every table with an expires_at
// column. table is always a constant from this package.
func deleteExpired(ctx context.Context, db database.DBTX, table string, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", table, err)
	}
	return res.RowsAffected()
}

func rowStats(ctx context.Context, db database.DBTX, table string, now time.Time) (model.RowStats, error) {
	var st model.RowStats
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(expires_at > ?),0), COALESCE(SUM(expires_at < ?),0) FROM "+table,
		now, now).Scan(&st.Total, &st.Active, &st.Expired)
	if err != nil {
		return model.RowStats{}, fmt.Errorf("stats %s: %w", table, err)
	}
	return st, nil
}
