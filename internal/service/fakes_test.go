package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/queue"
	"github.com/iliyamo/credential-service/internal/repository"
	"github.com/iliyamo/credential-service/internal/utils"
)

// testClock is a settable clock shared by every component of a test env.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errStore = errors.New("store unavailable")

type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[uint64]model.User{}} }

func (m *memUsers) Create(_ context.Context, email, hash, role string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	m.nextID++
	m.byID[m.nextID] = model.User{ID: m.nextID, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	return m.nextID, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) update(id uint64, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	m.byID[id] = u
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id uint64, hash string) error {
	return m.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id uint64) error {
	return m.update(id, func(u *model.User) { u.EmailVerified = true })
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uint64, at time.Time) error {
	return m.update(id, func(u *model.User) { u.LastLoginAt = &at })
}

// seed adds a user with a bcrypt hash of password at the minimum cost.
func (m *memUsers) seed(t *testing.T, email, password string, active bool) model.User {
	t.Helper()
	hash, err := utils.HashPassword(password, 4)
	if err != nil {
		t.Fatal(err)
	}
	id, err := m.Create(context.Background(), email, hash, model.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	_ = m.update(id, func(u *model.User) { u.IsActive = active })
	u, _ := m.GetByID(context.Background(), id)
	return u
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]model.Session
}

func newMemSessions() *memSessions { return &memSessions{rows: map[string]model.Session{}} }

func (m *memSessions) Create(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		s.LastActivity = at
		m.rows[id] = s
	}
	return nil
}

func (m *memSessions) SaveMetadata(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[s.ID]
	if !ok {
		return nil
	}
	cur.UserAgent, cur.IP, cur.LastActivity = s.UserAgent, s.IP, s.LastActivity
	cur.Data = map[string]string{}
	for k, v := range s.Data {
		cur.Data[k] = v
	}
	m.rows[s.ID] = cur
	return nil
}

func (m *memSessions) SetExpiry(_ context.Context, id string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		s.ExpiresAt = exp
		m.rows[id] = s
	}
	return nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memSessions) DeleteByUser(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.UserID == userID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) ListActive(_ context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.rows {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.ExpiresAt.Before(now) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) Stats(_ context.Context, now time.Time) (model.RowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.RowStats{Total: int64(len(m.rows))}
	for _, s := range m.rows {
		switch {
		case s.ExpiresAt.After(now):
			st.Active++
		case s.ExpiresAt.Before(now):
			st.Expired++
		}
	}
	return st, nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memBlacklist struct {
	mu      sync.Mutex
	rows    map[string]model.BlacklistEntry
	failAll bool
}

func newMemBlacklist() *memBlacklist { return &memBlacklist{rows: map[string]model.BlacklistEntry{}} }

func (m *memBlacklist) Insert(_ context.Context, e model.BlacklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errStore
	}
	if cur, ok := m.rows[e.TokenHash]; ok && cur.ExpiresAt.After(e.ExpiresAt) {
		e.ExpiresAt = cur.ExpiresAt
	}
	m.rows[e.TokenHash] = e
	return nil
}

func (m *memBlacklist) Exists(_ context.Context, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errStore
	}
	e, ok := m.rows[hash]
	return ok && e.ExpiresAt.After(now), nil
}

func (m *memBlacklist) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return 0, errStore
	}
	var n int64
	for h, e := range m.rows {
		if e.ExpiresAt.Before(now) {
			delete(m.rows, h)
			n++
		}
	}
	return n, nil
}

func (m *memBlacklist) Stats(_ context.Context, now time.Time) (model.RowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.RowStats{Total: int64(len(m.rows))}
	for _, e := range m.rows {
		if e.ExpiresAt.After(now) {
			st.Active++
		} else if e.ExpiresAt.Before(now) {
			st.Expired++
		}
	}
	return st, nil
}

func (m *memBlacklist) setFail(v bool) {
	m.mu.Lock()
	m.failAll = v
	m.mu.Unlock()
}

type memSecurityTokens struct {
	mu   sync.Mutex
	rows map[model.SecurityTokenType]map[string]*model.SecurityToken
}

func newMemSecurityTokens() *memSecurityTokens {
	return &memSecurityTokens{rows: map[model.SecurityTokenType]map[string]*model.SecurityToken{
		model.TokenPasswordReset:     {},
		model.TokenEmailVerification: {},
	}}
}

func (m *memSecurityTokens) Replace(_ context.Context, tok model.SecurityToken) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows[tok.Type] {
		if r.UserID == tok.UserID && !r.Used {
			r.Used = true
			n++
		}
	}
	cp := tok
	m.rows[tok.Type][tok.TokenHash] = &cp
	return n, nil
}

func (m *memSecurityTokens) GetByHash(_ context.Context, t model.SecurityTokenType, hash string) (model.SecurityToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[t][hash]
	if !ok {
		return model.SecurityToken{}, repository.ErrNotFound
	}
	return *r, nil
}

func (m *memSecurityTokens) MarkUsed(_ context.Context, t model.SecurityTokenType, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[t][hash]
	if !ok || r.Used {
		return false, nil
	}
	r.Used = true
	return true, nil
}

func (m *memSecurityTokens) DeleteExpired(_ context.Context, t model.SecurityTokenType, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, r := range m.rows[t] {
		if r.ExpiresAt.Before(now) {
			delete(m.rows[t], h)
			n++
		}
	}
	return n, nil
}

func (m *memSecurityTokens) Stats(_ context.Context, t model.SecurityTokenType, now time.Time) (model.RowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.RowStats{Total: int64(len(m.rows[t]))}
	for _, r := range m.rows[t] {
		if r.ExpiresAt.After(now) {
			st.Active++
		} else if r.ExpiresAt.Before(now) {
			st.Expired++
		}
	}
	return st, nil
}

func (m *memSecurityTokens) count(t model.SecurityTokenType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[t])
}

// memResets applies a reset over the in-memory stores. With fail set it
// reports an error and writes nothing, like a rolled back transaction.
type memResets struct {
	users    *memUsers
	sessions *memSessions
	tokens   *memSecurityTokens
	fail     error
}

func (m *memResets) ApplyPasswordReset(ctx context.Context, hash string, userID uint64, passwordHash string) (bool, error) {
	if m.fail != nil {
		return false, m.fail
	}
	m.tokens.mu.Lock()
	r, ok := m.tokens.rows[model.TokenPasswordReset][hash]
	if !ok || r.Used || r.UserID != userID {
		m.tokens.mu.Unlock()
		return false, nil
	}
	r.Used = true
	m.tokens.mu.Unlock()

	if err := m.users.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return false, err
	}
	_, err := m.sessions.DeleteByUser(ctx, userID)
	return err == nil, err
}

type fakeCache struct {
	mu      sync.Mutex
	keys    map[string]time.Duration
	readErr error
	markErr error
}

func newFakeCache() *fakeCache { return &fakeCache{keys: map[string]time.Duration{}} }

func (c *fakeCache) MarkRevoked(_ context.Context, hash string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	c.keys[hash] = ttl
	return nil
}

func (c *fakeCache) IsRevoked(_ context.Context, hash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return false, c.readErr
	}
	_, ok := c.keys[hash]
	return ok, nil
}

type fakeEmails struct {
	mu  sync.Mutex
	evs []queue.EmailEvent
}

func (f *fakeEmails) Enqueue(_ context.Context, ev queue.EmailEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evs = append(f.evs, ev)
	return nil
}

func (f *fakeEmails) last(kind queue.EmailKind) (queue.EmailEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.evs) - 1; i >= 0; i-- {
		if f.evs[i].Kind == kind {
			return f.evs[i], true
		}
	}
	return queue.EmailEvent{}, false
}

func (f *fakeEmails) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evs)
}

type fakeConns struct {
	mu           sync.Mutex
	disconnected []uint64
}

func (f *fakeConns) DisconnectUser(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return 1
}

// env wires every service over in-memory stores and one clock.
type env struct {
	clock     *testClock
	users     *memUsers
	sessRepo  *memSessions
	blRepo    *memBlacklist
	tokRepo   *memSecurityTokens
	resets    *memResets
	cache     *fakeCache
	emails    *fakeEmails
	conns     *fakeConns
	access    *utils.Signer
	renewal   *utils.Signer
	sessions  *SessionStore
	blacklist *TokenBlacklist
	tokens    *SecurityTokenManager
	issuer    *Issuer
}

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
)

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:    newClock(),
		users:    newMemUsers(),
		sessRepo: newMemSessions(),
		blRepo:   newMemBlacklist(),
		tokRepo:  newMemSecurityTokens(),
		cache:    newFakeCache(),
		emails:   &fakeEmails{},
		conns:    &fakeConns{},
	}
	log := zap.NewNop()
	e.resets = &memResets{users: e.users, sessions: e.sessRepo, tokens: e.tokRepo}
	e.access = utils.NewSigner("access-secret", "test").WithClock(e.clock.Now)
	e.renewal = utils.NewSigner("refresh-secret", "test").WithClock(e.clock.Now)

	e.sessions = NewSessionStore(e.sessRepo, 24*time.Hour)
	e.sessions.now = e.clock.Now
	e.blacklist = NewTokenBlacklist(e.blRepo, e.cache, log)
	e.blacklist.now = e.clock.Now
	e.tokens = NewSecurityTokenManager(e.tokRepo, e.access, time.Hour, 24*time.Hour)
	e.tokens.now = e.clock.Now

	e.issuer = NewIssuer(IssuerDeps{
		Users:     e.users,
		Sessions:  e.sessions,
		Blacklist: e.blacklist,
		Tokens:    e.tokens,
		Resets:    e.resets,
		Access:    e.access,
		Renewal:   e.renewal,
		Emails:    e.emails,
		Conns:     e.conns,
		Log:       log,
	}, IssuerConfig{
		AccessTTL:          testAccessTTL,
		RefreshTTL:         testRefreshTTL,
		BcryptCost:         4,
		SessionExtendHours: 24,
	})
	e.issuer.now = e.clock.Now
	return e
}
