package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/queue"
	"github.com/iliyamo/credential-service/internal/realtime"
	"github.com/iliyamo/credential-service/internal/utils"
)

const password = "correct horse battery"

func TestLogin_IssuesTokensAndSession(t *testing.T) {
	e := newEnv(t)
	u := e.users.seed(t, "a@x.com", password, true)

	res, err := e.issuer.Login(context.Background(), " A@x.com ", password, Device{UserAgent: "phone", IP: "10.0.0.2"})
	require.NoError(t, err)

	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, int64(testAccessTTL/time.Second), res.Tokens.ExpiresIn)

	claims, err := e.access.Verify(res.Tokens.AccessToken, utils.UseAccess)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, u.ID, uid)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, model.RoleUser, claims.Role)
	assert.Equal(t, model.PermissionsForRole(model.RoleUser), claims.Permissions)

	rc, err := e.renewal.Verify(res.Tokens.RefreshToken, utils.UseRefresh)
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, rc.Subject)
	assert.Equal(t, e.clock.Now().Add(testRefreshTTL), res.Tokens.RefreshExpiresAt)

	sess, ok := e.sessRepo.rows[res.SessionID]
	require.True(t, ok)
	assert.Equal(t, u.ID, sess.UserID)
	assert.Equal(t, "phone", sess.UserAgent)
	assert.Equal(t, e.clock.Now().Add(24*time.Hour), sess.ExpiresAt)

	stored, _ := e.users.GetByID(context.Background(), u.ID)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, e.clock.Now(), *stored.LastLoginAt)
}

func TestLogin_Rejections(t *testing.T) {
	e := newEnv(t)
	e.users.seed(t, "a@x.com", password, true)
	e.users.seed(t, "off@x.com", password, false)

	cases := []struct {
		name, email, password string
		want                  error
	}{
		{"wrong password", "a@x.com", "nope-nope-nope", ErrInvalidCredentials},
		{"unknown email", "ghost@x.com", password, ErrInvalidCredentials},
		{"deactivated", "off@x.com", password, ErrAccountDeactivated},
		{"deactivated wrong password", "off@x.com", "nope-nope-nope", ErrInvalidCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.issuer.Login(context.Background(), tc.email, tc.password, Device{})
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, e.sessRepo.count(), "no session on failed login")
		})
	}
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.issuer.Register(ctx, RegisterInput{Email: "New@X.com", Password: password, Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", res.User.Email)
	assert.Equal(t, model.RoleUser, res.User.Role, "ADMIN cannot be self-assigned")
	assert.Empty(t, res.SessionID)
	assert.Zero(t, e.sessRepo.count())

	_, err = e.access.Verify(res.Tokens.AccessToken, utils.UseAccess)
	require.NoError(t, err)

	stored, err := e.users.GetByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, utils.VerifyPassword(stored.PasswordHash, password))

	ev, ok := e.emails.last(queue.EmailVerification)
	require.True(t, ok)
	assert.Equal(t, "new@x.com", ev.To)
	require.NoError(t, e.issuer.VerifyEmail(ctx, ev.Token))
	stored, _ = e.users.GetByEmail(ctx, "new@x.com")
	assert.True(t, stored.EmailVerified)

	_, err = e.issuer.Register(ctx, RegisterInput{Email: "new@x.com", Password: password})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestRegister_RoleSelection(t *testing.T) {
	e := newEnv(t)
	for i, tc := range []struct{ in, want string }{
		{"manager", model.RoleManager},
		{" MANAGER ", model.RoleManager},
		{"", model.RoleUser},
		{"ADMIN", model.RoleUser},
		{"owner", model.RoleUser},
	} {
		res, err := e.issuer.Register(context.Background(), RegisterInput{
			Email: fmt.Sprintf("r%d@x.com", i), Password: password, Role: tc.in,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.User.Role, tc.in)
	}
}

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t)
	for _, in := range []RegisterInput{
		{Email: "", Password: password},
		{Email: "not-an-email", Password: password},
		{Email: "a@x.com", Password: "short"},
	} {
		_, err := e.issuer.Register(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidInput, in.Email)
	}
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.users.seed(t, "a@x.com", password, true)
	login, err := e.issuer.Login(ctx, "a@x.com", password, Device{})
	require.NoError(t, err)

	e.clock.Advance(20 * time.Hour)
	res, err := e.issuer.Refresh(ctx, login.Tokens.RefreshToken, login.SessionID)
	require.NoError(t, err)
	assert.NotEqual(t, login.Tokens.AccessToken, res.Tokens.AccessToken)
	assert.NotEqual(t, login.Tokens.RefreshToken, res.Tokens.RefreshToken)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, e.clock.Now().Add(24*time.Hour), e.sessRepo.rows[login.SessionID].ExpiresAt, "session extended from now")

	// rotation does not revoke the old refresh token
	_, err = e.issuer.Refresh(ctx, login.Tokens.RefreshToken, "")
	assert.NoError(t, err)
}

func TestRefresh_FailuresCollapse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)
	login, err := e.issuer.Login(ctx, "a@x.com", password, Device{})
	require.NoError(t, err)

	_, err = e.issuer.Refresh(ctx, "garbage", "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = e.issuer.Refresh(ctx, login.Tokens.AccessToken, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "an access token is not a refresh token")

	_ = e.users.update(login.User.ID, func(u *model.User) { u.IsActive = false })
	_, err = e.issuer.Refresh(ctx, login.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_ = e.users.update(login.User.ID, func(u *model.User) { u.IsActive = true })
	e.clock.Advance(testRefreshTTL + time.Second)
	_, err = e.issuer.Refresh(ctx, login.Tokens.RefreshToken, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_UnknownSubject(t *testing.T) {
	e := newEnv(t)
	c := utils.Claims{Use: utils.UseRefresh}
	c.Subject = "999"
	tok, err := e.renewal.Sign(c, time.Hour)
	require.NoError(t, err)

	_, err = e.issuer.Refresh(context.Background(), tok.Token, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)
	res, err := e.issuer.Login(ctx, "a@x.com", password, Device{})
	require.NoError(t, err)

	require.NoError(t, e.issuer.Logout(ctx, res.Tokens.AccessToken, res.User.ID, res.SessionID))
	hit, err := e.blacklist.IsBlacklisted(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Zero(t, e.sessRepo.count())

	// a session id that is already gone is not a failure
	require.NoError(t, e.issuer.Logout(ctx, res.Tokens.AccessToken, res.User.ID, res.SessionID))
}

func TestLogout_DoesNotTouchForeignSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)
	e.users.seed(t, "b@x.com", password, true)
	a, _ := e.issuer.Login(ctx, "a@x.com", password, Device{})
	b, _ := e.issuer.Login(ctx, "b@x.com", password, Device{})

	require.NoError(t, e.issuer.Logout(ctx, a.Tokens.AccessToken, a.User.ID, b.SessionID))
	_, err := e.sessions.Get(ctx, b.SessionID)
	assert.NoError(t, err)
}

func TestLogout_BlacklistFailureIsSurfaced(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)
	res, _ := e.issuer.Login(ctx, "a@x.com", password, Device{})

	e.blRepo.setFail(true)
	assert.Error(t, e.issuer.Logout(ctx, res.Tokens.AccessToken, res.User.ID, res.SessionID))
	assert.Equal(t, 1, e.sessRepo.count(), "session kept when revocation failed")
}

func TestLogoutAll_TwoDevices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)

	laptop, err := e.issuer.Login(ctx, "a@x.com", password, Device{UserAgent: "laptop"})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	phone, err := e.issuer.Login(ctx, "a@x.com", password, Device{UserAgent: "phone"})
	require.NoError(t, err)
	require.NotEqual(t, laptop.SessionID, phone.SessionID)

	list, err := e.sessions.ListActive(ctx, laptop.User.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	n, err := e.issuer.LogoutAll(ctx, phone.Tokens.AccessToken, phone.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []uint64{phone.User.ID}, e.conns.disconnected)

	list, err = e.sessions.ListActive(ctx, laptop.User.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The laptop token is still cryptographically valid; once it is logged
	// out explicitly it is refused as well.
	_, err = e.access.Verify(laptop.Tokens.AccessToken, utils.UseAccess)
	require.NoError(t, err)
	require.NoError(t, e.issuer.Logout(ctx, laptop.Tokens.AccessToken, laptop.User.ID, ""))
	for _, tok := range []string{laptop.Tokens.AccessToken, phone.Tokens.AccessToken} {
		hit, err := e.blacklist.IsBlacklisted(ctx, tok)
		require.NoError(t, err)
		assert.True(t, hit)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.users.seed(t, "a@x.com", password, true)
	_, err := e.issuer.Login(ctx, "a@x.com", password, Device{})
	require.NoError(t, err)

	require.NoError(t, e.issuer.ForgotPassword(ctx, "a@x.com"))
	ev, ok := e.emails.last(queue.EmailPasswordReset)
	require.True(t, ok)
	assert.Equal(t, u.ID, ev.UserID)

	assert.ErrorIs(t, e.issuer.ResetPassword(ctx, ev.Token, "short"), ErrInvalidInput)

	const next = "a much better password"
	require.NoError(t, e.issuer.ResetPassword(ctx, ev.Token, next))
	assert.Zero(t, e.sessRepo.count(), "reset signs out every device")
	_, ok = e.emails.last(queue.EmailPasswordChanged)
	assert.True(t, ok)

	_, err = e.issuer.Login(ctx, "a@x.com", password, Device{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = e.issuer.Login(ctx, "a@x.com", next, Device{})
	assert.NoError(t, err)

	assert.ErrorIs(t, e.issuer.ResetPassword(ctx, ev.Token, "yet another password"), ErrSecurityTokenAlreadyUsed)
}

func TestResetPassword_StoreFailureKeepsTokenUsable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)
	_, err := e.issuer.Login(ctx, "a@x.com", password, Device{})
	require.NoError(t, err)
	require.NoError(t, e.issuer.ForgotPassword(ctx, "a@x.com"))
	ev, ok := e.emails.last(queue.EmailPasswordReset)
	require.True(t, ok)

	const next = "a much better password"
	e.resets.fail = errStore
	err = e.issuer.ResetPassword(ctx, ev.Token, next)
	require.ErrorIs(t, err, errStore)
	assert.Equal(t, 1, e.sessRepo.count(), "sessions survive a failed reset")
	_, err = e.issuer.Login(ctx, "a@x.com", password, Device{})
	assert.NoError(t, err, "old password still works")

	e.resets.fail = nil
	require.NoError(t, e.issuer.ResetPassword(ctx, ev.Token, next), "token was not burned")
	assert.Zero(t, e.sessRepo.count())
	_, err = e.issuer.Login(ctx, "a@x.com", next, Device{})
	assert.NoError(t, err)
}

func TestForgotPassword_DoesNotRevealAccounts(t *testing.T) {
	e := newEnv(t)
	e.users.seed(t, "off@x.com", password, false)

	assert.NoError(t, e.issuer.ForgotPassword(context.Background(), "ghost@x.com"))
	assert.NoError(t, e.issuer.ForgotPassword(context.Background(), "off@x.com"))
	assert.Zero(t, e.emails.len())
}

func TestResendVerification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.issuer.Register(ctx, RegisterInput{Email: "a@x.com", Password: password})
	require.NoError(t, err)
	first, _ := e.emails.last(queue.EmailVerification)

	require.NoError(t, e.issuer.ResendVerification(ctx, "a@x.com"))
	second, _ := e.emails.last(queue.EmailVerification)
	require.NotEqual(t, first.Token, second.Token)

	assert.ErrorIs(t, e.issuer.VerifyEmail(ctx, first.Token), ErrSecurityTokenAlreadyUsed)
	require.NoError(t, e.issuer.VerifyEmail(ctx, second.Token))

	// verified accounts get nothing more
	before := e.emails.len()
	require.NoError(t, e.issuer.ResendVerification(ctx, "a@x.com"))
	require.NoError(t, e.issuer.ResendVerification(ctx, "ghost@x.com"))
	assert.Equal(t, before, e.emails.len())

	u, _ := e.users.GetByID(ctx, res.User.ID)
	assert.True(t, u.EmailVerified)
}

func TestVerifyEmail_RejectsResetToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.users.seed(t, "a@x.com", password, true)
	require.NoError(t, e.issuer.ForgotPassword(ctx, "a@x.com"))
	ev, _ := e.emails.last(queue.EmailPasswordReset)

	assert.ErrorIs(t, e.issuer.VerifyEmail(ctx, ev.Token), ErrSecurityTokenWrongType)
}

type pushConn struct {
	id     string
	closed bool
}

func (c *pushConn) ID() string   { return c.id }
func (c *pushConn) Close() error { c.closed = true; return nil }

func TestLogoutAll_ClosesRegisteredConnections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.users.seed(t, "a@x.com", password, true)
	reg := realtime.NewMemoryRegistry()
	e.issuer.Conns = reg

	mine, other := &pushConn{id: "tab"}, &pushConn{id: "other"}
	reg.Add(u.ID, mine)
	reg.Add(u.ID+100, other)

	res, err := e.issuer.Login(ctx, "a@x.com", password, Device{})
	require.NoError(t, err)
	_, err = e.issuer.LogoutAll(ctx, res.Tokens.AccessToken, u.ID)
	require.NoError(t, err)

	assert.True(t, mine.closed)
	assert.False(t, other.closed)
	assert.Empty(t, reg.Lookup(u.ID))
	assert.Len(t, reg.Lookup(u.ID+100), 1)
}
