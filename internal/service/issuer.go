package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/metrics"
	"github.com/iliyamo/credential-service/internal/model"
	"github.com/iliyamo/credential-service/internal/queue"
	"github.com/iliyamo/credential-service/internal/repository"
	"github.com/iliyamo/credential-service/internal/utils"
)

const minPasswordLen = 8

// Device is what the transport knows about the caller at login.
type Device struct {
	UserAgent string
	IP        string
}

// TokenPair is an access and refresh token issued together.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	ExpiresIn        int64 // access token lifetime in seconds
}

// AuthResult is returned by Login, Register and Refresh. SessionID is empty
// unless a session was created.
type AuthResult struct {
	User      model.User
	Tokens    TokenPair
	SessionID string
}

type RegisterInput struct {
	Email    string
	Password string
	Role     string
}

// IssuerConfig holds the lifetimes and cost factor used by Issuer.
type IssuerConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
	// SessionExtendHours is applied to the caller's session on refresh.
	SessionExtendHours int
}

// IssuerDeps are the collaborators of Issuer. Emails and Conns may be nil.
type IssuerDeps struct {
	Users     UserStore
	Sessions  *SessionStore
	Blacklist *TokenBlacklist
	Tokens    *SecurityTokenManager
	Resets    PasswordResetter
	Access    *utils.Signer // signs access tokens
	Renewal   *utils.Signer // signs refresh tokens
	Emails    EmailQueue
	Conns     ConnectionRegistry
	Log       *zap.Logger
}

// Issuer implements the credential flows: login, registration, refresh,
// logout and the password reset and email verification round trips.
type Issuer struct {
	IssuerDeps
	cfg IssuerConfig
	log *zap.Logger
	now func() time.Time
}

func NewIssuer(d IssuerDeps, cfg IssuerConfig) *Issuer {
	return &Issuer{IssuerDeps: d, cfg: cfg, log: d.Log.Named("issuer"), now: time.Now}
}

// Login checks the credentials, issues a token pair and opens a session.
// An unknown email and a wrong password are indistinguishable; a
// deactivated account is only reported to a caller who knows the password.
func (s *Issuer) Login(ctx context.Context, email, password string, dev Device) (res AuthResult, err error) {
	defer func() { observe("login", err) }()

	u, err := s.Users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password, s.cfg.BcryptCost)
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return AuthResult{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return AuthResult{}, ErrAccountDeactivated
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return AuthResult{}, err
	}
	sid, err := s.Sessions.Create(ctx, u.ID, Metadata{UserAgent: dev.UserAgent, IP: dev.IP})
	if err != nil {
		return AuthResult{}, fmt.Errorf("create session: %w", err)
	}

	now := s.now().UTC()
	if err := s.Users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("record last login failed", zap.Uint64("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLoginAt = &now
	}
	return AuthResult{User: u, Tokens: pair, SessionID: sid}, nil
}

// Register creates an account and returns a token pair. No session is
// opened; clients that need one log in afterwards. A verification email is
// queued on a best effort basis.
func (s *Issuer) Register(ctx context.Context, in RegisterInput) (res AuthResult, err error) {
	defer func() { observe("register", err) }()

	email := normalizeEmail(in.Email)
	if _, perr := mail.ParseAddress(email); perr != nil || !strings.Contains(email, "@") {
		return AuthResult{}, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if err := checkPassword(in.Password); err != nil {
		return AuthResult{}, err
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role != model.RoleManager {
		role = model.RoleUser
	}

	hash, err := utils.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.Users.Create(ctx, email, hash, role)
	if err != nil {
		return AuthResult{}, err
	}
	now := s.now().UTC()
	u := model.User{ID: id, Email: email, PasswordHash: hash, Role: role, IsActive: true, CreatedAt: now, UpdatedAt: now}

	pair, err := s.issuePair(u)
	if err != nil {
		return AuthResult{}, err
	}
	s.sendSecurityToken(ctx, u, model.TokenEmailVerification)
	return AuthResult{User: u, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. Bad signature, expiry,
// wrong token use and an inactive or deleted subject all yield
// ErrInvalidRefreshToken. The old refresh token is not revoked.
//
// When sessionID names a live session of the same user its expiry is pushed
// forward; a stale session id is ignored.
func (s *Issuer) Refresh(ctx context.Context, token, sessionID string) (res AuthResult, err error) {
	defer func() { observe("refresh", err) }()

	claims, err := s.Renewal.Verify(token, utils.UseRefresh)
	if err != nil {
		return AuthResult{}, ErrInvalidRefreshToken
	}
	uid, err := claims.UserID()
	if err != nil {
		return AuthResult{}, ErrInvalidRefreshToken
	}
	u, err := s.Users.GetByID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return AuthResult{}, ErrInvalidRefreshToken
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return AuthResult{}, err
	}

	if sessionID != "" && s.cfg.SessionExtendHours > 0 {
		if _, err := s.Sessions.GetOwned(ctx, u.ID, sessionID); err == nil {
			if _, err := s.Sessions.Extend(ctx, sessionID, s.cfg.SessionExtendHours); err != nil {
				s.log.Warn("extend session failed", zap.Uint64("user_id", u.ID), zap.Error(err))
			}
		} else if !errors.Is(err, ErrSessionNotFound) {
			s.log.Warn("load session failed", zap.Uint64("user_id", u.ID), zap.Error(err))
		}
	}
	return AuthResult{User: u, Tokens: pair, SessionID: sessionID}, nil
}

// Logout revokes accessToken and, when sessionID is set, destroys that
// session if it belongs to userID. Both writes must succeed for the logout
// to succeed.
func (s *Issuer) Logout(ctx context.Context, accessToken string, userID uint64, sessionID string) (err error) {
	defer func() { observe("logout", err) }()

	if err := s.Blacklist.Blacklist(ctx, accessToken, userID); err != nil {
		return err
	}
	if sessionID == "" {
		return nil
	}
	err = s.Sessions.DestroyOwned(ctx, userID, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// LogoutAll revokes accessToken, destroys every session of userID and drops
// the user's live connections. It returns the number of sessions removed.
func (s *Issuer) LogoutAll(ctx context.Context, accessToken string, userID uint64) (n int64, err error) {
	defer func() { observe("logout_all", err) }()

	if err := s.Blacklist.Blacklist(ctx, accessToken, userID); err != nil {
		return 0, err
	}
	n, err = s.Sessions.DestroyAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("destroy sessions: %w", err)
	}
	s.disconnect(userID)
	return n, nil
}

// ForgotPassword issues a reset token for an active account and queues the
// email. Nothing in the result depends on whether the account exists; only
// store failures are returned.
func (s *Issuer) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { observe("forgot_password", err) }()

	u, err := s.Users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil
	}
	s.sendSecurityToken(ctx, u, model.TokenPasswordReset)
	return nil
}

// ResendVerification issues a fresh verification token for an active,
// unverified account. Like ForgotPassword it never reveals existence.
func (s *Issuer) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { observe("resend_verification", err) }()

	u, err := s.Users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive || u.EmailVerified {
		return nil
	}
	s.sendSecurityToken(ctx, u, model.TokenEmailVerification)
	return nil
}

// ResetPassword consumes a reset token, stores the new password and signs
// the user out everywhere. Consumption, the password write and the session
// purge commit together, so a store failure leaves the token usable. A
// rejected password never reaches the store.
func (s *Issuer) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { observe("reset_password", err) }()

	if err := checkPassword(newPassword); err != nil {
		return err
	}
	uid, err := s.Tokens.Validate(ctx, token, model.TokenPasswordReset)
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	consumed, err := s.Resets.ApplyPasswordReset(ctx, utils.HashToken(token), uid, hash)
	if err != nil {
		return fmt.Errorf("apply password reset: %w", err)
	}
	if !consumed {
		return ErrSecurityTokenAlreadyUsed
	}
	s.disconnect(uid)

	if u, err := s.Users.GetByID(ctx, uid); err == nil {
		s.enqueue(ctx, queue.EmailEvent{Kind: queue.EmailPasswordChanged, UserID: uid, To: u.Email})
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the address verified.
func (s *Issuer) VerifyEmail(ctx context.Context, token string) (err error) {
	defer func() { observe("verify_email", err) }()

	uid, err := s.Tokens.VerifyAndConsume(ctx, token, model.TokenEmailVerification)
	if err != nil {
		return err
	}
	if err := s.Users.MarkEmailVerified(ctx, uid); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

func (s *Issuer) issuePair(u model.User) (TokenPair, error) {
	claims := utils.Claims{
		Email:       u.Email,
		Role:        u.Role,
		Permissions: model.PermissionsForRole(u.Role),
	}
	claims.Subject = strconv.FormatUint(u.ID, 10)

	ac := claims
	ac.Use = utils.UseAccess
	access, err := s.Access.Sign(ac, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	rc := claims
	rc.Use = utils.UseRefresh
	refresh, err := s.Renewal.Sign(rc, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		ExpiresIn:        int64(s.cfg.AccessTTL / time.Second),
	}, nil
}

// sendSecurityToken issues a token of type t and queues the matching email.
// Failures are logged; the calling flow never reports them.
func (s *Issuer) sendSecurityToken(ctx context.Context, u model.User, t model.SecurityTokenType) {
	tok, err := s.Tokens.CreateToken(ctx, u.ID, t)
	if err != nil {
		s.log.Error("issue security token failed", zap.String("type", string(t)), zap.Uint64("user_id", u.ID), zap.Error(err))
		return
	}
	kind := queue.EmailPasswordReset
	if t == model.TokenEmailVerification {
		kind = queue.EmailVerification
	}
	s.enqueue(ctx, queue.EmailEvent{Kind: kind, UserID: u.ID, To: u.Email, Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

func (s *Issuer) enqueue(ctx context.Context, ev queue.EmailEvent) {
	if s.Emails == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	if err := s.Emails.Enqueue(ctx, ev); err != nil {
		s.log.Warn("queue email failed", zap.String("kind", string(ev.Kind)), zap.Uint64("user_id", ev.UserID), zap.Error(err))
	}
}

func (s *Issuer) disconnect(userID uint64) {
	if s.Conns == nil {
		return
	}
	if n := s.Conns.DisconnectUser(userID); n > 0 {
		s.log.Info("dropped live connections", zap.Uint64("user_id", userID), zap.Int("count", n))
	}
}

func checkPassword(p string) error {
	if len(p) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if len(p) > 72 {
		// bcrypt ignores everything past 72 bytes
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

// observe records the outcome of one credential operation.
func observe(event string, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountDeactivated),
		errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrEmailExists),
		errors.Is(err, ErrInvalidInput), IsSecurityTokenError(err):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}
	metrics.AuthEvents.WithLabelValues(event, outcome).Inc()
}
