package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/audit"
	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

const minPasswordLength = 8

type AuthServiceConfig struct {
	BcryptCost           int
	SessionMaxPerUser    int
	RequireVerifiedEmail bool
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Tokens      *TokenPair
	User        *domain.User
	Permissions []string
	SessionID   uint
}

// UserCreatedEvent is published after a successful registration.
type UserCreatedEvent struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
}

type AuthService struct {
	users    CredentialStore
	rbac     *RBACService
	tokens   *TokenService
	sessions *SessionRegistry
	notifier Notifier
	events   EventPublisher
	audit    *audit.Dispatcher
	abuse    AuthAbuseGuard
	cfg      AuthServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(
	users CredentialStore,
	rbac *RBACService,
	tokens *TokenService,
	sessions *SessionRegistry,
	notifier Notifier,
	events EventPublisher,
	auditor *audit.Dispatcher,
	abuse AuthAbuseGuard,
	cfg AuthServiceConfig,
	logger *slog.Logger,
) *AuthService {
	if events == nil {
		events = NoopEventPublisher{}
	}
	if abuse == nil {
		abuse = NewInMemoryAuthAbuseGuard(AuthAbusePolicy{FreeAttempts: 5})
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionMaxPerUser <= 0 {
		cfg.SessionMaxPerUser = 5
	}
	return &AuthService{
		users:    users,
		rbac:     rbac,
		tokens:   tokens,
		sessions: sessions,
		notifier: notifier,
		events:   events,
		audit:    auditor,
		abuse:    abuse,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta ClientMeta) (*AuthResult, error) {
	email := repository.NormalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, invalidInput("a valid email is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, invalidInput("password must be at least %d characters", minPasswordLength)
	}
	if _, err := s.users.FindByEmail(ctx, email, false); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	hash, err := security.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		IsActive:     true,
	}
	if role, err := s.rbac.DefaultRole(ctx); err == nil {
		user.Roles = []domain.Role{*role}
	} else {
		s.logger.WarnContext(ctx, "no default role configured, registering without roles", "error", err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	user.PasswordHash = ""

	if token, err := s.tokens.IssueEmailVerification(user); err != nil {
		s.logger.ErrorContext(ctx, "verification token issue failed", "user_id", user.ID, "error", err)
	} else if err := s.notifier.SendVerification(ctx, user.Email, token); err != nil {
		s.logger.ErrorContext(ctx, "verification notification failed", "user_id", user.ID, "error", err)
	}

	perms, err := s.rbac.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair, session, err := s.tokens.Issue(ctx, user, perms, meta)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.EventUserRegistered, user.ID, session.ID, meta, true, nil)
	if err := s.events.Publish(ctx, TopicUserCreated, UserCreatedEvent{UserID: user.ID, Email: user.Email}); err != nil {
		s.logger.WarnContext(ctx, "user created publish failed", "user_id", user.ID, "error", err)
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &AuthResult{Tokens: pair, User: user, Permissions: perms, SessionID: session.ID}, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput, meta ClientMeta) (*AuthResult, error) {
	cooldown, err := s.abuse.Check(ctx, AuthAbuseScopeLogin, in.Email, meta.IP)
	if err != nil {
		s.logger.WarnContext(ctx, "login abuse check failed", "error", err)
	} else if cooldown > 0 {
		observability.RecordAuthLogin(ctx, "throttled")
		return nil, &CooldownError{RetryAfter: cooldown}
	}

	user, err := s.users.FindByEmail(ctx, in.Email, true)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			security.BurnPasswordCheck(in.Password)
			s.loginFailed(ctx, 0, in.Email, meta, "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !security.VerifyPassword(user.PasswordHash, in.Password) {
		if err := s.users.IncrementFailedAttempts(ctx, user.ID); err != nil {
			s.logger.WarnContext(ctx, "failed attempt increment failed", "user_id", user.ID, "error", err)
		}
		s.loginFailed(ctx, user.ID, in.Email, meta, "bad_password")
		return nil, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	if err := s.abuse.Reset(ctx, AuthAbuseScopeLogin, in.Email, meta.IP); err != nil {
		s.logger.WarnContext(ctx, "login abuse reset failed", "error", err)
	}
	if !user.IsActive {
		s.emit(ctx, audit.EventLoginFailed, user.ID, 0, meta, false, map[string]string{"reason": "disabled"})
		observability.RecordAuthLogin(ctx, "failure")
		return nil, ErrAccountDisabled
	}
	if s.cfg.RequireVerifiedEmail && !user.EmailVerified {
		s.emit(ctx, audit.EventLoginFailed, user.ID, 0, meta, false, map[string]string{"reason": "unverified"})
		observability.RecordAuthLogin(ctx, "failure")
		return nil, ErrEmailUnverified
	}

	evicted, err := s.sessions.EnforceLimit(ctx, user.ID, s.cfg.SessionMaxPerUser)
	if err != nil {
		return nil, err
	}
	if evicted > 0 {
		s.emit(ctx, audit.EventSessionEvicted, user.ID, 0, meta, true, map[string]string{"count": strconv.Itoa(evicted)})
	}
	perms, err := s.rbac.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair, session, err := s.tokens.Issue(ctx, user, perms, meta)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.WarnContext(ctx, "last login update failed", "user_id", user.ID, "error", err)
	}
	observability.RecordAuthLogin(ctx, "success")
	s.emit(ctx, audit.EventUserLogin, user.ID, session.ID, meta, true, map[string]string{"method": "password"})
	return &AuthResult{Tokens: pair, User: user, Permissions: perms, SessionID: session.ID}, nil
}

// Refresh rotates a refresh token. Failures are reported as ErrTokenInvalid.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*TokenPair, error) {
	pair, session, err := s.tokens.Rotate(ctx, refreshToken, s.loadForRefresh, meta)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "rejected")
		return nil, err
	}
	observability.RecordAuthRefresh(ctx, "success")
	s.emit(ctx, audit.EventTokenRefreshed, session.UserID, session.ID, meta, true, nil)
	return pair, nil
}

// Logout ends the session behind refreshToken, or every session of the
// principal when all is set. The presented access token is blacklisted in
// both cases.
func (s *AuthService) Logout(ctx context.Context, principal *Principal, refreshToken string, all bool, meta ClientMeta) error {
	if principal == nil || principal.Kind != PrincipalUser {
		return ErrUnauthenticated
	}
	event := audit.EventLogout
	scope := "single"
	if all {
		event, scope = audit.EventLogoutAll, "all"
		n, err := s.sessions.RevokeAllForUser(ctx, principal.UserID, 0, RevokeReasonLogoutAll)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "all sessions revoked", "user_id", principal.UserID, "count", n)
	} else if refreshToken != "" {
		if session, ok := s.sessions.FindActiveByRefreshToken(ctx, refreshToken); ok && session.UserID == principal.UserID {
			if err := s.sessions.Revoke(ctx, session.ID, RevokeReasonLogout); err != nil {
				return err
			}
		}
	}
	if err := s.tokens.RevokeAccess(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
		s.logger.WarnContext(ctx, "access token revoke failed", "user_id", principal.UserID, "error", err)
	}
	observability.RecordAuthLogout(ctx, scope)
	s.emit(ctx, event, principal.UserID, 0, meta, true, map[string]string{"all_sessions": strconv.FormatBool(all)})
	return nil
}

// VerifyEmail marks the token's user as verified. It reports whether the
// address had already been verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (bool, error) {
	userID, err := s.tokens.VerifyEmailToken(token)
	if err != nil {
		return false, ErrTokenInvalid
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, ErrTokenInvalid
		}
		return false, err
	}
	if user.EmailVerified {
		return true, nil
	}
	if err := s.users.SetVerified(ctx, userID); err != nil {
		return false, err
	}
	s.emit(ctx, audit.EventEmailVerified, userID, 0, ClientMeta{}, true, nil)
	return false, nil
}

func (s *AuthService) Me(ctx context.Context, userID uint) (*domain.User, []string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, mapRepoError(err)
	}
	perms, err := s.rbac.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, perms, nil
}

// SessionView is a session as shown to its owner.
type SessionView struct {
	domain.Session
	Device  string `json:"device"`
	Current bool   `json:"current"`
}

func (s *AuthService) ListSessions(ctx context.Context, principal *Principal) ([]SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionView{
			Session: sess,
			Device:  sess.Device(),
			Current: sess.AccessTokenID == principal.TokenID,
		})
	}
	return out, nil
}

func (s *AuthService) RevokeSession(ctx context.Context, principal *Principal, sessionID uint) error {
	return s.sessions.RevokeForUser(ctx, principal.UserID, sessionID, RevokeReasonUser)
}

// RevokeOtherSessions keeps only the session the principal's access token was
// minted with.
func (s *AuthService) RevokeOtherSessions(ctx context.Context, principal *Principal) (int, error) {
	current, err := s.currentSessionID(ctx, principal)
	if err != nil {
		return 0, err
	}
	return s.sessions.RevokeAllForUser(ctx, principal.UserID, current, RevokeReasonUserOthers)
}

// ValidateAccessToken serves other services that need to check a user token.
func (s *AuthService) ValidateAccessToken(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.tokens.VerifyAccess(ctx, raw)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &Principal{
		Kind:        PrincipalUser,
		UserID:      userID,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAtTime(),
	}, nil
}

func (s *AuthService) currentSessionID(ctx context.Context, principal *Principal) (uint, error) {
	sessions, err := s.sessions.ListActive(ctx, principal.UserID)
	if err != nil {
		return 0, err
	}
	for _, sess := range sessions {
		if sess.AccessTokenID == principal.TokenID {
			return sess.ID, nil
		}
	}
	return 0, ErrNotFound
}

func (s *AuthService) loadForRefresh(ctx context.Context, userID uint) (*domain.User, []string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.rbac.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, perms, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID uint, email string, meta ClientMeta, reason string) {
	observability.RecordAuthLogin(ctx, "failure")
	if _, err := s.abuse.RegisterFailure(ctx, AuthAbuseScopeLogin, email, meta.IP); err != nil {
		s.logger.WarnContext(ctx, "login abuse record failed", "error", err)
	}
	s.emit(ctx, audit.EventLoginFailed, userID, 0, meta, false, map[string]string{"reason": reason})
}

func (s *AuthService) emit(ctx context.Context, t audit.EventType, userID, sessionID uint, meta ClientMeta, success bool, md map[string]string) {
	s.audit.Emit(ctx, audit.Event{
		Type:      t,
		UserID:    userID,
		SessionID: sessionID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   success,
		Metadata:  md,
	})
}
