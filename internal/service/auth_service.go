package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/repository"
)

// UserStore is the account persistence surface the auth service depends on.
// Implemented by repository.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.AdminUser, error)
	GetByEmail(ctx context.Context, email string) (*model.AdminUser, error)
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	LockUntil(ctx context.Context, id string, until time.Time, reason string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SecondFactor is the MFA surface the auth service depends on. Implemented
// by MFAService.
type SecondFactor interface {
	HasVerifiedMethod(ctx context.Context, userID string) (bool, error)
	AvailableMethods(ctx context.Context, userID string) ([]model.MFAMethodType, *model.MFAMethodType, error)
	Verify(ctx context.Context, userID string, method model.MFAMethodType, code string) error
}

// WebAuthnFactor is the assertion-ceremony surface used when the second
// factor is a WebAuthn credential rather than a code. Implemented by
// MFAService when WebAuthn is configured.
type WebAuthnFactor interface {
	BeginWebAuthnAuthentication(ctx context.Context, userID string) (interface{}, error)
	CompleteWebAuthnAuthentication(ctx context.Context, userID, sessionKey string, body protocol.ParsedCredentialAssertionData) error
}

// CodeSender delivers an out-of-band one-time code. Implemented by
// MFAService when an email sender is configured.
type CodeSender interface {
	SendEmailOTP(ctx context.Context, userID string) error
}

// Recorder is the audit surface services record decisions through.
// Implemented by AuditService.
type Recorder interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// RoleResolver resolves a user's effective role names. Implemented by
// rbac.Evaluator.
type RoleResolver interface {
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
}

// LoginResult is the outcome of a first-factor or second-factor attempt.
// Exactly one of Session or Challenge is set.
type LoginResult struct {
	Session   *SessionResponse    `json:"session,omitempty"`
	Challenge *model.MFAChallenge `json:"challenge,omitempty"`
}

// SessionResponse carries an issued session token
type SessionResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int    `json:"expiresIn"`
}

// AuthService drives the authentication state machine. Anonymous callers
// move to Credentialed on a correct password, to MFAPending when a second
// factor is enrolled, and to Authenticated once it passes. Every transition,
// including every failure, produces one audit entry.
type AuthService struct {
	users    UserStore
	sessions *SessionService
	mfa      SecondFactor
	roles    RoleResolver
	audit    Recorder
	cfg      *config.Config
	log      *logger.Logger
	now      func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserStore,
	sessions *SessionService,
	mfa SecondFactor,
	roles RoleResolver,
	audit Recorder,
	cfg *config.Config,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		mfa:      mfa,
		roles:    roles,
		audit:    audit,
		cfg:      cfg,
		log:      log.WithComponent("auth_service"),
		now:      time.Now,
	}
}

// Authenticate verifies the first factor. When a second factor is enrolled
// the result is an MFA challenge carrying a pre-session token; otherwise a
// full session is issued with MFASatisfied false, which the admin gate will
// reject while the two-factor policy is in force.
func (s *AuthService) Authenticate(ctx context.Context, email, password, ipAddress, userAgent string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Hash anyway so response timing does not reveal whether the
			// account exists.
			_, _ = auth.VerifyPassword(password, dummyHash)
			s.recordLoginFailure(ctx, nil, "unknown_account", ipAddress, userAgent, map[string]interface{}{"email": email})
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	if user.IsLocked() {
		s.recordLoginFailure(ctx, &user.ID, "account_locked", ipAddress, userAgent, nil)
		return nil, auth.ErrAccountLocked
	}
	if user.Status != model.UserStatusActive {
		s.recordLoginFailure(ctx, &user.ID, "account_inactive", ipAddress, userAgent, nil)
		return nil, auth.ErrAccountInactive
	}

	match, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	if !match {
		attempts, incErr := s.users.IncrementFailedAttempts(ctx, user.ID)
		if incErr != nil {
			s.log.Error().Err(incErr).Str("user_id", user.ID).Msg("failed to increment failed attempts")
		}
		s.handleFailedLogin(ctx, user.ID, attempts, ipAddress, userAgent)
		s.recordLoginFailure(ctx, &user.ID, "invalid_password", ipAddress, userAgent, map[string]interface{}{
			"failed_attempts": attempts,
		})
		return nil, auth.ErrInvalidCredentials
	}

	if err := s.users.ResetFailedAttempts(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to reset failed attempts")
	}

	hasMFA, err := s.mfa.HasVerifiedMethod(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	if hasMFA {
		preToken, err := s.sessions.CreatePreSession(ctx, user, ipAddress, userAgent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
		}
		methods, preferred, err := s.mfa.AvailableMethods(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
		}

		s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionLogin, true, "mfa_pending", ipAddress, userAgent, nil))
		return &LoginResult{
			Challenge: &model.MFAChallenge{
				Status:           "mfa_required",
				PreSessionToken:  preToken,
				AvailableMethods: methods,
				PreferredMethod:  preferred,
			},
		}, nil
	}

	token, session, err := s.sessions.CreateSession(ctx, user, false, ipAddress, userAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	s.finishLogin(ctx, user, ipAddress, userAgent, map[string]interface{}{"mfa_satisfied": false})

	return &LoginResult{Session: s.sessionResponse(token, session)}, nil
}

// VerifyMFA consumes a pre-session token plus a second-factor proof and, on
// success, exchanges them for a full session.
func (s *AuthService) VerifyMFA(ctx context.Context, preSessionToken string, method model.MFAMethodType, code, ipAddress, userAgent string) (*LoginResult, error) {
	pre, err := s.sessions.ValidatePreSession(ctx, preSessionToken)
	if err != nil {
		s.audit.Record(ctx, s.entry(nil, model.AuditActionMFAFailed, false, "invalid_pre_session", ipAddress, userAgent, nil))
		return nil, auth.ErrUnauthenticated
	}

	user, err := s.users.GetByID(ctx, pre.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	if user.IsLocked() || user.Status != model.UserStatusActive {
		s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionMFAFailed, false, "account_unavailable", ipAddress, userAgent, nil))
		return nil, auth.ErrAccountLocked
	}

	if err := s.mfa.Verify(ctx, user.ID, method, code); err != nil {
		attempts, incErr := s.users.IncrementFailedAttempts(ctx, user.ID)
		if incErr != nil {
			s.log.Error().Err(incErr).Str("user_id", user.ID).Msg("failed to increment failed attempts")
		}
		s.handleFailedLogin(ctx, user.ID, attempts, ipAddress, userAgent)
		s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionMFAFailed, false, "invalid_code", ipAddress, userAgent, map[string]interface{}{
			"method": method,
		}))
		return nil, auth.ErrInvalidMFACode
	}

	// The pre-session is single use.
	if err := s.sessions.Delete(ctx, pre); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to delete pre-session")
	}
	if err := s.users.ResetFailedAttempts(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to reset failed attempts")
	}

	token, session, err := s.sessions.CreateSession(ctx, user, true, ipAddress, userAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionMFAVerified, true, "", ipAddress, userAgent, map[string]interface{}{
		"method": method,
	}))
	s.finishLogin(ctx, user, ipAddress, userAgent, map[string]interface{}{"mfa_satisfied": true, "method": method})

	return &LoginResult{Session: s.sessionResponse(token, session)}, nil
}

// RequestEmailOTP sends a one-time email code to an MFAPending caller.
func (s *AuthService) RequestEmailOTP(ctx context.Context, preSessionToken string) error {
	sender, ok := s.mfa.(CodeSender)
	if !ok {
		return ErrEmailOTPDisabled
	}

	pre, err := s.sessions.ValidatePreSession(ctx, preSessionToken)
	if err != nil {
		return auth.ErrUnauthenticated
	}

	return sender.SendEmailOTP(ctx, pre.UserID)
}

// BeginWebAuthnMFA starts a WebAuthn assertion ceremony for an MFAPending
// caller identified by their pre-session token.
func (s *AuthService) BeginWebAuthnMFA(ctx context.Context, preSessionToken string) (interface{}, error) {
	wa, ok := s.mfa.(WebAuthnFactor)
	if !ok {
		return nil, ErrWebAuthnUnsupported
	}

	pre, err := s.sessions.ValidatePreSession(ctx, preSessionToken)
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}

	return wa.BeginWebAuthnAuthentication(ctx, pre.UserID)
}

// CompleteWebAuthnMFA finishes the assertion ceremony and, on success,
// exchanges the pre-session for a full session. Mirrors VerifyMFA so the
// two second-factor paths move through the same states.
func (s *AuthService) CompleteWebAuthnMFA(ctx context.Context, preSessionToken, sessionKey string, body protocol.ParsedCredentialAssertionData, ipAddress, userAgent string) (*LoginResult, error) {
	wa, ok := s.mfa.(WebAuthnFactor)
	if !ok {
		return nil, ErrWebAuthnUnsupported
	}

	pre, err := s.sessions.ValidatePreSession(ctx, preSessionToken)
	if err != nil {
		s.audit.Record(ctx, s.entry(nil, model.AuditActionMFAFailed, false, "invalid_pre_session", ipAddress, userAgent, nil))
		return nil, auth.ErrUnauthenticated
	}

	user, err := s.users.GetByID(ctx, pre.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	if user.IsLocked() || user.Status != model.UserStatusActive {
		s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionMFAFailed, false, "account_unavailable", ipAddress, userAgent, nil))
		return nil, auth.ErrAccountLocked
	}

	if err := wa.CompleteWebAuthnAuthentication(ctx, user.ID, sessionKey, body); err != nil {
		attempts, incErr := s.users.IncrementFailedAttempts(ctx, user.ID)
		if incErr != nil {
			s.log.Error().Err(incErr).Str("user_id", user.ID).Msg("failed to increment failed attempts")
		}
		s.handleFailedLogin(ctx, user.ID, attempts, ipAddress, userAgent)
		s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionMFAFailed, false, "invalid_code", ipAddress, userAgent, map[string]interface{}{
			"method": model.MFAMethodWebAuthn,
		}))
		return nil, auth.ErrInvalidMFACode
	}

	if err := s.sessions.Delete(ctx, pre); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to delete pre-session")
	}
	if err := s.users.ResetFailedAttempts(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to reset failed attempts")
	}

	token, session, err := s.sessions.CreateSession(ctx, user, true, ipAddress, userAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionMFAVerified, true, "", ipAddress, userAgent, map[string]interface{}{
		"method": model.MFAMethodWebAuthn,
	}))
	s.finishLogin(ctx, user, ipAddress, userAgent, map[string]interface{}{"mfa_satisfied": true, "method": model.MFAMethodWebAuthn})

	return &LoginResult{Session: s.sessionResponse(token, session)}, nil
}

// RefreshSession reissues a usable session before it expires.
func (s *AuthService) RefreshSession(ctx context.Context, token, ipAddress, userAgent string) (*LoginResult, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}
	if user.IsLocked() || user.Status != model.UserStatusActive {
		return nil, auth.ErrUnauthenticated
	}

	newToken, newSession, err := s.sessions.Refresh(ctx, session, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionSessionRefresh, true, "", ipAddress, userAgent, nil))
	return &LoginResult{Session: s.sessionResponse(newToken, newSession)}, nil
}

// Logout revokes the presented session. Revoking an already dead session is
// not an error.
func (s *AuthService) Logout(ctx context.Context, token, ipAddress, userAgent string) error {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil
	}
	if err := s.sessions.Revoke(ctx, session, "logout"); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	s.audit.Record(ctx, s.entry(&session.UserID, model.AuditActionLogout, true, "", ipAddress, userAgent, nil))
	return nil
}

// ValidateSession resolves a bearer token to a principal: usable session,
// live account, effective role names. Every check failing maps to a typed
// denial for the gate.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*auth.Principal, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	if user.IsLocked() || user.Status != model.UserStatusActive {
		return nil, auth.ErrUnauthenticated
	}

	roleNames, err := s.roles.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &auth.Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Username:    user.Username,
		Roles:       roleNames,
		MFAVerified: session.MFASatisfied,
		SessionHash: session.TokenHash,
	}, nil
}

// handleFailedLogin manages progressive account lockout
func (s *AuthService) handleFailedLogin(ctx context.Context, userID string, attempts int, ipAddress, userAgent string) {
	var lockDuration time.Duration
	switch {
	case attempts >= 20:
		// Effectively permanent, requires manual unlock
		lockDuration = 24 * 365 * time.Hour
	case attempts >= 15:
		lockDuration = 2 * time.Hour
	case attempts >= 10:
		lockDuration = 30 * time.Minute
	case attempts >= 5:
		lockDuration = 5 * time.Minute
	default:
		return
	}

	until := s.now().Add(lockDuration)
	if err := s.users.LockUntil(ctx, userID, until, "failed_attempts"); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to lock account")
		return
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, "account_locked"); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to revoke sessions on lockout")
	}

	s.audit.Record(ctx, s.entry(&userID, model.AuditActionAccountLocked, true, "", ipAddress, userAgent, map[string]interface{}{
		"failed_attempts": attempts,
		"locked_until":    until,
	}))
	s.log.Warn().Str("user_id", userID).Int("attempts", attempts).Time("until", until).Msg("account locked")
}

func (s *AuthService) finishLogin(ctx context.Context, user *model.AdminUser, ipAddress, userAgent string, metadata map[string]interface{}) {
	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to update last login")
	}
	s.audit.Record(ctx, s.entry(&user.ID, model.AuditActionLogin, true, "", ipAddress, userAgent, metadata))
	s.log.Info().Str("user_id", user.ID).Msg("user logged in")
}

func (s *AuthService) recordLoginFailure(ctx context.Context, userID *string, reason, ipAddress, userAgent string, metadata map[string]interface{}) {
	s.audit.Record(ctx, s.entry(userID, model.AuditActionLoginFailed, false, reason, ipAddress, userAgent, metadata))
}

func (s *AuthService) entry(userID *string, action string, success bool, reason, ipAddress, userAgent string, metadata map[string]interface{}) *model.AuditEntry {
	return &model.AuditEntry{
		UserID:    userID,
		Action:    action,
		Success:   success,
		Reason:    reason,
		IPAddress: &ipAddress,
		UserAgent: &userAgent,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
}

func (s *AuthService) sessionResponse(token string, session *model.AuthSession) *SessionResponse {
	return &SessionResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(time.Until(session.ExpiresAt).Seconds()),
	}
}

// dummyHash is verified against when the account does not exist so the
// response time matches a real password check.
var dummyHash = func() string {
	h, _ := auth.HashPassword(uuid.New().String(), nil)
	return h
}()

// generateID produces a prefixed identifier that fits varchar(32)
func generateID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(prefix) > 0 {
		return prefix + "_" + id[:26]
	}
	return id
}
