package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/repository"
)

type stubUserStore struct {
	users map[string]*model.AdminUser

	attempts   map[string]int
	lockedID   string
	lockedTill time.Time
	lockReason string
	resets     int
}

func newStubUserStore(users ...*model.AdminUser) *stubUserStore {
	s := &stubUserStore{
		users:    make(map[string]*model.AdminUser),
		attempts: make(map[string]int),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubUserStore) GetByID(_ context.Context, id string) (*model.AdminUser, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (s *stubUserStore) GetByEmail(_ context.Context, email string) (*model.AdminUser, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserStore) IncrementFailedAttempts(_ context.Context, id string) (int, error) {
	s.attempts[id]++
	return s.attempts[id], nil
}

func (s *stubUserStore) ResetFailedAttempts(_ context.Context, id string) error {
	s.resets++
	s.attempts[id] = 0
	return nil
}

func (s *stubUserStore) LockUntil(_ context.Context, id string, until time.Time, reason string) error {
	s.lockedID = id
	s.lockedTill = until
	s.lockReason = reason
	if u, ok := s.users[id]; ok {
		u.LockedUntil = &until
	}
	return nil
}

func (s *stubUserStore) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	return nil
}

type stubMFA struct {
	enrolled  bool
	methods   []model.MFAMethodType
	verifyErr error
}

func (s *stubMFA) HasVerifiedMethod(_ context.Context, _ string) (bool, error) {
	return s.enrolled, nil
}

func (s *stubMFA) AvailableMethods(_ context.Context, _ string) ([]model.MFAMethodType, *model.MFAMethodType, error) {
	var preferred *model.MFAMethodType
	if len(s.methods) > 0 {
		preferred = &s.methods[0]
	}
	return s.methods, preferred, nil
}

func (s *stubMFA) Verify(_ context.Context, _ string, _ model.MFAMethodType, _ string) error {
	return s.verifyErr
}

type stubResolver struct {
	names []string
}

func (s *stubResolver) RoleNamesForUser(_ context.Context, _ string) ([]string, error) {
	return s.names, nil
}

type stubAudit struct {
	entries []*model.AuditEntry
}

func (s *stubAudit) Record(_ context.Context, entry *model.AuditEntry) {
	s.entries = append(s.entries, entry)
}

func (s *stubAudit) last(t *testing.T) *model.AuditEntry {
	t.Helper()
	if len(s.entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	return s.entries[len(s.entries)-1]
}

const testPassword = "correct horse battery staple"

func activeUser(t *testing.T) *model.AdminUser {
	t.Helper()
	hash, err := auth.HashPassword(testPassword, &auth.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return &model.AdminUser{
		ID:           "user_1",
		Username:     "op",
		Email:        "op@example.com",
		PasswordHash: hash,
		Status:       model.UserStatusActive,
	}
}

type authFixture struct {
	svc    *AuthService
	users  *stubUserStore
	mfa    *stubMFA
	audit  *stubAudit
	store  *fakeSessionStore
	roles  *stubResolver
	logins *SessionService
}

func newAuthFixture(t *testing.T, users *stubUserStore, mfa *stubMFA) *authFixture {
	t.Helper()
	store := newFakeSessionStore()
	sessions := newTestSessionService(t, store)
	audit := &stubAudit{}
	roles := &stubResolver{names: []string{"operator"}}
	cfg := &config.Config{}
	svc := NewAuthService(users, sessions, mfa, roles, audit, cfg, logger.New("disabled", "json"))
	return &authFixture{svc: svc, users: users, mfa: mfa, audit: audit, store: store, roles: roles, logins: sessions}
}

func TestAuthenticateUnknownAccount(t *testing.T) {
	fx := newAuthFixture(t, newStubUserStore(), &stubMFA{})

	_, err := fx.svc.Authenticate(context.Background(), "ghost@example.com", "whatever", "10.0.0.1", "cli")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	entry := fx.audit.last(t)
	if entry.Action != model.AuditActionLoginFailed || entry.Reason != "unknown_account" {
		t.Fatalf("entry = %s/%s, want login.failed/unknown_account", entry.Action, entry.Reason)
	}
	if entry.UserID != nil {
		t.Fatal("unknown account must not be attributed a user id")
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	user := activeUser(t)
	fx := newAuthFixture(t, newStubUserStore(user), &stubMFA{})

	_, err := fx.svc.Authenticate(context.Background(), user.Email, "wrong password", "10.0.0.1", "cli")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if fx.users.attempts[user.ID] != 1 {
		t.Fatalf("failed attempts = %d, want 1", fx.users.attempts[user.ID])
	}
	entry := fx.audit.last(t)
	if entry.Reason != "invalid_password" {
		t.Fatalf("reason = %q, want invalid_password", entry.Reason)
	}
}

func TestAuthenticateLockedAndInactive(t *testing.T) {
	locked := activeUser(t)
	locked.ID = "user_locked"
	locked.Email = "locked@example.com"
	until := time.Now().Add(time.Hour)
	locked.LockedUntil = &until

	suspended := activeUser(t)
	suspended.ID = "user_suspended"
	suspended.Email = "suspended@example.com"
	suspended.Status = model.UserStatusSuspended

	fx := newAuthFixture(t, newStubUserStore(locked, suspended), &stubMFA{})
	ctx := context.Background()

	if _, err := fx.svc.Authenticate(ctx, locked.Email, testPassword, "10.0.0.1", "cli"); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if _, err := fx.svc.Authenticate(ctx, suspended.Email, testPassword, "10.0.0.1", "cli"); !errors.Is(err, auth.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAuthenticateProgressiveLockout(t *testing.T) {
	user := activeUser(t)
	fx := newAuthFixture(t, newStubUserStore(user), &stubMFA{})
	ctx := context.Background()

	// Four failures leave the account usable.
	for i := 0; i < 4; i++ {
		if _, err := fx.svc.Authenticate(ctx, user.Email, "wrong password", "10.0.0.1", "cli"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if fx.users.lockedID != "" {
		t.Fatal("account locked before the fifth failure")
	}

	// The fifth locks for five minutes.
	if _, err := fx.svc.Authenticate(ctx, user.Email, "wrong password", "10.0.0.1", "cli"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if fx.users.lockedID != user.ID {
		t.Fatal("fifth failure did not lock the account")
	}
	if fx.users.lockReason != "failed_attempts" {
		t.Fatalf("lock reason = %q, want failed_attempts", fx.users.lockReason)
	}
	window := time.Until(fx.users.lockedTill)
	if window < 4*time.Minute || window > 6*time.Minute {
		t.Fatalf("lock window = %v, want about 5m", window)
	}

	var lockedEntry *model.AuditEntry
	for _, e := range fx.audit.entries {
		if e.Action == model.AuditActionAccountLocked {
			lockedEntry = e
		}
	}
	if lockedEntry == nil {
		t.Fatal("lockout not audited")
	}

	// Further attempts with the right password are refused while locked.
	if _, err := fx.svc.Authenticate(ctx, user.Email, testPassword, "10.0.0.1", "cli"); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestAuthenticateWithoutMFAIssuesUnverifiedSession(t *testing.T) {
	user := activeUser(t)
	fx := newAuthFixture(t, newStubUserStore(user), &stubMFA{enrolled: false})

	result, err := fx.svc.Authenticate(context.Background(), user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Session == nil || result.Challenge != nil {
		t.Fatalf("expected a session result, got %+v", result)
	}

	// The session exists but carries MFASatisfied false; the admin gate
	// rejects it while the two-factor policy is in force.
	principal, err := fx.svc.ValidateSession(context.Background(), result.Session.Token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if principal.MFAVerified {
		t.Fatal("first-factor-only session must not count as MFA verified")
	}
	if principal.UserID != user.ID || len(principal.Roles) != 1 || principal.Roles[0] != "operator" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateWithMFAReturnsChallenge(t *testing.T) {
	user := activeUser(t)
	mfa := &stubMFA{enrolled: true, methods: []model.MFAMethodType{model.MFAMethodTOTP, model.MFAMethodBackupCode}}
	fx := newAuthFixture(t, newStubUserStore(user), mfa)

	result, err := fx.svc.Authenticate(context.Background(), user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Challenge == nil || result.Session != nil {
		t.Fatalf("expected a challenge result, got %+v", result)
	}
	if result.Challenge.Status != "mfa_required" || result.Challenge.PreSessionToken == "" {
		t.Fatalf("unexpected challenge: %+v", result.Challenge)
	}
	if len(result.Challenge.AvailableMethods) != 2 {
		t.Fatalf("available methods = %v", result.Challenge.AvailableMethods)
	}

	// The pre-session token is not a session.
	if _, err := fx.svc.ValidateSession(context.Background(), result.Challenge.PreSessionToken); !errors.Is(err, auth.ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}
}

func TestVerifyMFAExchangesPreSession(t *testing.T) {
	user := activeUser(t)
	mfa := &stubMFA{enrolled: true, methods: []model.MFAMethodType{model.MFAMethodTOTP}}
	fx := newAuthFixture(t, newStubUserStore(user), mfa)
	ctx := context.Background()

	login, err := fx.svc.Authenticate(ctx, user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	result, err := fx.svc.VerifyMFA(ctx, login.Challenge.PreSessionToken, model.MFAMethodTOTP, "123456", "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}
	if result.Session == nil {
		t.Fatalf("expected a session, got %+v", result)
	}

	principal, err := fx.svc.ValidateSession(ctx, result.Session.Token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !principal.MFAVerified {
		t.Fatal("session after MFA must be verified")
	}

	// The pre-session is single use.
	if _, err := fx.svc.VerifyMFA(ctx, login.Challenge.PreSessionToken, model.MFAMethodTOTP, "123456", "10.0.0.1", "cli"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for a consumed pre-session, got %v", err)
	}
}

func TestVerifyMFAWrongCode(t *testing.T) {
	user := activeUser(t)
	mfa := &stubMFA{enrolled: true, methods: []model.MFAMethodType{model.MFAMethodTOTP}}
	fx := newAuthFixture(t, newStubUserStore(user), mfa)
	ctx := context.Background()

	login, err := fx.svc.Authenticate(ctx, user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	mfa.verifyErr = auth.ErrInvalidMFACode
	if _, err := fx.svc.VerifyMFA(ctx, login.Challenge.PreSessionToken, model.MFAMethodTOTP, "000000", "10.0.0.1", "cli"); !errors.Is(err, auth.ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	// Failed second factors count toward lockout like failed passwords.
	if fx.users.attempts[user.ID] != 1 {
		t.Fatalf("failed attempts = %d, want 1", fx.users.attempts[user.ID])
	}
	entry := fx.audit.last(t)
	if entry.Action != model.AuditActionMFAFailed || entry.Reason != "invalid_code" {
		t.Fatalf("entry = %s/%s, want mfa.failed/invalid_code", entry.Action, entry.Reason)
	}

	// The pre-session survives a wrong code; the right one still works.
	mfa.verifyErr = nil
	if _, err := fx.svc.VerifyMFA(ctx, login.Challenge.PreSessionToken, model.MFAMethodTOTP, "123456", "10.0.0.1", "cli"); err != nil {
		t.Fatalf("VerifyMFA after retry: %v", err)
	}
}

func TestVerifyMFAInvalidPreSession(t *testing.T) {
	fx := newAuthFixture(t, newStubUserStore(activeUser(t)), &stubMFA{enrolled: true})

	_, err := fx.svc.VerifyMFA(context.Background(), "garbage", model.MFAMethodTOTP, "123456", "10.0.0.1", "cli")
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	entry := fx.audit.last(t)
	if entry.Action != model.AuditActionMFAFailed || entry.Reason != "invalid_pre_session" {
		t.Fatalf("entry = %s/%s, want mfa.failed/invalid_pre_session", entry.Action, entry.Reason)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	user := activeUser(t)
	fx := newAuthFixture(t, newStubUserStore(user), &stubMFA{})
	ctx := context.Background()

	result, err := fx.svc.Authenticate(ctx, user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := fx.svc.Logout(ctx, result.Session.Token, "10.0.0.1", "cli"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := fx.svc.ValidateSession(ctx, result.Session.Token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after logout, got %v", err)
	}
	// Logging out an already dead session is not an error.
	if err := fx.svc.Logout(ctx, result.Session.Token, "10.0.0.1", "cli"); err != nil {
		t.Fatalf("repeated Logout: %v", err)
	}
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	user := activeUser(t)
	fx := newAuthFixture(t, newStubUserStore(user), &stubMFA{})
	ctx := context.Background()

	login, err := fx.svc.Authenticate(ctx, user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	refreshed, err := fx.svc.RefreshSession(ctx, login.Session.Token, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if refreshed.Session.Token == login.Session.Token {
		t.Fatal("refresh must issue a new token")
	}
	if _, err := fx.svc.ValidateSession(ctx, refreshed.Session.Token); err != nil {
		t.Fatalf("ValidateSession on refreshed token: %v", err)
	}
	// The old token is revoked by the rotation.
	if _, err := fx.svc.ValidateSession(ctx, login.Session.Token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for the rotated-out token, got %v", err)
	}
}

func TestValidateSessionRejectsUnavailableAccount(t *testing.T) {
	user := activeUser(t)
	fx := newAuthFixture(t, newStubUserStore(user), &stubMFA{})
	ctx := context.Background()

	result, err := fx.svc.Authenticate(ctx, user.Email, testPassword, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// The session outlives the account becoming suspended; validation must
	// still refuse it.
	user.Status = model.UserStatusSuspended
	if _, err := fx.svc.ValidateSession(ctx, result.Session.Token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for suspended account, got %v", err)
	}
}
