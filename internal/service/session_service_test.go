package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
)

// fakeSessionStore is an in-memory SessionStore. Published invalidations are
// recorded but not delivered; tests exercise the cache bound directly.
type fakeSessionStore struct {
	values    map[string]string
	sets      map[string]map[string]bool
	published []string
	getErr    error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		values: make(map[string]string),
		sets:   make(map[string]map[string]bool),
	}
}

func (s *fakeSessionStore) SetWithTTL(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.values[key] = value.(string)
	return nil
}

func (s *fakeSessionStore) GetString(_ context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	v, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *fakeSessionStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *fakeSessionStore) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		s.sets[key][m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (s *fakeSessionStore) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	for _, m := range members {
		delete(s.sets[key], m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (s *fakeSessionStore) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	var out []string
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (s *fakeSessionStore) Publish(_ context.Context, _ string, message interface{}) error {
	s.published = append(s.published, message.(string))
	return nil
}

func (s *fakeSessionStore) Subscribe(_ context.Context, _ ...string) *redis.PubSub {
	return nil
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		SigningSecret:      "test-secret-0123456789abcdef",
		TTL:                time.Hour,
		PreSessionTTL:      5 * time.Minute,
		Issuer:             "gatewarden-test",
		ValidationCacheTTL: 5 * time.Second,
	}
}

func newTestSessionService(t *testing.T, store *fakeSessionStore) *SessionService {
	t.Helper()
	tokens, err := auth.NewTokenService(testSessionConfig())
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewSessionService(store, tokens, testSessionConfig(), logger.New("disabled", "json"))
}

func testUser() *model.AdminUser {
	return &model.AdminUser{
		ID:       "user_1",
		Username: "op",
		Email:    "op@example.com",
		Status:   model.UserStatusActive,
	}
}

func TestSessionCreateAndValidate(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	token, created, err := svc.CreateSession(ctx, testUser(), true, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !created.MFASatisfied || created.State != model.SessionStateAuthenticated {
		t.Fatalf("unexpected session: %+v", created)
	}

	session, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if session.UserID != "user_1" || !session.MFASatisfied {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestValidateRejectsGarbageAndPreSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	if _, err := svc.Validate(ctx, "not-a-token"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	// A pre-session token on a gated route signals the outstanding second
	// factor, not a generic failure.
	preToken, err := svc.CreatePreSession(ctx, testUser(), "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreatePreSession: %v", err)
	}
	if _, err := svc.Validate(ctx, preToken); !errors.Is(err, auth.ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}
	if _, err := svc.ValidatePreSession(ctx, preToken); err != nil {
		t.Fatalf("ValidatePreSession: %v", err)
	}
}

func TestValidateRejectsUnknownSessionRecord(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	token, _, err := svc.CreateSession(ctx, testUser(), true, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// A valid JWT with no backing record is not a session: the server-side
	// record is authoritative.
	store.values = make(map[string]string)
	svc.dropCached(auth.HashToken(token))
	if _, err := svc.Validate(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRevokeInvalidatesSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, testUser(), true, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.Validate(ctx, token); err != nil {
		t.Fatalf("Validate before revoke: %v", err)
	}

	if err := svc.Revoke(ctx, session, "logout"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// Revoke drops the local cache entry and broadcasts the hash so other
	// processes do the same.
	if _, err := svc.Validate(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after revoke, got %v", err)
	}
	if len(store.published) != 1 || store.published[0] != session.TokenHash {
		t.Fatalf("expected invalidation broadcast of the token hash, got %v", store.published)
	}
}

func TestValidationCacheBoundsRevocationPropagation(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, testUser(), true, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.Validate(ctx, token); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Mutate the record behind the service's back, as a revocation from
	// another process would. The cached result keeps passing until it ages
	// out; that window is the documented propagation bound.
	session.Revoked = true
	if err := svc.put(ctx, session); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := svc.Validate(ctx, token); err != nil {
		t.Fatalf("expected cached validation to still pass, got %v", err)
	}

	base := time.Now()
	svc.now = func() time.Time { return base.Add(svc.cfg.ValidationCacheTTL + time.Second) }
	if _, err := svc.Validate(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated once the cache aged out, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()
	user := testUser()

	tokenA, _, err := svc.CreateSession(ctx, user, true, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	tokenB, _, err := svc.CreateSession(ctx, user, true, "10.0.0.2", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	revoked, err := svc.RevokeAllForUser(ctx, user.ID, "account_locked")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}
	for _, token := range []string{tokenA, tokenB} {
		if _, err := svc.Validate(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	}
}

func TestPreSessionSingleUseDelete(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	token, err := svc.CreatePreSession(ctx, testUser(), "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreatePreSession: %v", err)
	}
	pre, err := svc.ValidatePreSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidatePreSession: %v", err)
	}

	if err := svc.Delete(ctx, pre); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.ValidatePreSession(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after consumption, got %v", err)
	}
}

func TestMarkMFASatisfied(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(t, store)
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, testUser(), false, "10.0.0.1", "cli")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.MarkMFASatisfied(ctx, session); err != nil {
		t.Fatalf("MarkMFASatisfied: %v", err)
	}

	got, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !got.MFASatisfied {
		t.Fatal("session not marked MFA satisfied")
	}
}
