package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
)

// Session service errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session has expired")
)

// Redis keys and channels
const (
	sessionKeyPrefix   = "gatewarden:session:"
	userSessionsPrefix = "gatewarden:user_sessions:"

	// InvalidateChannel carries token hashes of revoked sessions so every
	// process drops its cached validation immediately.
	InvalidateChannel = "gatewarden:session:invalidate"
)

// SessionStore is the Redis surface the session service depends on.
// Implemented by database.Redis.
type SessionStore interface {
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type cachedValidation struct {
	session  *model.AuthSession
	cachedAt time.Time
}

// SessionService owns the server-side session records. Sessions live in
// Redis keyed by the SHA-256 hash of the bearer token; the JWT itself is
// only a carrier. Validation results are cached locally for at most the
// configured TTL, which bounds how long a revoked session can still pass.
type SessionService struct {
	store  SessionStore
	tokens *auth.TokenService
	cfg    config.SessionConfig
	log    *logger.Logger

	mu    sync.RWMutex
	cache map[string]cachedValidation

	now func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(store SessionStore, tokens *auth.TokenService, cfg config.SessionConfig, log *logger.Logger) *SessionService {
	if cfg.ValidationCacheTTL > config.MaxValidationCacheTTL {
		cfg.ValidationCacheTTL = config.MaxValidationCacheTTL
	}
	return &SessionService{
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		log:    log.WithComponent("session_service"),
		cache:  make(map[string]cachedValidation),
		now:    time.Now,
	}
}

// CreateSession issues a full session token and stores the session record.
// mfaSatisfied reflects whether a second factor was presented.
func (s *SessionService) CreateSession(ctx context.Context, user *model.AdminUser, mfaSatisfied bool, ipAddress, userAgent string) (string, *model.AuthSession, error) {
	token, hash, err := s.tokens.IssueSessionToken(user.ID, user.Email)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	now := s.now()
	session := &model.AuthSession{
		TokenHash:    hash,
		UserID:       user.ID,
		State:        model.SessionStateAuthenticated,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.cfg.TTL),
		MFASatisfied: mfaSatisfied,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
	}

	if err := s.put(ctx, session); err != nil {
		return "", nil, err
	}
	if err := s.store.SAdd(ctx, userSessionsPrefix+user.ID, hash).Err(); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to index session")
	}

	return token, session, nil
}

// CreatePreSession issues the short-lived MFAPending handle after a
// successful first factor. It grants nothing except the right to present a
// second factor.
func (s *SessionService) CreatePreSession(ctx context.Context, user *model.AdminUser, ipAddress, userAgent string) (string, error) {
	token, hash, err := s.tokens.IssuePreSessionToken(user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("failed to issue pre-session token: %w", err)
	}

	now := s.now()
	session := &model.AuthSession{
		TokenHash: hash,
		UserID:    user.ID,
		State:     model.SessionStateMFAPending,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.PreSessionTTL),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}

	if err := s.put(ctx, session); err != nil {
		return "", err
	}
	return token, nil
}

// Validate resolves a bearer token to a usable session. The result may come
// from the local cache, aged at most ValidationCacheTTL; everything else
// consults Redis. Any failure maps to ErrUnauthenticated except an
// MFAPending session presented as a full session, which is ErrMFARequired.
func (s *SessionService) Validate(ctx context.Context, token string) (*model.AuthSession, error) {
	claims, err := s.tokens.Validate(token, auth.TokenUseSession)
	if err != nil {
		// A pre-session token on a gated route means the second factor is
		// still outstanding.
		if _, preErr := s.tokens.Validate(token, auth.TokenUsePreSession); preErr == nil {
			return nil, auth.ErrMFARequired
		}
		return nil, auth.ErrUnauthenticated
	}

	hash := auth.HashToken(token)
	now := s.now()

	s.mu.RLock()
	cached, ok := s.cache[hash]
	s.mu.RUnlock()
	if ok && now.Sub(cached.cachedAt) < s.cfg.ValidationCacheTTL {
		return s.checkUsable(cached.session, now)
	}

	session, err := s.getByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	if session.UserID != claims.Subject {
		return nil, auth.ErrUnauthenticated
	}

	s.mu.Lock()
	s.cache[hash] = cachedValidation{session: session, cachedAt: now}
	s.mu.Unlock()

	return s.checkUsable(session, now)
}

// ValidatePreSession resolves a pre-session token to its MFAPending record.
func (s *SessionService) ValidatePreSession(ctx context.Context, token string) (*model.AuthSession, error) {
	claims, err := s.tokens.Validate(token, auth.TokenUsePreSession)
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}

	session, err := s.getByHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	if session.UserID != claims.Subject || session.State != model.SessionStateMFAPending {
		return nil, auth.ErrUnauthenticated
	}
	if session.IsExpired(s.now()) {
		return nil, auth.ErrUnauthenticated
	}
	return session, nil
}

// MarkMFASatisfied upgrades a session after a second factor passes.
func (s *SessionService) MarkMFASatisfied(ctx context.Context, session *model.AuthSession) error {
	session.MFASatisfied = true
	session.State = model.SessionStateAuthenticated
	if err := s.put(ctx, session); err != nil {
		return err
	}
	s.dropCached(session.TokenHash)
	return nil
}

// Refresh extends a usable session by reissuing it: a new token, a new
// record, and revocation of the old one.
func (s *SessionService) Refresh(ctx context.Context, old *model.AuthSession, user *model.AdminUser) (string, *model.AuthSession, error) {
	token, session, err := s.CreateSession(ctx, user, old.MFASatisfied, old.IPAddress, old.UserAgent)
	if err != nil {
		return "", nil, err
	}
	if err := s.Revoke(ctx, old, "refreshed"); err != nil {
		s.log.Error().Err(err).Str("user_id", old.UserID).Msg("failed to revoke refreshed session")
	}
	return token, session, nil
}

// Revoke marks a session revoked and broadcasts the invalidation so every
// process drops its cached validation. The record stays in Redis until its
// natural expiry so late presenters see "revoked", not "unknown".
func (s *SessionService) Revoke(ctx context.Context, session *model.AuthSession, reason string) error {
	now := s.now()
	session.Revoked = true
	session.RevokedAt = &now
	session.State = model.SessionStateRevoked

	if err := s.put(ctx, session); err != nil {
		return err
	}
	if err := s.store.SRem(ctx, userSessionsPrefix+session.UserID, session.TokenHash).Err(); err != nil {
		s.log.Error().Err(err).Str("user_id", session.UserID).Msg("failed to unindex session")
	}

	s.dropCached(session.TokenHash)
	if err := s.store.Publish(ctx, InvalidateChannel, session.TokenHash); err != nil {
		s.log.Error().Err(err).Msg("failed to publish session invalidation")
	}

	s.log.Info().Str("user_id", session.UserID).Str("reason", reason).Msg("session revoked")
	return nil
}

// RevokeAllForUser revokes every indexed session of a user, used on lockout
// and account suspension.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	hashes, err := s.store.SMembers(ctx, userSessionsPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	revoked := 0
	for _, hash := range hashes {
		session, err := s.getByHash(ctx, hash)
		if err != nil {
			continue
		}
		if err := s.Revoke(ctx, session, reason); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("failed to revoke session")
			continue
		}
		revoked++
	}
	return revoked, nil
}

// Delete removes a session record entirely, used when a pre-session is
// consumed by MFA verification.
func (s *SessionService) Delete(ctx context.Context, session *model.AuthSession) error {
	s.dropCached(session.TokenHash)
	return s.store.Delete(ctx, sessionKeyPrefix+session.TokenHash)
}

// StartInvalidationSubscriber consumes revocation broadcasts until the
// context is cancelled. Run once per process.
func (s *SessionService) StartInvalidationSubscriber(ctx context.Context) {
	pubsub := s.store.Subscribe(ctx, InvalidateChannel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.dropCached(msg.Payload)
			}
		}
	}()
}

func (s *SessionService) put(ctx context.Context, session *model.AuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.store.SetWithTTL(ctx, sessionKeyPrefix+session.TokenHash, string(data), ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SessionService) getByHash(ctx context.Context, hash string) (*model.AuthSession, error) {
	data, err := s.store.GetString(ctx, sessionKeyPrefix+hash)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session model.AuthSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	session.TokenHash = hash
	return &session, nil
}

func (s *SessionService) checkUsable(session *model.AuthSession, now time.Time) (*model.AuthSession, error) {
	if session.Revoked {
		return nil, auth.ErrUnauthenticated
	}
	if session.IsExpired(now) {
		return nil, auth.ErrUnauthenticated
	}
	if session.State == model.SessionStateMFAPending {
		return nil, auth.ErrMFARequired
	}
	return session, nil
}

func (s *SessionService) dropCached(hash string) {
	s.mu.Lock()
	delete(s.cache, hash)
	s.mu.Unlock()
}
