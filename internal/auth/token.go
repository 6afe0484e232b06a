package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/config"
)

// Token kinds carried in the token_use claim. A pre-session token is the
// MFAPending handle and grants nothing except the right to present a second
// factor.
const (
	TokenUseSession    = "session"
	TokenUsePreSession = "pre_session"
)

// TokenService issues and validates HS256 session tokens. The JWT is a
// carrier only; the server-side session record keyed by the token hash is
// authoritative for revocation and state.
type TokenService struct {
	cfg    config.SessionConfig
	secret []byte
}

// TokenClaims represents the claims in a session token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	TokenUse string `json:"token_use"`
}

// NewTokenService creates a new TokenService. The signing secret is
// mandatory; there is no development fallback key.
func NewTokenService(cfg config.SessionConfig) (*TokenService, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("session signing secret is required")
	}
	return &TokenService{cfg: cfg, secret: []byte(cfg.SigningSecret)}, nil
}

// IssueSessionToken creates a full session token. It returns the signed
// token and its SHA-256 hash, which keys the server-side session record.
func (s *TokenService) IssueSessionToken(userID, email string) (string, string, error) {
	return s.issue(userID, email, TokenUseSession, s.cfg.TTL)
}

// IssuePreSessionToken creates the short-lived MFAPending handle returned
// after a successful first factor.
func (s *TokenService) IssuePreSessionToken(userID, email string) (string, string, error) {
	return s.issue(userID, email, TokenUsePreSession, s.cfg.PreSessionTTL)
}

func (s *TokenService) issue(userID, email, tokenUse string, ttl time.Duration) (string, string, error) {
	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Email:    email,
		TokenUse: tokenUse,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, HashToken(signed), nil
}

// Validate parses and verifies a token, requiring the given token use. Any
// failure collapses to ErrUnauthenticated; the caller never learns which
// check rejected.
func (s *TokenService) Validate(tokenString, wantUse string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.TokenUse != wantUse || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// HashToken creates a SHA-256 hash of a token for storage lookup. The raw
// token never touches persistent storage.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// RandomToken returns a hex-encoded random value, used for backup codes and
// email one-time codes.
func RandomToken(bytes int) (string, error) {
	raw := make([]byte, bytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
