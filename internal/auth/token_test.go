package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/config"
)

func testTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(config.SessionConfig{
		SigningSecret: "test-secret-0123456789abcdef",
		TTL:           time.Hour,
		PreSessionTTL: 5 * time.Minute,
		Issuer:        "gatewarden-test",
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService(config.SessionConfig{}); err == nil {
		t.Fatal("expected error for empty signing secret")
	}
}

func TestIssueAndValidateSessionToken(t *testing.T) {
	svc := testTokenService(t)

	token, hash, err := svc.IssueSessionToken("user_1", "op@example.com")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if hash != HashToken(token) {
		t.Fatal("returned hash does not match HashToken of the signed token")
	}

	claims, err := svc.Validate(token, TokenUseSession)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user_1" {
		t.Fatalf("subject = %q, want user_1", claims.Subject)
	}
	if claims.Email != "op@example.com" {
		t.Fatalf("email = %q, want op@example.com", claims.Email)
	}
	if claims.TokenUse != TokenUseSession {
		t.Fatalf("token_use = %q, want %q", claims.TokenUse, TokenUseSession)
	}
}

func TestValidateRejectsWrongTokenUse(t *testing.T) {
	svc := testTokenService(t)

	// A pre-session token grants nothing but the right to present a second
	// factor; it must never pass as a full session.
	token, _, err := svc.IssuePreSessionToken("user_1", "op@example.com")
	if err != nil {
		t.Fatalf("IssuePreSessionToken: %v", err)
	}
	if _, err := svc.Validate(token, TokenUseSession); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.Validate(token, TokenUsePreSession); err != nil {
		t.Fatalf("pre-session validation: %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc, err := NewTokenService(config.SessionConfig{
		SigningSecret: "test-secret-0123456789abcdef",
		TTL:           -time.Minute,
		Issuer:        "gatewarden-test",
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, _, err := svc.IssueSessionToken("user_1", "op@example.com")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if _, err := svc.Validate(token, TokenUseSession); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := testTokenService(t)

	token, _, err := svc.IssueSessionToken("user_1", "op@example.com")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := svc.Validate(tampered, TokenUseSession); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for tampered signature, got %v", err)
	}

	if _, err := svc.Validate("not-a-jwt", TokenUseSession); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for garbage input, got %v", err)
	}
}

func TestValidateRejectsForeignIssuer(t *testing.T) {
	other, err := NewTokenService(config.SessionConfig{
		SigningSecret: "test-secret-0123456789abcdef",
		TTL:           time.Hour,
		Issuer:        "someone-else",
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := other.IssueSessionToken("user_1", "op@example.com")
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	svc := testTokenService(t)
	if _, err := svc.Validate(token, TokenUseSession); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for wrong issuer, got %v", err)
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(16)
	if err != nil {
		t.Fatalf("RandomToken: %v", err)
	}
	b, err := RandomToken(16)
	if err != nil {
		t.Fatalf("RandomToken: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatal("two random tokens collided")
	}
}
