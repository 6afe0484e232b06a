package model

import (
	"time"
)

// SessionState tracks where a session sits in the authentication state
// machine: Anonymous → Credentialed → MFAPending → Authenticated, with
// Expired and Revoked reachable from Authenticated.
type SessionState string

const (
	SessionStateMFAPending    SessionState = "mfa_pending"
	SessionStateAuthenticated SessionState = "authenticated"
	SessionStateExpired       SessionState = "expired"
	SessionStateRevoked       SessionState = "revoked"
)

// AuthSession is the server-side session record, stored keyed by the SHA-256
// hash of the bearer token. The raw token never touches persistent storage.
type AuthSession struct {
	TokenHash    string       `json:"-"`
	UserID       string       `json:"userId"`
	State        SessionState `json:"state"`
	IssuedAt     time.Time    `json:"issuedAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	MFASatisfied bool         `json:"mfaSatisfied"`
	Revoked      bool         `json:"revoked"`
	RevokedAt    *time.Time   `json:"revokedAt,omitempty"`
	IPAddress    string       `json:"ipAddress,omitempty"`
	UserAgent    string       `json:"userAgent,omitempty"`
}

// IsExpired checks if the session has passed its expiry instant.
func (s *AuthSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Usable reports whether the session may authenticate a request under the
// given two-factor policy: not revoked, not expired, and MFA satisfied when
// the policy demands it. Account status is checked separately by the
// authentication service on every validation.
func (s *AuthSession) Usable(now time.Time, requireTwoFactor bool) bool {
	if s.Revoked || s.IsExpired(now) {
		return false
	}
	if requireTwoFactor && !s.MFASatisfied {
		return false
	}
	return true
}
