package model

import (
	"encoding/json"
	"time"
)

// MFAMethodType represents a type of second factor
type MFAMethodType string

const (
	MFAMethodTOTP       MFAMethodType = "totp"
	MFAMethodWebAuthn   MFAMethodType = "webauthn"
	MFAMethodEmailOTP   MFAMethodType = "email_otp"
	MFAMethodBackupCode MFAMethodType = "backup_code"
)

// MFAMethod represents an enrolled second factor for an admin user
type MFAMethod struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Method         MFAMethodType   `json:"method"`
	Secret         []byte          `json:"-"` // TOTP secret, never expose
	CredentialData json.RawMessage `json:"credentialData,omitempty"`
	Verified       bool            `json:"verified"`
	IsPrimary      bool            `json:"isPrimary"`
	LastUsed       *time.Time      `json:"lastUsed,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// BackupCode represents a one-time-use recovery code
type BackupCode struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	CodeHash  string     `json:"-"` // hashed code, never expose
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsUsed checks if the backup code has already been consumed
func (b *BackupCode) IsUsed() bool {
	return b.UsedAt != nil
}

// MFASetupResponse is returned when setting up TOTP
type MFASetupResponse struct {
	Secret    string `json:"secret"`
	QRCode    string `json:"qrCode"` // base64-encoded PNG
	Issuer    string `json:"issuer"`
	AccountID string `json:"accountId"`
}

// MFAChallenge is returned by a successful first factor when a second factor
// is still outstanding. The pre-session token is the MFAPending handle.
type MFAChallenge struct {
	Status           string          `json:"status"` // "mfa_required"
	PreSessionToken  string          `json:"preSessionToken"`
	AvailableMethods []MFAMethodType `json:"availableMethods"`
	PreferredMethod  *MFAMethodType  `json:"preferredMethod,omitempty"`
}

// MFAMethodInfo describes an enrolled method without secrets
type MFAMethodInfo struct {
	Method    MFAMethodType `json:"method"`
	Verified  bool          `json:"verified"`
	IsPrimary bool          `json:"isPrimary"`
	LastUsed  *time.Time    `json:"lastUsed,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}
