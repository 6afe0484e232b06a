package model

import (
	"time"
)

// UserStatus represents the status of an admin account
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusLocked    UserStatus = "locked"
)

// AdminUser is an administrative account. Rows are never hard-deleted while
// audit history references them; DeletedAt marks soft deletion.
type AdminUser struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"` // never expose password hash
	Status           UserStatus `json:"status"`
	MFAEnabled       bool       `json:"mfaEnabled"`
	BiometricEnabled bool       `json:"biometricEnabled"`
	FailedAttempts   int        `json:"-"`
	LockedUntil      *time.Time `json:"-"`
	LockReason       *string    `json:"-"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	DeletedAt        *time.Time `json:"-"`
}

// IsLocked checks if the account is currently locked, either explicitly or by
// an unexpired lockout window.
func (u *AdminUser) IsLocked() bool {
	if u.Status == UserStatusLocked {
		return true
	}
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}

// IsActive checks if the account may authenticate and hold sessions.
func (u *AdminUser) IsActive() bool {
	return u.Status == UserStatusActive && !u.IsLocked()
}
