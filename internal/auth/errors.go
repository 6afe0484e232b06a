package auth

import "errors"

// Decision errors. Every denial a caller can observe maps onto exactly one
// of these; anything unexpected collapses to ErrInternal and denies.
var (
	// ErrUnauthenticated means no usable identity: missing, malformed,
	// expired, or revoked credentials.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the identity is valid but lacks the required
	// permission or admin standing.
	ErrForbidden = errors.New("forbidden")

	// ErrMFARequired means the first factor passed but a second factor is
	// still outstanding.
	ErrMFARequired = errors.New("mfa required")

	// ErrRateLimited means the caller exceeded the allowed attempt rate.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidRoleGraph means a role mutation would create an inheritance
	// cycle or reference a missing role.
	ErrInvalidRoleGraph = errors.New("invalid role graph")

	// ErrInternal means a dependency failed mid-decision. The gate treats it
	// as a denial, never as an allow.
	ErrInternal = errors.New("internal error")
)

// Credential errors. Handlers report these to the client as a single
// generic failure so responses do not reveal which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
)
