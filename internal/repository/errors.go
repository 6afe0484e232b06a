package repository

import "errors"

// Common repository errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("record already exists")
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict is returned by compare-and-swap updates when the
	// stored version no longer matches the caller's.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRoleInUse is returned when deleting a role that still has active
	// assignments or is inherited by another role.
	ErrRoleInUse = errors.New("role is in use")
)
