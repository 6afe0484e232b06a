package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/model"
)

// UserRepository handles admin account persistence
type UserRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new admin account
func (r *UserRepository) Create(ctx context.Context, user *model.AdminUser) error {
	query := `
		INSERT INTO admin_users (id, username, email, password_hash, status, mfa_enabled, biometric_enabled, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Status,
		user.MFAEnabled,
		user.BiometricEnabled,
		user.FailedAttempts,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, password_hash, status, mfa_enabled, biometric_enabled,
	       failed_attempts, locked_until, lock_reason, last_login, created_at, updated_at`

// GetByID retrieves an account by ID (excludes soft-deleted)
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE id = $1 AND deleted_at IS NULL`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an account by email (excludes soft-deleted)
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE email = $1 AND deleted_at IS NULL`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByUsername retrieves an account by username (excludes soft-deleted)
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE username = $1 AND deleted_at IS NULL`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

// ExistsByEmail checks if an account with the given email exists
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM admin_users WHERE email = $1 AND deleted_at IS NULL)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// List retrieves accounts ordered by creation time
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*model.AdminUser, error) {
	query := `
		SELECT ` + userColumns + `
		FROM admin_users
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.AdminUser
	for rows.Next() {
		user, err := r.scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateStatus updates the account's status
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status model.UserStatus) error {
	query := `UPDATE admin_users SET status = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash updates the account's password hash
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	query := `UPDATE admin_users SET password_hash = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, hash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMFAEnabled flags whether the account has a verified second factor
func (r *UserRepository) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE admin_users SET mfa_enabled = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, enabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update mfa flag: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBiometricEnabled flags whether the account has a verified WebAuthn credential
func (r *UserRepository) SetBiometricEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE admin_users SET biometric_enabled = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, enabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update biometric flag: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementFailedAttempts increments the failed login attempts counter
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE admin_users
		SET failed_attempts = failed_attempts + 1
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING failed_attempts
	`
	var attempts int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	return attempts, nil
}

// ResetFailedAttempts resets the failed login attempts counter
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	query := `UPDATE admin_users SET failed_attempts = 0, locked_until = NULL, lock_reason = NULL WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	return nil
}

// LockUntil locks the account until the specified time
func (r *UserRepository) LockUntil(ctx context.Context, id string, until time.Time, reason string) error {
	query := `UPDATE admin_users SET locked_until = $1, lock_reason = $2, status = $3, updated_at = $4 WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, until, reason, model.UserStatusLocked, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

// Unlock clears the lockout and restores active status
func (r *UserRepository) Unlock(ctx context.Context, id string) error {
	query := `
		UPDATE admin_users
		SET locked_until = NULL, lock_reason = NULL, failed_attempts = 0, status = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, model.UserStatusActive, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastLogin records a successful authentication time
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE admin_users SET last_login = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// SoftDelete marks the account as deleted without removing audit history
func (r *UserRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE admin_users SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanUser scans a single account row
func (r *UserRepository) scanUser(row *sql.Row) (*model.AdminUser, error) {
	var user model.AdminUser
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Status,
		&user.MFAEnabled,
		&user.BiometricEnabled,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.LockReason,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) scanUserRows(rows *sql.Rows) (*model.AdminUser, error) {
	var user model.AdminUser
	err := rows.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Status,
		&user.MFAEnabled,
		&user.BiometricEnabled,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.LockReason,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
