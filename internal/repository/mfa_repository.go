package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/model"
)

// MFARepository handles second-factor enrollment persistence
type MFARepository struct {
	db *database.Postgres
}

// NewMFARepository creates a new MFARepository
func NewMFARepository(db *database.Postgres) *MFARepository {
	return &MFARepository{db: db}
}

// CreateMethod inserts a new second-factor enrollment
func (r *MFARepository) CreateMethod(ctx context.Context, method *model.MFAMethod) error {
	query := `
		INSERT INTO mfa_methods (id, user_id, method, secret, credential_data, verified, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		method.ID,
		method.UserID,
		method.Method,
		method.Secret,
		[]byte(method.CredentialData),
		method.Verified,
		method.IsPrimary,
		method.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mfa method: %w", err)
	}
	return nil
}

// GetMethod retrieves a user's enrollment of the given type
func (r *MFARepository) GetMethod(ctx context.Context, userID string, method model.MFAMethodType) (*model.MFAMethod, error) {
	query := `
		SELECT id, user_id, method, secret, credential_data, verified, is_primary, last_used, created_at
		FROM mfa_methods
		WHERE user_id = $1 AND method = $2
	`
	return r.scanMethod(r.db.QueryRowContext(ctx, query, userID, method))
}

// ListMethods retrieves all enrollments for a user
func (r *MFARepository) ListMethods(ctx context.Context, userID string) ([]*model.MFAMethod, error) {
	query := `
		SELECT id, user_id, method, secret, credential_data, verified, is_primary, last_used, created_at
		FROM mfa_methods
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mfa methods: %w", err)
	}
	defer rows.Close()

	var methods []*model.MFAMethod
	for rows.Next() {
		var m model.MFAMethod
		var credentialData []byte
		err := rows.Scan(&m.ID, &m.UserID, &m.Method, &m.Secret, &credentialData, &m.Verified, &m.IsPrimary, &m.LastUsed, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mfa method: %w", err)
		}
		m.CredentialData = credentialData
		methods = append(methods, &m)
	}
	return methods, rows.Err()
}

// MarkVerified flags an enrollment as verified after a successful challenge
func (r *MFARepository) MarkVerified(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE mfa_methods SET verified = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark mfa method verified: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCredentialData replaces the stored credential payload, used by
// WebAuthn to persist the updated sign counter after each assertion.
func (r *MFARepository) UpdateCredentialData(ctx context.Context, id string, data []byte) error {
	result, err := r.db.ExecContext(ctx, `UPDATE mfa_methods SET credential_data = $1 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update credential data: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrimary marks one enrollment as the preferred method and clears the flag
// on the user's others.
func (r *MFARepository) SetPrimary(ctx context.Context, userID, methodID string) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE mfa_methods SET is_primary = false WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear primary flags: %w", err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE mfa_methods SET is_primary = true WHERE id = $1 AND user_id = $2`, methodID, userID)
	if err != nil {
		return fmt.Errorf("failed to set primary method: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// TouchLastUsed records when a method last passed verification
func (r *MFARepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE mfa_methods SET last_used = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// DeleteMethod removes an enrollment
func (r *MFARepository) DeleteMethod(ctx context.Context, userID string, method model.MFAMethodType) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM mfa_methods WHERE user_id = $1 AND method = $2`, userID, method)
	if err != nil {
		return fmt.Errorf("failed to delete mfa method: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceBackupCodes deletes the user's existing backup codes and stores a
// fresh set in one transaction.
func (r *MFARepository) ReplaceBackupCodes(ctx context.Context, userID string, codes []*model.BackupCode) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear backup codes: %w", err)
	}

	query := `INSERT INTO backup_codes (id, user_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, query, code.ID, code.UserID, code.CodeHash, code.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert backup code: %w", err)
		}
	}
	return tx.Commit()
}

// ListUnusedBackupCodes retrieves the user's remaining backup codes
func (r *MFARepository) ListUnusedBackupCodes(ctx context.Context, userID string) ([]*model.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM backup_codes
		WHERE user_id = $1 AND used_at IS NULL
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []*model.BackupCode
	for rows.Next() {
		var c model.BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, &c)
	}
	return codes, rows.Err()
}

// ConsumeBackupCode marks a code as used. A code already consumed is not
// consumable again.
func (r *MFARepository) ConsumeBackupCode(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE backup_codes SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to consume backup code: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MFARepository) scanMethod(row *sql.Row) (*model.MFAMethod, error) {
	var m model.MFAMethod
	var credentialData []byte
	err := row.Scan(&m.ID, &m.UserID, &m.Method, &m.Secret, &credentialData, &m.Verified, &m.IsPrimary, &m.LastUsed, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mfa method: %w", err)
	}
	m.CredentialData = credentialData
	return &m, nil
}
