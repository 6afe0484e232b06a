package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/model"
)

// RoleRepository handles role, permission, and assignment persistence
type RoleRepository struct {
	db *database.Postgres
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *database.Postgres) *RoleRepository {
	return &RoleRepository{db: db}
}

// CreatePermission inserts a new permission definition
func (r *RoleRepository) CreatePermission(ctx context.Context, perm *model.Permission) error {
	conditionsJSON, err := json.Marshal(perm.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	query := `
		INSERT INTO permissions (id, resource, action, conditions, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.ExecContext(ctx, query,
		perm.ID,
		perm.Resource,
		perm.Action,
		conditionsJSON,
		perm.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// GetPermission retrieves a permission by ID
func (r *RoleRepository) GetPermission(ctx context.Context, id string) (*model.Permission, error) {
	query := `SELECT id, resource, action, conditions, created_at FROM permissions WHERE id = $1`
	return r.scanPermission(r.db.QueryRowContext(ctx, query, id))
}

// ListPermissions retrieves all permission definitions
func (r *RoleRepository) ListPermissions(ctx context.Context) ([]*model.Permission, error) {
	query := `SELECT id, resource, action, conditions, created_at FROM permissions ORDER BY resource, action`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*model.Permission
	for rows.Next() {
		perm, err := r.scanPermissionRows(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// ListPermissionsByIDs retrieves the permissions with the given IDs
func (r *RoleRepository) ListPermissionsByIDs(ctx context.Context, ids []string) ([]*model.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, resource, action, conditions, created_at FROM permissions WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*model.Permission
	for rows.Next() {
		perm, err := r.scanPermissionRows(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// DeletePermission removes a permission definition
func (r *RoleRepository) DeletePermission(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRole inserts a new role at version 1
func (r *RoleRepository) CreateRole(ctx context.Context, role *model.AdminRole) error {
	query := `
		INSERT INTO admin_roles (id, name, description, permissions, inherits, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		pq.Array(role.Permissions),
		pq.Array(role.Inherits),
		role.Version,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (r *RoleRepository) GetRole(ctx context.Context, id string) (*model.AdminRole, error) {
	query := `
		SELECT id, name, description, permissions, inherits, version, created_at, updated_at
		FROM admin_roles WHERE id = $1
	`
	return r.scanRole(r.db.QueryRowContext(ctx, query, id))
}

// GetRoleByName retrieves a role by its unique name
func (r *RoleRepository) GetRoleByName(ctx context.Context, name string) (*model.AdminRole, error) {
	query := `
		SELECT id, name, description, permissions, inherits, version, created_at, updated_at
		FROM admin_roles WHERE name = $1
	`
	return r.scanRole(r.db.QueryRowContext(ctx, query, name))
}

// ListRoles retrieves all roles
func (r *RoleRepository) ListRoles(ctx context.Context) ([]*model.AdminRole, error) {
	query := `
		SELECT id, name, description, permissions, inherits, version, created_at, updated_at
		FROM admin_roles ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*model.AdminRole
	for rows.Next() {
		role, err := r.scanRoleRows(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole applies a compare-and-swap update keyed on the caller's version.
// The stored version must still equal role.Version; on success the row moves
// to role.Version+1. A concurrent writer surfaces as ErrVersionConflict.
func (r *RoleRepository) UpdateRole(ctx context.Context, role *model.AdminRole) error {
	query := `
		UPDATE admin_roles
		SET name = $1, description = $2, permissions = $3, inherits = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		pq.Array(role.Permissions),
		pq.Array(role.Inherits),
		time.Now(),
		role.ID,
		role.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		exists, err := r.roleExists(ctx, role.ID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	role.Version++
	return nil
}

// DeleteRole removes a role. Roles with active assignments or inheritors
// cannot be deleted; the guard queries and the delete run in one
// transaction so a role referenced between them is not removed.
func (r *RoleRepository) DeleteRole(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var assignments int
	query := `
		SELECT COUNT(*) FROM user_role_assignments
		WHERE role_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)
	`
	if err := tx.QueryRowContext(ctx, query, id, time.Now()).Scan(&assignments); err != nil {
		return fmt.Errorf("failed to count assignments: %w", err)
	}
	if assignments > 0 {
		return ErrRoleInUse
	}

	var inheritors int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_roles WHERE $1 = ANY(inherits)`, id).Scan(&inheritors); err != nil {
		return fmt.Errorf("failed to count inheritors: %w", err)
	}
	if inheritors > 0 {
		return ErrRoleInUse
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM admin_roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role delete: %w", err)
	}
	return nil
}

// AssignRole grants a role to a user
func (r *RoleRepository) AssignRole(ctx context.Context, assignment *model.UserRoleAssignment) error {
	query := `
		INSERT INTO user_role_assignments (id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		assignment.ID,
		assignment.UserID,
		assignment.RoleID,
		assignment.AssignedBy,
		assignment.AssignedAt,
		assignment.ExpiresAt,
		assignment.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// UnassignRole deactivates a user's role assignment
func (r *RoleRepository) UnassignRole(ctx context.Context, userID, roleID string) error {
	query := `UPDATE user_role_assignments SET is_active = false WHERE user_id = $1 AND role_id = $2 AND is_active`
	result, err := r.db.ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAssignmentsForUser retrieves all assignments for a user, active or not
func (r *RoleRepository) ListAssignmentsForUser(ctx context.Context, userID string) ([]*model.UserRoleAssignment, error) {
	query := `
		SELECT id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active
		FROM user_role_assignments
		WHERE user_id = $1
		ORDER BY assigned_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*model.UserRoleAssignment
	for rows.Next() {
		var a model.UserRoleAssignment
		err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt, &a.IsActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// CountActiveAssignments counts unexpired active assignments of a role
func (r *RoleRepository) CountActiveAssignments(ctx context.Context, roleID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM user_role_assignments
		WHERE role_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, roleID, time.Now()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return count, nil
}

func (r *RoleRepository) roleExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM admin_roles WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check role existence: %w", err)
	}
	return exists, nil
}

func (r *RoleRepository) scanRole(row *sql.Row) (*model.AdminRole, error) {
	var role model.AdminRole
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		pq.Array(&role.Permissions),
		pq.Array(&role.Inherits),
		&role.Version,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	return &role, nil
}

func (r *RoleRepository) scanRoleRows(rows *sql.Rows) (*model.AdminRole, error) {
	var role model.AdminRole
	err := rows.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		pq.Array(&role.Permissions),
		pq.Array(&role.Inherits),
		&role.Version,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	return &role, nil
}

func (r *RoleRepository) scanPermission(row *sql.Row) (*model.Permission, error) {
	var perm model.Permission
	var conditionsJSON []byte
	err := row.Scan(&perm.ID, &perm.Resource, &perm.Action, &conditionsJSON, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &perm.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	return &perm, nil
}

func (r *RoleRepository) scanPermissionRows(rows *sql.Rows) (*model.Permission, error) {
	var perm model.Permission
	var conditionsJSON []byte
	err := rows.Scan(&perm.ID, &perm.Resource, &perm.Action, &conditionsJSON, &perm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &perm.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	return &perm, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint error
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
