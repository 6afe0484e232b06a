package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/rbac"
	"github.com/gatewarden/gatewarden/internal/repository"
)

// Account service errors
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrRoleNotFound     = errors.New("role not found")
	ErrRoleConflict     = errors.New("role was modified concurrently")
	ErrRoleInUse        = errors.New("role is still assigned or inherited")
	ErrAlreadyAssigned  = errors.New("role already assigned")
	ErrSelfLock         = errors.New("cannot lock own account")
	ErrValidationFailed = errors.New("validation failed")
)

// Actor identifies the administrator performing a management operation,
// recorded on every audit entry the operation produces.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// AccountService handles administrative management of accounts, role
// definitions, and role assignments. Every mutation produces one audit
// entry attributed to the acting administrator.
type AccountService struct {
	users    *repository.UserRepository
	roles    *repository.RoleRepository
	registry *rbac.Registry
	sessions *SessionService
	audit    Recorder
	cfg      *config.Config
	log      *logger.Logger
	now      func() time.Time
}

// NewAccountService creates a new AccountService
func NewAccountService(
	users *repository.UserRepository,
	roles *repository.RoleRepository,
	registry *rbac.Registry,
	sessions *SessionService,
	audit Recorder,
	cfg *config.Config,
	log *logger.Logger,
) *AccountService {
	return &AccountService{
		users:    users,
		roles:    roles,
		registry: registry,
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		log:      log.WithComponent("account_service"),
		now:      time.Now,
	}
}

// CreateUser registers a new administrative account in pending status
func (s *AccountService) CreateUser(ctx context.Context, username, email, password string, actor Actor) (*model.AdminUser, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))

	if err := auth.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := auth.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := auth.ValidatePassword(password, s.cfg.Security.Password.MinLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(password, auth.ParamsFromConfig(s.cfg.Security.Password))
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.AdminUser{
		ID:           generateID("usr"),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       model.UserStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.recordAction(ctx, actor, model.AuditActionUserCreated, user.ID, map[string]interface{}{
		"username": username,
		"email":    email,
	})
	s.log.Info().Str("user_id", user.ID).Str("actor", actor.UserID).Msg("user created")
	return user, nil
}

// ActivateUser moves a pending account to active
func (s *AccountService) ActivateUser(ctx context.Context, userID string, actor Actor) error {
	if err := s.users.UpdateStatus(ctx, userID, model.UserStatusActive); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.recordAction(ctx, actor, model.AuditActionUserUpdated, userID, map[string]interface{}{"status": model.UserStatusActive})
	return nil
}

// GetUser retrieves an account by ID
func (s *AccountService) GetUser(ctx context.Context, id string) (*model.AdminUser, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves accounts with pagination
func (s *AccountService) ListUsers(ctx context.Context, limit, offset int) ([]*model.AdminUser, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.users.List(ctx, limit, offset)
}

// LockUser locks an account indefinitely and revokes all its sessions.
// Administrators cannot lock themselves out.
func (s *AccountService) LockUser(ctx context.Context, userID, reason string, actor Actor) error {
	if userID == actor.UserID {
		return ErrSelfLock
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}

	// Far enough ahead to require a manual unlock.
	until := s.now().Add(24 * 365 * time.Hour)
	if err := s.users.LockUntil(ctx, userID, until, reason); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, "admin_lock"); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to revoke sessions on lock")
	}

	s.recordAction(ctx, actor, model.AuditActionAccountLocked, userID, map[string]interface{}{"reason": reason})
	s.log.Info().Str("user_id", userID).Str("actor", actor.UserID).Msg("account locked by admin")
	return nil
}

// UnlockUser clears a lockout and restores active status
func (s *AccountService) UnlockUser(ctx context.Context, userID string, actor Actor) error {
	if err := s.users.Unlock(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.recordAction(ctx, actor, model.AuditActionAccountUnlocked, userID, nil)
	s.log.Info().Str("user_id", userID).Str("actor", actor.UserID).Msg("account unlocked by admin")
	return nil
}

// DeleteUser soft-deletes an account and revokes all its sessions
func (s *AccountService) DeleteUser(ctx context.Context, userID string, actor Actor) error {
	if userID == actor.UserID {
		return ErrSelfLock
	}
	if err := s.users.SoftDelete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, "account_deleted"); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to revoke sessions on delete")
	}
	s.recordAction(ctx, actor, model.AuditActionUserDeleted, userID, nil)
	return nil
}

// --- Role definitions ---

// CreateRole validates and persists a new role
func (s *AccountService) CreateRole(ctx context.Context, name, description string, permissions, inherits []string, actor Actor) (*model.AdminRole, error) {
	now := s.now()
	role := &model.AdminRole{
		ID:          generateID("role"),
		Name:        strings.TrimSpace(name),
		Description: description,
		Permissions: permissions,
		Inherits:    inherits,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.registry.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.recordAction(ctx, actor, model.AuditActionRoleCreated, role.ID, map[string]interface{}{"name": role.Name})
	return role, nil
}

// UpdateRole applies a versioned update to a role definition. The caller's
// version must match the stored one.
func (s *AccountService) UpdateRole(ctx context.Context, role *model.AdminRole, actor Actor) error {
	err := s.registry.UpdateRole(ctx, role)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrRoleConflict
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoleNotFound
		}
		return err
	}
	s.recordAction(ctx, actor, model.AuditActionRoleUpdated, role.ID, map[string]interface{}{
		"name":    role.Name,
		"version": role.Version,
	})
	return nil
}

// DeleteRole removes an unreferenced role
func (s *AccountService) DeleteRole(ctx context.Context, roleID string, actor Actor) error {
	err := s.registry.DeleteRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrRoleInUse) {
			return ErrRoleInUse
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoleNotFound
		}
		return err
	}
	s.recordAction(ctx, actor, model.AuditActionRoleDeleted, roleID, nil)
	return nil
}

// --- Permissions ---

// CreatePermission registers a permission in the catalogue. Condition
// operators are validated by the registry before anything persists.
func (s *AccountService) CreatePermission(ctx context.Context, resource, action string, conditions []model.Condition, actor Actor) (*model.Permission, error) {
	perm := &model.Permission{
		ID:         generateID("perm"),
		Resource:   strings.TrimSpace(resource),
		Action:     strings.TrimSpace(action),
		Conditions: conditions,
		CreatedAt:  s.now(),
	}
	if err := s.registry.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	s.recordAction(ctx, actor, model.AuditActionPermCreated, perm.ID, map[string]interface{}{
		"resource": perm.Resource,
		"action":   perm.Action,
	})
	return perm, nil
}

// DeletePermission removes an unreferenced permission from the catalogue
func (s *AccountService) DeletePermission(ctx context.Context, permID string, actor Actor) error {
	if err := s.registry.DeletePermission(ctx, permID); err != nil {
		return err
	}
	s.recordAction(ctx, actor, model.AuditActionPermDeleted, permID, nil)
	return nil
}

// --- Role assignments ---

// AssignRole grants a role to a user, optionally until an expiry instant
func (s *AccountService) AssignRole(ctx context.Context, userID, roleID string, expiresAt *time.Time, actor Actor) (*model.UserRoleAssignment, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.registry.GetRole(ctx, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}

	existing, err := s.roles.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, a := range existing {
		if a.RoleID == roleID && a.IsEffective(now) {
			return nil, ErrAlreadyAssigned
		}
	}

	assignment := &model.UserRoleAssignment{
		ID:         generateID("asg"),
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: actor.UserID,
		AssignedAt: now,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	if err := s.roles.AssignRole(ctx, assignment); err != nil {
		return nil, err
	}

	s.recordAction(ctx, actor, model.AuditActionRoleAssigned, userID, map[string]interface{}{
		"role_id": roleID,
	})
	return assignment, nil
}

// UnassignRole deactivates a user's role assignment
func (s *AccountService) UnassignRole(ctx context.Context, userID, roleID string, actor Actor) error {
	if err := s.roles.UnassignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoleNotFound
		}
		return err
	}
	s.recordAction(ctx, actor, model.AuditActionRoleUnassigned, userID, map[string]interface{}{
		"role_id": roleID,
	})
	return nil
}

// ListUserRoles retrieves a user's assignments
func (s *AccountService) ListUserRoles(ctx context.Context, userID string) ([]*model.UserRoleAssignment, error) {
	return s.roles.ListAssignmentsForUser(ctx, userID)
}

func (s *AccountService) recordAction(ctx context.Context, actor Actor, action, resource string, metadata map[string]interface{}) {
	actorID := actor.UserID
	s.audit.Record(ctx, &model.AuditEntry{
		UserID:    &actorID,
		Action:    action,
		Resource:  &resource,
		Success:   true,
		IPAddress: &actor.IPAddress,
		UserAgent: &actor.UserAgent,
		Metadata:  metadata,
		CreatedAt: s.now(),
	})
}
