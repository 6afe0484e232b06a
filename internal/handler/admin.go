package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/repository"
	"github.com/gatewarden/gatewarden/internal/service"
)

// actorFrom builds the acting-admin attribution for audit entries.
func actorFrom(r *http.Request, p *auth.Principal) service.Actor {
	return service.Actor{
		UserID:    p.UserID,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// --- Users ---

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminCreateUser creates a new admin account in pending status
func (h *Handler) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	user, err := h.accountSvc.CreateUser(r.Context(), req.Username, req.Email, req.Password, actorFrom(r, p))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidationFailed):
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		case errors.Is(err, service.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email_exists", "An account with this email already exists")
		default:
			h.log.Error().Err(err).Msg("user creation failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// AdminListUsers lists admin accounts
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	users, err := h.accountSvc.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("user listing failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// AdminGetUser retrieves one admin account
func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accountSvc.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "No such user")
			return
		}
		h.log.Error().Err(err).Msg("user fetch failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// AdminActivateUser moves a pending account to active
func (h *Handler) AdminActivateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	if err := h.accountSvc.ActivateUser(r.Context(), r.PathValue("id"), actorFrom(r, p)); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "No such user")
			return
		}
		h.log.Error().Err(err).Msg("user activation failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to activate user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type lockUserRequest struct {
	Reason string `json:"reason"`
}

// AdminLockUser locks an account and revokes its sessions. The lock is
// effective for the next request anywhere; session validation re-checks
// account standing on every call.
func (h *Handler) AdminLockUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req lockUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	if err := h.accountSvc.LockUser(r.Context(), r.PathValue("id"), req.Reason, actorFrom(r, p)); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user_not_found", "No such user")
		case errors.Is(err, service.ErrSelfLock):
			writeError(w, http.StatusConflict, "self_lock", "You cannot lock your own account")
		default:
			h.log.Error().Err(err).Msg("user lock failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to lock user")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

// AdminUnlockUser clears an account lock
func (h *Handler) AdminUnlockUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	if err := h.accountSvc.UnlockUser(r.Context(), r.PathValue("id"), actorFrom(r, p)); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "No such user")
			return
		}
		h.log.Error().Err(err).Msg("user unlock failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unlock user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// AdminDeleteUser soft-deletes an account and revokes its sessions
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	if err := h.accountSvc.DeleteUser(r.Context(), r.PathValue("id"), actorFrom(r, p)); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user_not_found", "No such user")
		case errors.Is(err, service.ErrSelfLock):
			writeError(w, http.StatusConflict, "self_lock", "You cannot delete your own account")
		default:
			h.log.Error().Err(err).Msg("user deletion failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete user")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Roles ---

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Inherits    []string `json:"inherits"`
	Version     int64    `json:"version,omitempty"`
}

// AdminCreateRole creates a role definition
func (h *Handler) AdminCreateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if err := readJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "A role name is required")
		return
	}

	role, err := h.accountSvc.CreateRole(r.Context(), req.Name, req.Description, req.Permissions, req.Inherits, actorFrom(r, p))
	if err != nil {
		h.writeRoleError(w, err, "role creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, role)
}

// AdminListRoles lists role definitions
func (h *Handler) AdminListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.ListRoles(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("role listing failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// AdminGetRole retrieves one role with its transitive permission set
func (h *Handler) AdminGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.registry.GetRole(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role_not_found", "No such role")
			return
		}
		h.log.Error().Err(err).Msg("role fetch failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get role")
		return
	}

	effective, err := h.registry.ExpandRole(r.Context(), role.ID)
	if err != nil {
		h.log.Error().Err(err).Str("role_id", role.ID).Msg("role expansion failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to expand role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":                 role,
		"effectivePermissions": effective,
	})
}

// AdminUpdateRole applies a versioned role update. The request must carry
// the version the caller read; a mismatch means somebody got there first.
func (h *Handler) AdminUpdateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if err := readJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "A role name is required")
		return
	}
	if req.Version < 1 {
		writeError(w, http.StatusBadRequest, "validation_error", "The current role version is required")
		return
	}

	role := &model.AdminRole{
		ID:          r.PathValue("id"),
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Inherits:    req.Inherits,
		Version:     req.Version,
	}
	if err := h.accountSvc.UpdateRole(r.Context(), role, actorFrom(r, p)); err != nil {
		h.writeRoleError(w, err, "role update failed")
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// AdminDeleteRole removes a role nothing references
func (h *Handler) AdminDeleteRole(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	if err := h.accountSvc.DeleteRole(r.Context(), r.PathValue("id"), actorFrom(r, p)); err != nil {
		h.writeRoleError(w, err, "role deletion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) writeRoleError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrRoleNotFound):
		writeError(w, http.StatusNotFound, "role_not_found", "No such role")
	case errors.Is(err, service.ErrRoleConflict):
		writeError(w, http.StatusConflict, "role_conflict", "The role was modified concurrently. Re-read and retry.")
	case errors.Is(err, service.ErrRoleInUse):
		writeError(w, http.StatusConflict, "role_in_use", "The role is still assigned or inherited by another role.")
	case errors.Is(err, auth.ErrInvalidRoleGraph):
		writeError(w, http.StatusBadRequest, "invalid_role_graph", err.Error())
	case errors.Is(err, repository.ErrDuplicate):
		writeError(w, http.StatusConflict, "role_exists", "A role with this name already exists")
	default:
		h.log.Error().Err(err).Msg(logMsg)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Role operation failed")
	}
}

// --- Permissions ---

type permissionRequest struct {
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions []model.Condition `json:"conditions,omitempty"`
}

// AdminCreatePermission registers a permission in the catalogue
func (h *Handler) AdminCreatePermission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req permissionRequest
	if err := readJSON(r, &req); err != nil || req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "resource and action are required")
		return
	}

	perm, err := h.accountSvc.CreatePermission(r.Context(), req.Resource, req.Action, req.Conditions, actorFrom(r, p))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRoleGraph):
			writeError(w, http.StatusBadRequest, "invalid_permission", err.Error())
		case errors.Is(err, repository.ErrDuplicate):
			writeError(w, http.StatusConflict, "permission_exists", "A permission for this resource and action already exists")
		default:
			h.log.Error().Err(err).Msg("permission creation failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create permission")
		}
		return
	}

	writeJSON(w, http.StatusCreated, perm)
}

// AdminListPermissions lists the permission catalogue
func (h *Handler) AdminListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.registry.ListPermissions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("permission listing failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
}

// AdminDeletePermission removes a permission no role references
func (h *Handler) AdminDeletePermission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	if err := h.accountSvc.DeletePermission(r.Context(), r.PathValue("id"), actorFrom(r, p)); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "permission_not_found", "No such permission")
		case errors.Is(err, auth.ErrInvalidRoleGraph):
			writeError(w, http.StatusConflict, "permission_in_use", "The permission is still referenced by a role")
		default:
			h.log.Error().Err(err).Msg("permission deletion failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete permission")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Role assignments ---

type assignRoleRequest struct {
	RoleID    string     `json:"roleId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// AdminAssignRole grants a role to a user
func (h *Handler) AdminAssignRole(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req assignRoleRequest
	if err := readJSON(r, &req); err != nil || req.RoleID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "roleId is required")
		return
	}

	assignment, err := h.accountSvc.AssignRole(r.Context(), r.PathValue("id"), req.RoleID, req.ExpiresAt, actorFrom(r, p))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user_not_found", "No such user")
		case errors.Is(err, service.ErrRoleNotFound):
			writeError(w, http.StatusNotFound, "role_not_found", "No such role")
		case errors.Is(err, service.ErrAlreadyAssigned):
			writeError(w, http.StatusConflict, "already_assigned", "The user already holds this role")
		default:
			h.log.Error().Err(err).Msg("role assignment failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to assign role")
		}
		return
	}

	writeJSON(w, http.StatusCreated, assignment)
}

// AdminUnassignRole deactivates a user's role assignment
func (h *Handler) AdminUnassignRole(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	if err := h.accountSvc.UnassignRole(r.Context(), r.PathValue("id"), r.PathValue("roleId"), actorFrom(r, p)); err != nil {
		if errors.Is(err, service.ErrRoleNotFound) {
			writeError(w, http.StatusNotFound, "assignment_not_found", "No such assignment")
			return
		}
		h.log.Error().Err(err).Msg("role unassignment failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unassign role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
}

// AdminListUserRoles lists a user's assignments
func (h *Handler) AdminListUserRoles(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.accountSvc.ListUserRoles(r.Context(), r.PathValue("id"))
	if err != nil {
		h.log.Error().Err(err).Msg("assignment listing failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list assignments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assignments": assignments})
}
