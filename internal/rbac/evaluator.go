package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
)

// Evaluator answers permission checks against the role graph. Every path
// defaults to deny: no assignments, no matching permission, a failed
// condition, or a store error all produce a denial.
type Evaluator struct {
	registry *Registry
	store    RoleStore
	log      *logger.Logger
	now      func() time.Time
}

// NewEvaluator creates a new Evaluator
func NewEvaluator(registry *Registry, store RoleStore, log *logger.Logger) *Evaluator {
	return &Evaluator{
		registry: registry,
		store:    store,
		log:      log.WithComponent("rbac.evaluator"),
		now:      time.Now,
	}
}

// RolesForUser resolves the user's effective role IDs: active, unexpired
// assignments only.
func (e *Evaluator) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	assignments, err := e.store.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	now := e.now()
	var roleIDs []string
	for _, a := range assignments {
		if a.IsEffective(now) {
			roleIDs = append(roleIDs, a.RoleID)
		}
	}
	return roleIDs, nil
}

// RoleNamesForUser resolves the names of the user's effective roles, used
// for admin allow-list checks against role names.
func (e *Evaluator) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	roleIDs, err := e.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, id := range roleIDs {
		role, err := e.registry.GetRole(ctx, id)
		if err != nil {
			// A dangling assignment contributes nothing.
			continue
		}
		names = append(names, role.Name)
	}
	return names, nil
}

// CheckPermission reports whether the user holds a permission matching
// resource/action whose conditions hold against the request attributes.
// The error is non-nil only for store failures, which callers must treat
// as a denial.
func (e *Evaluator) CheckPermission(ctx context.Context, userID, resource, action string, attrs map[string]interface{}) (bool, error) {
	roleIDs, err := e.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.CheckRoles(ctx, roleIDs, resource, action, attrs)
}

// CheckRoles evaluates a permission check against an explicit set of role
// IDs. Each role expands through inheritance; the first matching permission
// whose conditions hold grants access.
func (e *Evaluator) CheckRoles(ctx context.Context, roleIDs []string, resource, action string, attrs map[string]interface{}) (bool, error) {
	for _, roleID := range roleIDs {
		perms, err := e.registry.ExpandRole(ctx, roleID)
		if errors.Is(err, auth.ErrInvalidRoleGraph) {
			// A dangling assignment contributes nothing.
			continue
		}
		if err != nil {
			return false, err
		}
		for _, perm := range perms {
			if !perm.Matches(resource, action) {
				continue
			}
			if EvaluateConditions(perm.Conditions, attrs) {
				return true, nil
			}
		}
	}
	return false, nil
}

// CheckAll reports whether the user holds every one of the given
// resource/action pairs.
func (e *Evaluator) CheckAll(ctx context.Context, userID string, required []model.Permission, attrs map[string]interface{}) (bool, error) {
	roleIDs, err := e.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, req := range required {
		allowed, err := e.CheckRoles(ctx, roleIDs, req.Resource, req.Action, attrs)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}
