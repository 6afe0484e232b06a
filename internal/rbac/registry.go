package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
)

// RoleStore is the persistence interface the registry depends on.
// Implemented by repository.RoleRepository.
type RoleStore interface {
	CreateRole(ctx context.Context, role *model.AdminRole) error
	GetRole(ctx context.Context, id string) (*model.AdminRole, error)
	GetRoleByName(ctx context.Context, name string) (*model.AdminRole, error)
	ListRoles(ctx context.Context) ([]*model.AdminRole, error)
	UpdateRole(ctx context.Context, role *model.AdminRole) error
	DeleteRole(ctx context.Context, id string) error
	CreatePermission(ctx context.Context, perm *model.Permission) error
	GetPermission(ctx context.Context, id string) (*model.Permission, error)
	ListPermissions(ctx context.Context) ([]*model.Permission, error)
	ListPermissionsByIDs(ctx context.Context, ids []string) ([]*model.Permission, error)
	DeletePermission(ctx context.Context, id string) error
	ListAssignmentsForUser(ctx context.Context, userID string) ([]*model.UserRoleAssignment, error)
}

// Registry owns the role graph: role and permission definitions, inheritance
// validation, and memoized expansion of a role into its effective permission
// set. Mutations persist first and only then invalidate the cache, so a
// reader never sees an expansion computed from unpersisted state. An
// expansion in flight across an invalidation is returned but never cached.
type Registry struct {
	store RoleStore
	log   *logger.Logger

	mu    sync.RWMutex
	gen   uint64                          // bumped on every invalidation
	cache map[string][]*model.Permission // role ID -> expanded permissions
}

// NewRegistry creates a new Registry
func NewRegistry(store RoleStore, log *logger.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log.WithComponent("rbac.registry"),
		cache: make(map[string][]*model.Permission),
	}
}

// CreateRole validates the role's inheritance edges and persists it.
func (r *Registry) CreateRole(ctx context.Context, role *model.AdminRole) error {
	if err := r.validateGraph(ctx, role); err != nil {
		return err
	}
	if err := r.store.CreateRole(ctx, role); err != nil {
		return err
	}
	r.invalidate()
	r.log.Info().Str("role_id", role.ID).Str("name", role.Name).Msg("role created")
	return nil
}

// UpdateRole validates the proposed graph and applies a compare-and-swap
// update on the role's version. The cache is invalidated only after the
// write succeeds.
func (r *Registry) UpdateRole(ctx context.Context, role *model.AdminRole) error {
	if err := r.validateGraph(ctx, role); err != nil {
		return err
	}
	if err := r.store.UpdateRole(ctx, role); err != nil {
		return err
	}
	r.invalidate()
	r.log.Info().Str("role_id", role.ID).Int64("version", role.Version).Msg("role updated")
	return nil
}

// DeleteRole removes a role. The store refuses while assignments or
// inheritors reference it.
func (r *Registry) DeleteRole(ctx context.Context, id string) error {
	if err := r.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	r.log.Info().Str("role_id", id).Msg("role deleted")
	return nil
}

// GetRole retrieves a role by ID
func (r *Registry) GetRole(ctx context.Context, id string) (*model.AdminRole, error) {
	return r.store.GetRole(ctx, id)
}

// GetRoleByName retrieves a role by name
func (r *Registry) GetRoleByName(ctx context.Context, name string) (*model.AdminRole, error) {
	return r.store.GetRoleByName(ctx, name)
}

// ListRoles retrieves all roles
func (r *Registry) ListRoles(ctx context.Context) ([]*model.AdminRole, error) {
	return r.store.ListRoles(ctx)
}

// CreatePermission persists a new permission definition
func (r *Registry) CreatePermission(ctx context.Context, perm *model.Permission) error {
	if perm.Resource == "" || perm.Action == "" {
		return fmt.Errorf("%w: resource and action are required", auth.ErrInvalidRoleGraph)
	}
	for _, c := range perm.Conditions {
		if !c.Operator.Valid() {
			return fmt.Errorf("%w: unknown operator %q", auth.ErrInvalidRoleGraph, c.Operator)
		}
	}
	return r.store.CreatePermission(ctx, perm)
}

// GetPermission retrieves a permission by ID
func (r *Registry) GetPermission(ctx context.Context, id string) (*model.Permission, error) {
	return r.store.GetPermission(ctx, id)
}

// ListPermissions retrieves all permission definitions
func (r *Registry) ListPermissions(ctx context.Context) ([]*model.Permission, error) {
	return r.store.ListPermissions(ctx)
}

// DeletePermission removes a permission definition. Deletion is refused
// while any role still lists the permission; removing it would silently
// orphan the reference and narrow grants without an audit trail.
func (r *Registry) DeletePermission(ctx context.Context, id string) error {
	roles, err := r.store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}
	for _, role := range roles {
		for _, permID := range role.Permissions {
			if permID == id {
				return fmt.Errorf("%w: permission %s is referenced by role %s", auth.ErrInvalidRoleGraph, id, role.ID)
			}
		}
	}

	if err := r.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

// ExpandRole resolves a role into its effective permission set, following
// inheritance transitively and deduplicating by permission ID. Results are
// memoized until the next mutation.
func (r *Registry) ExpandRole(ctx context.Context, roleID string) ([]*model.Permission, error) {
	r.mu.RLock()
	cached, ok := r.cache[roleID]
	gen := r.gen
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	roles, err := r.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	byID := make(map[string]*model.AdminRole, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}
	if _, ok := byID[roleID]; !ok {
		return nil, fmt.Errorf("%w: role %s not found", auth.ErrInvalidRoleGraph, roleID)
	}

	// Collect permission IDs reachable through inheritance. The visited set
	// guards against cycles that slipped past validation; they must not hang
	// evaluation.
	visited := make(map[string]bool)
	var permIDs []string
	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		role, ok := byID[id]
		if !ok {
			return
		}
		permIDs = append(permIDs, role.Permissions...)
		for _, parent := range role.Inherits {
			walk(parent)
		}
	}
	walk(roleID)

	seen := make(map[string]bool, len(permIDs))
	unique := permIDs[:0]
	for _, id := range permIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	perms, err := r.store.ListPermissionsByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}

	// A mutation may have invalidated the cache while the store reads above
	// were in flight; caching this expansion would reinstate the pre-mutation
	// set. The generation check drops the write-back in that case. The result
	// is still returned: it was correct when the reads happened.
	r.mu.Lock()
	if r.gen == gen {
		r.cache[roleID] = perms
	}
	r.mu.Unlock()
	return perms, nil
}

// validateGraph checks the role's inheritance edges: every referenced role
// must exist and the proposed edges must not close a cycle.
func (r *Registry) validateGraph(ctx context.Context, role *model.AdminRole) error {
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", auth.ErrInvalidRoleGraph)
	}
	if len(role.Inherits) == 0 {
		return nil
	}

	roles, err := r.store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrInternal, err)
	}
	edges := make(map[string][]string, len(roles)+1)
	known := make(map[string]bool, len(roles)+1)
	for _, existing := range roles {
		edges[existing.ID] = existing.Inherits
		known[existing.ID] = true
	}
	// Overlay the proposed role so the check sees the graph as it would be
	// after the write.
	edges[role.ID] = role.Inherits
	known[role.ID] = true

	for _, parent := range role.Inherits {
		if parent == role.ID {
			return fmt.Errorf("%w: role %s cannot inherit itself", auth.ErrInvalidRoleGraph, role.ID)
		}
		if !known[parent] {
			return fmt.Errorf("%w: inherited role %s not found", auth.ErrInvalidRoleGraph, parent)
		}
	}

	if cycleFrom(role.ID, edges) {
		return fmt.Errorf("%w: inheritance cycle through role %s", auth.ErrInvalidRoleGraph, role.ID)
	}
	return nil
}

// cycleFrom reports whether a path from start leads back to start.
func cycleFrom(start string, edges map[string][]string) bool {
	visited := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == start && len(visited) > 0 {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, parent := range edges[id] {
			if visit(parent) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.gen++
	r.cache = make(map[string][]*model.Permission)
	r.mu.Unlock()
}
