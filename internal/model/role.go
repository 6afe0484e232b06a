package model

import (
	"time"
)

// Operator compares a condition field against the request context. It is a
// closed set; condition evaluation switches over it exhaustively and treats
// anything else as a failed condition.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNe    Operator = "ne"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
	OpGt    Operator = "gt"
	OpLt    Operator = "lt"
	OpGte   Operator = "gte"
	OpLte   Operator = "lte"
)

// Valid reports whether the operator is one of the known comparison kinds.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpIn, OpNotIn, OpGt, OpLt, OpGte, OpLte:
		return true
	}
	return false
}

// Condition restricts when a permission grants access. All conditions on a
// permission must hold for it to grant (AND semantics).
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Permission names an action on a resource, optionally guarded by conditions.
// Permissions are pure data and compared by (resource, action) identity.
type Permission struct {
	ID         string      `json:"id"`
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions []Condition `json:"conditions,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Matches reports whether the permission covers the given resource/action.
func (p Permission) Matches(resource, action string) bool {
	return p.Resource == resource && p.Action == action
}

// AdminRole bundles permissions and may inherit from other roles. The
// inheritance graph is kept acyclic by the registry. Version supports
// optimistic concurrency on updates.
type AdminRole struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"` // permission ids
	Inherits    []string  `json:"inherits"`    // role ids
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UserRoleAssignment grants a role to a user. An expired or inactive
// assignment contributes no permissions.
type UserRoleAssignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	AssignedBy string     `json:"assignedBy"`
	AssignedAt time.Time  `json:"assignedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	IsActive   bool       `json:"isActive"`
}

// IsEffective reports whether the assignment contributes permissions at the
// given instant.
func (a UserRoleAssignment) IsEffective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return true
}
