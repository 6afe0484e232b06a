package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
)

func newTestEvaluator(store *fakeRoleStore) *Evaluator {
	log := testLogger()
	return NewEvaluator(NewRegistry(store, log), store, log)
}

func TestCheckPermissionDefaultDeny(t *testing.T) {
	store := newFakeRoleStore()
	eval := newTestEvaluator(store)
	ctx := context.Background()

	allowed, err := eval.CheckPermission(ctx, "user_1", "users", "read", nil)
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if allowed {
		t.Fatal("user with no assignments must be denied")
	}
}

func TestCheckPermissionTransitiveGrant(t *testing.T) {
	store := newFakeRoleStore()
	store.addPermission("perm_read", "users", "read")
	store.addRole("role_viewer", "viewer", []string{"perm_read"}, nil)
	store.addRole("role_admin", "admin", nil, []string{"role_viewer"})
	store.assign("user_1", "role_admin", nil, true)
	eval := newTestEvaluator(store)
	ctx := context.Background()

	allowed, err := eval.CheckPermission(ctx, "user_1", "users", "read", nil)
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if !allowed {
		t.Fatal("permission inherited through the role graph must grant")
	}

	allowed, err = eval.CheckPermission(ctx, "user_1", "users", "delete", nil)
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if allowed {
		t.Fatal("unmatched action must be denied")
	}
}

func TestCheckPermissionConditions(t *testing.T) {
	store := newFakeRoleStore()
	store.addPermission("perm_read", "reports", "read",
		model.Condition{Field: "region", Operator: model.OpEq, Value: "eu"})
	store.addRole("role_eu", "eu-analyst", []string{"perm_read"}, nil)
	store.assign("user_1", "role_eu", nil, true)
	eval := newTestEvaluator(store)
	ctx := context.Background()

	allowed, err := eval.CheckPermission(ctx, "user_1", "reports", "read",
		map[string]interface{}{"region": "eu"})
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if !allowed {
		t.Fatal("matching condition must grant")
	}

	allowed, err = eval.CheckPermission(ctx, "user_1", "reports", "read",
		map[string]interface{}{"region": "us"})
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if allowed {
		t.Fatal("failed condition must deny")
	}

	// No attributes at all: the condition cannot hold.
	allowed, err = eval.CheckPermission(ctx, "user_1", "reports", "read", nil)
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if allowed {
		t.Fatal("conditioned permission without attributes must deny")
	}
}

func TestCheckPermissionIgnoresIneffectiveAssignments(t *testing.T) {
	store := newFakeRoleStore()
	store.addPermission("perm_read", "users", "read")
	store.addRole("role_viewer", "viewer", []string{"perm_read"}, nil)

	expired := time.Now().Add(-time.Hour)
	store.assign("user_expired", "role_viewer", &expired, true)
	store.assign("user_inactive", "role_viewer", nil, false)
	eval := newTestEvaluator(store)
	ctx := context.Background()

	for _, userID := range []string{"user_expired", "user_inactive"} {
		allowed, err := eval.CheckPermission(ctx, userID, "users", "read", nil)
		if err != nil {
			t.Fatalf("CheckPermission(%s): %v", userID, err)
		}
		if allowed {
			t.Fatalf("%s must be denied", userID)
		}
	}
}

func TestCheckPermissionSkipsDanglingAssignment(t *testing.T) {
	store := newFakeRoleStore()
	store.addPermission("perm_read", "users", "read")
	store.addRole("role_viewer", "viewer", []string{"perm_read"}, nil)
	store.assign("user_1", "role_deleted", nil, true)
	store.assign("user_1", "role_viewer", nil, true)
	eval := newTestEvaluator(store)

	// The assignment to a deleted role contributes nothing but must not
	// fail the check for the roles that remain.
	allowed, err := eval.CheckPermission(context.Background(), "user_1", "users", "read", nil)
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if !allowed {
		t.Fatal("surviving assignment must still grant")
	}
}

func TestCheckAll(t *testing.T) {
	store := newFakeRoleStore()
	store.addPermission("perm_read", "users", "read")
	store.addPermission("perm_write", "users", "write")
	store.addRole("role_editor", "editor", []string{"perm_read", "perm_write"}, nil)
	store.assign("user_1", "role_editor", nil, true)
	eval := newTestEvaluator(store)
	ctx := context.Background()

	required := []model.Permission{
		{Resource: "users", Action: "read"},
		{Resource: "users", Action: "write"},
	}
	allowed, err := eval.CheckAll(ctx, "user_1", required, nil)
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if !allowed {
		t.Fatal("user holding all required permissions must pass")
	}

	required = append(required, model.Permission{Resource: "audit", Action: "read"})
	allowed, err = eval.CheckAll(ctx, "user_1", required, nil)
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if allowed {
		t.Fatal("one missing permission must fail the set")
	}
}

func TestRoleNamesForUser(t *testing.T) {
	store := newFakeRoleStore()
	store.addRole("role_viewer", "viewer", nil, nil)
	store.assign("user_1", "role_viewer", nil, true)
	store.assign("user_1", "role_deleted", nil, true)
	eval := newTestEvaluator(store)

	names, err := eval.RoleNamesForUser(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("RoleNamesForUser: %v", err)
	}
	if len(names) != 1 || names[0] != "viewer" {
		t.Fatalf("expected [viewer], got %v", names)
	}
}
