package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
)

type stubSessions struct {
	principal *auth.Principal
	err       error
	calls     int
}

func (s *stubSessions) ValidateSession(_ context.Context, _ string) (*auth.Principal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.principal, nil
}

type stubChecker struct {
	allowed bool
	err     error
	calls   int

	resource string
	action   string
}

func (c *stubChecker) CheckPermission(_ context.Context, _, resource, action string, _ map[string]interface{}) (bool, error) {
	c.calls++
	c.resource = resource
	c.action = action
	return c.allowed, c.err
}

type stubRecorder struct {
	entries []*model.AuditEntry
}

func (r *stubRecorder) Record(_ context.Context, entry *model.AuditEntry) {
	r.entries = append(r.entries, entry)
}

func testPrincipal(mfa bool) *auth.Principal {
	return &auth.Principal{
		UserID:      "user_1",
		Email:       "op@example.com",
		Username:    "op",
		Roles:       []string{"operator"},
		MFAVerified: mfa,
	}
}

func newTestGate(sessions *stubSessions, checker *stubChecker, recorder *stubRecorder, policy config.AdminPolicy) *Gate {
	return NewGate(sessions, checker, recorder, policy, logger.New("disabled", "json"))
}

func serveGate(t *testing.T, gate *Gate, authz string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	h := gate.RequirePermission("users", "manage")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			t.Fatal("principal missing from handler context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, reached
}

func denialCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not the error envelope: %v: %s", err, rec.Body.String())
	}
	return body.Error.Code
}

func TestGateMissingToken(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(true)}
	checker := &stubChecker{allowed: true}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	for _, authz := range []string{"", "Basic dXNlcjpwYXNz", "Bearer ", "justatoken"} {
		sessions.calls = 0
		recorder.entries = nil

		rec, reached := serveGate(t, gate, authz)
		if reached {
			t.Fatalf("handler reached with Authorization %q", authz)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if code := denialCode(t, rec); code != "UNAUTHORIZED" {
			t.Fatalf("code = %q, want UNAUTHORIZED", code)
		}
		// The session store must not be consulted for a malformed header.
		if sessions.calls != 0 {
			t.Fatal("session validated despite missing bearer token")
		}
		if len(recorder.entries) != 1 {
			t.Fatalf("audit entries = %d, want 1", len(recorder.entries))
		}
		entry := recorder.entries[0]
		if entry.Action != model.AuditActionGateDenied || entry.Reason != model.DenyReasonUnauthenticated {
			t.Fatalf("entry = %s/%s, want gate.denied/unauthenticated", entry.Action, entry.Reason)
		}
		if entry.UserID != nil {
			t.Fatal("unauthenticated denial must not attribute a user")
		}
	}
}

func TestGateInvalidSession(t *testing.T) {
	sessions := &stubSessions{err: auth.ErrUnauthenticated}
	checker := &stubChecker{allowed: true}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	rec, reached := serveGate(t, gate, "Bearer expired-token")
	if reached {
		t.Fatal("handler reached with invalid session")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	// The permission check must not run for an unauthenticated caller.
	if checker.calls != 0 {
		t.Fatal("permission checked before session validation passed")
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Reason != model.DenyReasonUnauthenticated {
		t.Fatalf("unexpected audit entries: %+v", recorder.entries)
	}
}

func TestGateForbidden(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(false)}
	checker := &stubChecker{allowed: false}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	rec, reached := serveGate(t, gate, "Bearer token")
	if reached {
		t.Fatal("handler reached without permission")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if code := denialCode(t, rec); code != "FORBIDDEN" {
		t.Fatalf("code = %q, want FORBIDDEN", code)
	}
	if checker.resource != "users" || checker.action != "manage" {
		t.Fatalf("checked %s:%s, want users:manage", checker.resource, checker.action)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Reason != model.DenyReasonForbidden {
		t.Fatalf("reason = %q, want forbidden", entry.Reason)
	}
	if entry.UserID == nil || *entry.UserID != "user_1" {
		t.Fatal("forbidden denial must attribute the authenticated user")
	}
	// The caller without permission must not learn the two-factor state:
	// forbidden wins even though MFA is also unsatisfied.
	if code := denialCode(t, rec); code == "TWO_FACTOR_REQUIRED" {
		t.Fatal("forbidden caller was told about the two-factor policy")
	}
}

func TestGateMFARequired(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(false)}
	checker := &stubChecker{allowed: true}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	rec, reached := serveGate(t, gate, "Bearer token")
	if reached {
		t.Fatal("handler reached without a verified second factor")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if code := denialCode(t, rec); code != "TWO_FACTOR_REQUIRED" {
		t.Fatalf("code = %q, want TWO_FACTOR_REQUIRED", code)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Reason != model.DenyReasonMFARequired {
		t.Fatalf("unexpected audit entries: %+v", recorder.entries)
	}
}

func TestGateMFANotRequiredByPolicy(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(false)}
	checker := &stubChecker{allowed: true}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: false})

	rec, reached := serveGate(t, gate, "Bearer token")
	if !reached {
		t.Fatalf("handler not reached: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGateAllow(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(true)}
	checker := &stubChecker{allowed: true}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	rec, reached := serveGate(t, gate, "Bearer token")
	if !reached {
		t.Fatalf("handler not reached: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// The allow is audited too, exactly once.
	if len(recorder.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Action != model.AuditActionGateAllowed || !entry.Success {
		t.Fatalf("entry = %s success=%v, want gate.allowed success=true", entry.Action, entry.Success)
	}
	if entry.Resource == nil || *entry.Resource != "users:manage" {
		t.Fatalf("resource = %v, want users:manage", entry.Resource)
	}
}

func TestGateInternalFailureDenies(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(true)}
	checker := &stubChecker{err: errors.New("store unavailable")}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	rec, reached := serveGate(t, gate, "Bearer token")
	if reached {
		t.Fatal("handler reached despite evaluator failure")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := denialCode(t, rec); code != "INTERNAL_ERROR" {
		t.Fatalf("code = %q, want INTERNAL_ERROR", code)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Reason != model.DenyReasonInternalError {
		t.Fatalf("unexpected audit entries: %+v", recorder.entries)
	}
}

func TestGateAllowListOverridesEvaluator(t *testing.T) {
	policy := config.AdminPolicy{
		AdminEmails:      []string{"OP@example.com"},
		RequireTwoFactor: true,
	}
	sessions := &stubSessions{principal: testPrincipal(true)}
	checker := &stubChecker{allowed: false}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, policy)

	rec, reached := serveGate(t, gate, "Bearer token")
	if !reached {
		t.Fatalf("allow-listed caller denied: %d %s", rec.Code, rec.Body.String())
	}
	// The allow-list grants before the evaluator is asked.
	if checker.calls != 0 {
		t.Fatal("evaluator consulted for an allow-listed caller")
	}
}

func TestGateAllowListedRoleName(t *testing.T) {
	policy := config.AdminPolicy{
		AdminRoleNames:   []string{"Operator"},
		RequireTwoFactor: true,
	}
	sessions := &stubSessions{principal: testPrincipal(true)}
	checker := &stubChecker{allowed: false}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, policy)

	_, reached := serveGate(t, gate, "Bearer token")
	if !reached {
		t.Fatal("caller holding an allow-listed role name was denied")
	}
}

func TestGateAllowListStillRequiresMFA(t *testing.T) {
	policy := config.AdminPolicy{
		AdminUserIDs:     []string{"user_1"},
		RequireTwoFactor: true,
	}
	sessions := &stubSessions{principal: testPrincipal(false)}
	checker := &stubChecker{allowed: false}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, policy)

	rec, reached := serveGate(t, gate, "Bearer token")
	if reached {
		t.Fatal("allow-listed caller admitted without a verified second factor")
	}
	if code := denialCode(t, rec); code != "TWO_FACTOR_REQUIRED" {
		t.Fatalf("code = %q, want TWO_FACTOR_REQUIRED", code)
	}
}

func TestAuthenticatedSkipsPermissionAndMFA(t *testing.T) {
	sessions := &stubSessions{principal: testPrincipal(false)}
	checker := &stubChecker{allowed: false}
	recorder := &stubRecorder{}
	gate := newTestGate(sessions, checker, recorder, config.AdminPolicy{RequireTwoFactor: true})

	reached := false
	h := gate.Authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mfa/methods", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !reached {
		t.Fatalf("handler not reached: %d %s", rec.Code, rec.Body.String())
	}
	if checker.calls != 0 {
		t.Fatal("Authenticated must not run the permission check")
	}
	// Self-service routes audit their own actions; the gate writes nothing.
	if len(recorder.entries) != 0 {
		t.Fatalf("audit entries = %d, want 0", len(recorder.entries))
	}
}

func TestAuthenticatedRejectsInvalidSession(t *testing.T) {
	sessions := &stubSessions{err: auth.ErrUnauthenticated}
	gate := newTestGate(sessions, &stubChecker{}, &stubRecorder{}, config.AdminPolicy{})

	h := gate.Authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mfa/methods", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"Bearer  abc", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		token, ok := bearerToken(req)
		if ok != tt.ok || token != tt.token {
			t.Fatalf("bearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
