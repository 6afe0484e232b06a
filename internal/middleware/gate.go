package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/obs"
)

// SessionValidator resolves a bearer token to a verified principal.
// Implemented by service.AuthService.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Principal, error)
}

// PermissionChecker answers whether a user holds a permission.
// Implemented by rbac.Evaluator.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, resource, action string, attrs map[string]interface{}) (bool, error)
}

// DecisionRecorder appends audit entries. Implemented by service.AuditService.
type DecisionRecorder interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// Gate is the admin gate: the single place that decides whether a request may
// act administratively. Its checks run in a fixed short-circuit order, every
// branch writes exactly one audit entry, and any uncertainty resolves to deny.
type Gate struct {
	sessions SessionValidator
	rbac     PermissionChecker
	audit    DecisionRecorder
	policy   config.AdminPolicy
	log      *logger.Logger
}

// NewGate creates the admin gate with the deployment's admin policy.
func NewGate(sessions SessionValidator, rbac PermissionChecker, audit DecisionRecorder, policy config.AdminPolicy, log *logger.Logger) *Gate {
	return &Gate{
		sessions: sessions,
		rbac:     rbac,
		audit:    audit,
		policy:   policy,
		log:      log.WithComponent("gate"),
	}
}

// AdminOnly admits only callers with administrative standing: an allow-listed
// identity or a role granting the admin/access permission.
func (g *Gate) AdminOnly(next http.Handler) http.Handler {
	return g.require("admin", "access", next)
}

// RequirePermission admits only callers the evaluator grants the given
// resource/action permission.
func (g *Gate) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.require(resource, action, next)
	}
}

// require runs the gate procedure. The order is load-bearing: bearer token,
// then session, then permission, then the two-factor policy. A caller must
// not learn whether a permission exists before proving a valid session, and
// must not be told to present a second factor before proving authorization.
func (g *Gate) require(resource, action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// 1. Bearer token must be present and well-formed.
		token, ok := bearerToken(r)
		if !ok {
			g.deny(w, r, nil, resource, action, auth.ErrUnauthenticated)
			return
		}

		// 2. Session must be valid, unexpired, unrevoked, and belong to a
		// live, unlocked account.
		principal, err := g.sessions.ValidateSession(ctx, token)
		if err != nil {
			g.deny(w, r, nil, resource, action, err)
			return
		}

		// 3. Permission check, default deny.
		allowed, err := g.authorize(ctx, principal, resource, action)
		if err != nil {
			g.deny(w, r, principal, resource, action, err)
			return
		}
		if !allowed {
			g.deny(w, r, principal, resource, action, auth.ErrForbidden)
			return
		}

		// 4. Two-factor policy. Checked after authorization so the client
		// learns "present a second factor" only when everything else passed.
		if g.policy.RequireTwoFactor && !principal.MFAVerified {
			g.deny(w, r, principal, resource, action, auth.ErrMFARequired)
			return
		}

		// 5. Attach the principal and record the allow.
		g.record(ctx, principal, resource, action, true, "", r)
		obs.GateDecision("allowed")

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(ctx, principal)))
	})
}

// Authenticated validates the session and attaches the principal without the
// permission or two-factor checks. It protects self-service routes such as
// second-factor enrollment, which a caller must reach before MFA can be
// satisfied. No gate decision is recorded; these routes audit their own
// actions.
func (g *Gate) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeDenial(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		principal, err := g.sessions.ValidateSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrMFARequired) {
				writeDenial(w, http.StatusUnauthorized, "UNAUTHORIZED", "The session is invalid or expired")
				return
			}
			g.log.Error().Err(err).Str("path", r.URL.Path).Msg("session validation failure")
			writeDenial(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// authorize grants on allow-listed identity first, then asks the evaluator.
// The allow-lists are the deployment override for bootstrapping a system
// that has no roles yet; an error from the evaluator is still an error even
// for allow-listed callers only when the lists did not already grant.
func (g *Gate) authorize(ctx context.Context, p *auth.Principal, resource, action string) (bool, error) {
	if g.policy.IsAdminUserID(p.UserID) || g.policy.IsAdminEmail(p.Email) {
		return true, nil
	}
	for _, role := range p.Roles {
		if g.policy.IsAdminRoleName(role) {
			return true, nil
		}
	}
	return g.rbac.CheckPermission(ctx, p.UserID, resource, action, nil)
}

// deny maps the failure to its taxonomy entry, records the decision, and
// writes the HTTP response. Unknown errors are internal failures and deny.
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, p *auth.Principal, resource, action string, err error) {
	var reason, code, message string
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		reason = model.DenyReasonUnauthenticated
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"
	case errors.Is(err, auth.ErrForbidden):
		reason = model.DenyReasonForbidden
		status, code, message = http.StatusForbidden, "FORBIDDEN", "You do not have permission to perform this action"
	case errors.Is(err, auth.ErrMFARequired):
		reason = model.DenyReasonMFARequired
		status, code, message = http.StatusForbidden, "TWO_FACTOR_REQUIRED", "A verified second factor is required"
	case errors.Is(err, auth.ErrRateLimited):
		reason = model.DenyReasonRateLimited
		status, code, message = http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests"
	default:
		reason = model.DenyReasonInternalError
		code, message = "INTERNAL_ERROR", "An unexpected error occurred"
		g.log.Error().Err(err).Str("path", r.URL.Path).Msg("gate internal failure")
	}

	g.record(r.Context(), p, resource, action, false, reason, r)
	obs.GateDecision(reason)

	writeDenial(w, status, code, message)
}

func writeDenial(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}

// record writes the single audit entry for this decision.
func (g *Gate) record(ctx context.Context, p *auth.Principal, resource, action string, success bool, reason string, r *http.Request) {
	target := resource + ":" + action
	entry := &model.AuditEntry{
		Action:   model.AuditActionGateDenied,
		Resource: &target,
		Success:  success,
		Reason:   reason,
		Metadata: map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": GetRequestID(ctx),
		},
	}
	if success {
		entry.Action = model.AuditActionGateAllowed
	}
	if p != nil {
		entry.UserID = &p.UserID
	}
	ip := clientIP(r)
	ua := r.UserAgent()
	entry.IPAddress = &ip
	entry.UserAgent = &ua

	g.audit.Record(ctx, entry)
}

// bearerToken extracts the token from the Authorization header. Only the
// Bearer scheme is accepted; an empty token is malformed.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
