package router

import (
	"net/http"
	"time"

	"github.com/gatewarden/gatewarden/internal/handler"
	"github.com/gatewarden/gatewarden/internal/middleware"
	"github.com/gatewarden/gatewarden/internal/obs"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, gate *middleware.Gate) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", obs.Handler())

	// Public authentication routes (rate limited)
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  5,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mfaVerifyRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  5,
		Window: 5 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	refreshRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})

	mux.Handle("POST /api/v1/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/mfa/verify", mfaVerifyRateLimit(http.HandlerFunc(h.MFAVerify)))
	mux.Handle("POST /api/v1/auth/mfa/email/send", mfaVerifyRateLimit(http.HandlerFunc(h.EmailOTPSend)))
	mux.Handle("POST /api/v1/auth/mfa/webauthn/begin", mfaVerifyRateLimit(http.HandlerFunc(h.WebAuthnLoginBegin)))
	mux.Handle("POST /api/v1/auth/mfa/webauthn/complete", mfaVerifyRateLimit(http.HandlerFunc(h.WebAuthnLoginComplete)))
	mux.Handle("POST /api/v1/auth/refresh", refreshRateLimit(http.HandlerFunc(h.RefreshSession)))
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)

	// Self-service second-factor management (valid session, gate not yet
	// satisfiable before first enrollment)
	authed := gate.Authenticated
	mfaRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("GET /api/v1/mfa/methods", authed(http.HandlerFunc(h.GetMFAMethods)))
	mux.Handle("POST /api/v1/mfa/totp/setup", authed(mfaRateLimit(http.HandlerFunc(h.TOTPSetup))))
	mux.Handle("POST /api/v1/mfa/totp/verify", authed(mfaRateLimit(http.HandlerFunc(h.TOTPVerifySetup))))
	mux.Handle("POST /api/v1/mfa/webauthn/register/begin", authed(http.HandlerFunc(h.WebAuthnRegisterBegin)))
	mux.Handle("POST /api/v1/mfa/webauthn/register/complete", authed(http.HandlerFunc(h.WebAuthnRegisterComplete)))
	mux.Handle("POST /api/v1/mfa/backup-codes/generate", authed(mfaRateLimit(http.HandlerFunc(h.BackupCodesGenerate))))
	mux.Handle("DELETE /api/v1/mfa/{method}", authed(http.HandlerFunc(h.DeleteMFAMethod)))

	// Admin status probe runs the full gate and returns the principal
	mux.Handle("GET /api/v1/admin/status", gate.AdminOnly(http.HandlerFunc(h.AdminStatus)))

	// User administration
	users := gate.RequirePermission("users", "manage")
	mux.Handle("POST /api/v1/admin/users", users(http.HandlerFunc(h.AdminCreateUser)))
	mux.Handle("GET /api/v1/admin/users", users(http.HandlerFunc(h.AdminListUsers)))
	mux.Handle("GET /api/v1/admin/users/{id}", users(http.HandlerFunc(h.AdminGetUser)))
	mux.Handle("POST /api/v1/admin/users/{id}/activate", users(http.HandlerFunc(h.AdminActivateUser)))
	mux.Handle("POST /api/v1/admin/users/{id}/lock", users(http.HandlerFunc(h.AdminLockUser)))
	mux.Handle("POST /api/v1/admin/users/{id}/unlock", users(http.HandlerFunc(h.AdminUnlockUser)))
	mux.Handle("DELETE /api/v1/admin/users/{id}", users(http.HandlerFunc(h.AdminDeleteUser)))

	// Role and permission administration
	roles := gate.RequirePermission("roles", "manage")
	mux.Handle("POST /api/v1/admin/roles", roles(http.HandlerFunc(h.AdminCreateRole)))
	mux.Handle("GET /api/v1/admin/roles", roles(http.HandlerFunc(h.AdminListRoles)))
	mux.Handle("GET /api/v1/admin/roles/{id}", roles(http.HandlerFunc(h.AdminGetRole)))
	mux.Handle("PUT /api/v1/admin/roles/{id}", roles(http.HandlerFunc(h.AdminUpdateRole)))
	mux.Handle("DELETE /api/v1/admin/roles/{id}", roles(http.HandlerFunc(h.AdminDeleteRole)))
	mux.Handle("POST /api/v1/admin/permissions", roles(http.HandlerFunc(h.AdminCreatePermission)))
	mux.Handle("GET /api/v1/admin/permissions", roles(http.HandlerFunc(h.AdminListPermissions)))
	mux.Handle("DELETE /api/v1/admin/permissions/{id}", roles(http.HandlerFunc(h.AdminDeletePermission)))
	mux.Handle("POST /api/v1/admin/users/{id}/roles", roles(http.HandlerFunc(h.AdminAssignRole)))
	mux.Handle("GET /api/v1/admin/users/{id}/roles", roles(http.HandlerFunc(h.AdminListUserRoles)))
	mux.Handle("DELETE /api/v1/admin/users/{id}/roles/{roleId}", roles(http.HandlerFunc(h.AdminUnassignRole)))

	// Audit log and security alerts
	audit := gate.RequirePermission("audit", "read")
	mux.Handle("GET /api/v1/admin/audit", audit(http.HandlerFunc(h.AuditQuery)))
	mux.Handle("GET /api/v1/admin/audit/export", audit(http.HandlerFunc(h.AuditExport)))
	mux.Handle("GET /api/v1/admin/alerts", audit(http.HandlerFunc(h.AlertList)))
	mux.Handle("GET /api/v1/admin/alerts/{id}", audit(http.HandlerFunc(h.AlertGet)))
	mux.Handle("POST /api/v1/admin/alerts/{id}/resolve", gate.RequirePermission("audit", "manage")(http.HandlerFunc(h.AlertResolve)))

	// Apply middleware stack
	var root http.Handler = mux
	root = obs.Instrument(root)
	root = mw.CORS([]string{"http://localhost:3000", "http://localhost:5173"})(root)
	root = mw.SecurityHeaders(root)
	root = mw.Logger(root)
	root = mw.Timing(root)
	root = mw.RequestID(root)
	root = mw.Recover(root)

	return root
}
