package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/rbac"
	"github.com/gatewarden/gatewarden/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Handler holds all HTTP handlers
type Handler struct {
	db         *database.Postgres
	rdb        *database.Redis
	log        *logger.Logger
	cfg        *config.Config
	authSvc    *service.AuthService
	mfaSvc     *service.MFAService
	accountSvc *service.AccountService
	auditSvc   *service.AuditService
	registry   *rbac.Registry
	evaluator  *rbac.Evaluator
}

// New creates a new Handler instance
func New(db *database.Postgres, rdb *database.Redis, log *logger.Logger, cfg *config.Config, authSvc *service.AuthService, mfaSvc *service.MFAService, accountSvc *service.AccountService, auditSvc *service.AuditService, registry *rbac.Registry, evaluator *rbac.Evaluator) *Handler {
	return &Handler{
		db:         db,
		rdb:        rdb,
		log:        log,
		cfg:        cfg,
		authSvc:    authSvc,
		mfaSvc:     mfaSvc,
		accountSvc: accountSvc,
		auditSvc:   auditSvc,
		registry:   registry,
		evaluator:  evaluator,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// bearerOrEmpty pulls the raw bearer token for handlers that act on the
// caller's own session (logout, refresh). Gate-protected routes get the
// principal from context instead.
func bearerOrEmpty(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && (header[:len(prefix)] == prefix || header[:len(prefix)] == "bearer ") {
		return header[len(prefix):]
	}
	return ""
}
