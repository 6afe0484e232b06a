package handler

import (
	"errors"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/obs"
)

// --- Login Handler ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles the first authentication factor
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and password are required")
		return
	}

	result, err := h.authSvc.Authenticate(r.Context(), req.Email, req.Password, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			obs.LoginAttempt("invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "The email or password is incorrect.")
		case errors.Is(err, auth.ErrAccountLocked):
			obs.LoginAttempt("account_locked")
			writeError(w, http.StatusForbidden, "account_locked", "Your account has been temporarily locked due to too many failed login attempts.")
		case errors.Is(err, auth.ErrAccountInactive):
			obs.LoginAttempt("account_inactive")
			writeError(w, http.StatusForbidden, "account_inactive", "Your account is not active.")
		default:
			obs.LoginAttempt("error")
			h.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Login failed")
		}
		return
	}

	if result.Challenge != nil {
		obs.LoginAttempt("mfa_required")
		writeJSON(w, http.StatusOK, result)
		return
	}

	obs.LoginAttempt("success")
	writeJSON(w, http.StatusOK, result)
}

// --- MFA verification during login ---

type mfaVerifyRequest struct {
	PreSessionToken string `json:"preSessionToken"`
	Method          string `json:"method"`
	Code            string `json:"code"`
}

// MFAVerify exchanges a pre-session token plus a second-factor proof for a
// full session
func (h *Handler) MFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.PreSessionToken == "" || req.Method == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "preSessionToken, method and code are required")
		return
	}

	result, err := h.authSvc.VerifyMFA(r.Context(), req.PreSessionToken, model.MFAMethodType(req.Method), req.Code, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			obs.LoginAttempt("invalid_pre_session")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "The sign-in challenge is invalid or has expired. Sign in again.")
		case errors.Is(err, auth.ErrInvalidMFACode):
			obs.LoginAttempt("invalid_mfa_code")
			writeError(w, http.StatusUnauthorized, "invalid_mfa_code", "The verification code is incorrect.")
		case errors.Is(err, auth.ErrAccountLocked):
			obs.LoginAttempt("account_locked")
			writeError(w, http.StatusForbidden, "account_locked", "Your account has been locked.")
		default:
			obs.LoginAttempt("error")
			h.log.Error().Err(err).Msg("mfa verification failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Verification failed")
		}
		return
	}

	obs.LoginAttempt("success")
	writeJSON(w, http.StatusOK, result)
}

// RefreshSession reissues the caller's session before it expires
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	token := bearerOrEmpty(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	result, err := h.authSvc.RefreshSession(r.Context(), token, getClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrMFARequired) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "The session is invalid or expired")
			return
		}
		h.log.Error().Err(err).Msg("session refresh failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Logout revokes the caller's session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerOrEmpty(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	if err := h.authSvc.Logout(r.Context(), token, getClientIP(r), r.UserAgent()); err != nil {
		h.log.Error().Err(err).Msg("logout failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
