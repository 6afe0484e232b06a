package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/obs"
	"github.com/gatewarden/gatewarden/internal/service"
)

// principalOrDeny pulls the verified principal attached by the gate. Routes
// using it must be registered behind Authenticated or AdminOnly.
func (h *Handler) principalOrDeny(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, false
	}
	return p, true
}

// --- Enrollment status ---

// GetMFAMethods returns the caller's enrolled second factors
func (h *Handler) GetMFAMethods(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	methods, err := h.mfaSvc.ListMethods(r.Context(), p.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list MFA methods")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get MFA methods")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"methods": methods})
}

// --- TOTP ---

// TOTPSetup initiates TOTP enrollment for the caller
func (h *Handler) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	resp, err := h.mfaSvc.SetupTOTP(r.Context(), p.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMFAAlreadyEnrolled):
			writeError(w, http.StatusConflict, "mfa_already_enrolled", "TOTP is already set up for this account")
		default:
			h.log.Error().Err(err).Msg("TOTP setup failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to set up TOTP")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type totpVerifyRequest struct {
	Code string `json:"code"`
}

// TOTPVerifySetup confirms a pending TOTP enrollment with a first code
func (h *Handler) TOTPVerifySetup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req totpVerifyRequest
	if err := readJSON(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "A verification code is required")
		return
	}

	if err := h.mfaSvc.VerifyTOTPSetup(r.Context(), p.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrMFAInvalidCode):
			writeError(w, http.StatusBadRequest, "invalid_mfa_code", "The verification code is incorrect.")
		case errors.Is(err, service.ErrMFANotEnrolled):
			writeError(w, http.StatusNotFound, "mfa_not_enrolled", "No pending TOTP enrollment was found.")
		default:
			h.log.Error().Err(err).Msg("TOTP setup verification failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// --- WebAuthn enrollment (authenticated) ---

// WebAuthnRegisterBegin starts a WebAuthn registration ceremony
func (h *Handler) WebAuthnRegisterBegin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	resp, err := h.mfaSvc.BeginWebAuthnRegistration(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, service.ErrWebAuthnUnsupported) {
			writeError(w, http.StatusNotImplemented, "webauthn_unsupported", "WebAuthn is not configured on this deployment.")
			return
		}
		h.log.Error().Err(err).Msg("WebAuthn registration begin failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to begin registration")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type webauthnRegisterCompleteRequest struct {
	SessionKey string          `json:"sessionKey"`
	Credential json.RawMessage `json:"credential"`
}

// WebAuthnRegisterComplete finishes a WebAuthn registration ceremony
func (h *Handler) WebAuthnRegisterComplete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req webauthnRegisterCompleteRequest
	if err := readJSON(r, &req); err != nil || req.SessionKey == "" || len(req.Credential) == 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "sessionKey and credential are required")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "The credential could not be parsed")
		return
	}

	if err := h.mfaSvc.CompleteWebAuthnRegistration(r.Context(), p.UserID, req.SessionKey, *parsed); err != nil {
		switch {
		case errors.Is(err, service.ErrMFASessionExpired):
			writeError(w, http.StatusBadRequest, "mfa_session_expired", "The registration ceremony expired. Start again.")
		default:
			h.log.Error().Err(err).Msg("WebAuthn registration failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Registration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// --- WebAuthn as second factor during login (public, pre-session bound) ---

type webauthnLoginBeginRequest struct {
	PreSessionToken string `json:"preSessionToken"`
}

// WebAuthnLoginBegin starts the assertion ceremony for an MFAPending caller
func (h *Handler) WebAuthnLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req webauthnLoginBeginRequest
	if err := readJSON(r, &req); err != nil || req.PreSessionToken == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "preSessionToken is required")
		return
	}

	resp, err := h.authSvc.BeginWebAuthnMFA(r.Context(), req.PreSessionToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "The sign-in challenge is invalid or has expired. Sign in again.")
		case errors.Is(err, service.ErrWebAuthnUnsupported):
			writeError(w, http.StatusNotImplemented, "webauthn_unsupported", "WebAuthn is not configured on this deployment.")
		case errors.Is(err, service.ErrMFANotEnrolled):
			writeError(w, http.StatusBadRequest, "mfa_not_enrolled", "No WebAuthn credential is enrolled.")
		default:
			h.log.Error().Err(err).Msg("WebAuthn login begin failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to begin authentication")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type webauthnLoginCompleteRequest struct {
	PreSessionToken string          `json:"preSessionToken"`
	SessionKey      string          `json:"sessionKey"`
	Credential      json.RawMessage `json:"credential"`
}

// WebAuthnLoginComplete finishes the assertion ceremony and issues a session
func (h *Handler) WebAuthnLoginComplete(w http.ResponseWriter, r *http.Request) {
	var req webauthnLoginCompleteRequest
	if err := readJSON(r, &req); err != nil || req.PreSessionToken == "" || req.SessionKey == "" || len(req.Credential) == 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "preSessionToken, sessionKey and credential are required")
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "The credential could not be parsed")
		return
	}

	result, err := h.authSvc.CompleteWebAuthnMFA(r.Context(), req.PreSessionToken, req.SessionKey, *parsed, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			obs.LoginAttempt("invalid_pre_session")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "The sign-in challenge is invalid or has expired. Sign in again.")
		case errors.Is(err, auth.ErrInvalidMFACode):
			obs.LoginAttempt("invalid_mfa_code")
			writeError(w, http.StatusUnauthorized, "invalid_mfa_code", "The credential could not be verified.")
		case errors.Is(err, auth.ErrAccountLocked):
			obs.LoginAttempt("account_locked")
			writeError(w, http.StatusForbidden, "account_locked", "Your account has been locked.")
		default:
			obs.LoginAttempt("error")
			h.log.Error().Err(err).Msg("WebAuthn login failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Authentication failed")
		}
		return
	}

	obs.LoginAttempt("success")
	writeJSON(w, http.StatusOK, result)
}

// --- Email OTP during login (public, pre-session bound) ---

type emailOTPSendRequest struct {
	PreSessionToken string `json:"preSessionToken"`
}

// EmailOTPSend delivers a one-time email code to an MFAPending caller
func (h *Handler) EmailOTPSend(w http.ResponseWriter, r *http.Request) {
	var req emailOTPSendRequest
	if err := readJSON(r, &req); err != nil || req.PreSessionToken == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "preSessionToken is required")
		return
	}

	if err := h.authSvc.RequestEmailOTP(r.Context(), req.PreSessionToken); err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "The sign-in challenge is invalid or has expired. Sign in again.")
		case errors.Is(err, service.ErrMFACooldown):
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "A code was sent recently. Wait before requesting another.")
		case errors.Is(err, service.ErrEmailOTPDisabled):
			writeError(w, http.StatusNotImplemented, "email_otp_disabled", "Email codes are not enabled on this deployment.")
		default:
			h.log.Error().Err(err).Msg("email OTP send failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to send code")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// --- Backup codes ---

// BackupCodesGenerate replaces the caller's backup codes
func (h *Handler) BackupCodesGenerate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	resp, err := h.mfaSvc.GenerateBackupCodes(r.Context(), p.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("backup code generation failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate backup codes")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Method removal ---

// DeleteMFAMethod removes an enrolled second factor
func (h *Handler) DeleteMFAMethod(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	method := model.MFAMethodType(r.PathValue("method"))
	if err := h.mfaSvc.DisableMethod(r.Context(), p.UserID, method); err != nil {
		switch {
		case errors.Is(err, service.ErrMFANotEnrolled):
			writeError(w, http.StatusNotFound, "mfa_not_enrolled", "That method is not enrolled.")
		default:
			h.log.Error().Err(err).Msg("MFA method removal failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove method")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
