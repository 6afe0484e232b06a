package handler

import "net/http"

// statusResponse mirrors the verified principal for front-ends. It carries
// no authority of its own; the gate already ran for this request.
type statusResponse struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	MFAVerified bool     `json:"mfaVerified"`
}

// AdminStatus returns the caller's verified admin standing
func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		UserID:      p.UserID,
		Email:       p.Email,
		Username:    p.Username,
		Roles:       p.Roles,
		MFAVerified: p.MFAVerified,
	})
}
