package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/service"
)

// auditFilterFrom parses the query-string filter for audit reads. Bad values
// are rejected rather than ignored; a typo must not silently widen an export.
func auditFilterFrom(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		UserID:   q.Get("userId"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
	}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("success must be true or false")
		}
		filter.Success = &b
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("from must be an RFC 3339 timestamp")
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("to must be an RFC 3339 timestamp")
		}
		filter.To = t
	}
	filter.Limit, filter.Offset = parsePagination(r)

	return filter, nil
}

// AuditQuery returns audit entries matching the filter
func (h *Handler) AuditQuery(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	entries, err := h.auditSvc.Query(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to query audit log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// AuditExport streams matching entries as CSV or JSON
func (h *Handler) AuditExport(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json"`)
	default:
		writeError(w, http.StatusBadRequest, "unknown_format", "format must be csv or json")
		return
	}

	if err := h.auditSvc.Export(r.Context(), filter, format, w); err != nil {
		// Headers are already out; the truncated body is the best signal left.
		h.log.Error().Err(err).Str("format", format).Msg("audit export failed")
	}
}

// --- Security alerts ---

// AlertList returns security alerts, open ones first
func (h *Handler) AlertList(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	limit, offset := parsePagination(r)

	alerts, err := h.auditSvc.ListAlerts(r.Context(), openOnly, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("alert listing failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// AlertGet returns one security alert
func (h *Handler) AlertGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.auditSvc.GetAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert_not_found", "No such alert")
			return
		}
		h.log.Error().Err(err).Msg("alert fetch failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get alert")
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

type resolveAlertRequest struct {
	Notes string `json:"notes"`
}

// AlertResolve closes an open alert with resolution notes
func (h *Handler) AlertResolve(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principalOrDeny(w, r)
	if !ok {
		return
	}

	var req resolveAlertRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	err := h.auditSvc.ResolveAlert(r.Context(), r.PathValue("id"), p.UserID, req.Notes, getClientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlertNotFound):
			writeError(w, http.StatusNotFound, "alert_not_found", "No such alert")
		case errors.Is(err, service.ErrAlertAlreadyResolved):
			writeError(w, http.StatusConflict, "alert_resolved", "The alert is already resolved")
		default:
			h.log.Error().Err(err).Msg("alert resolution failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve alert")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
