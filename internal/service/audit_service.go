package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/email"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/obs"
	"github.com/gatewarden/gatewarden/internal/repository"
)

// Audit service errors
var (
	ErrAlertNotFound        = errors.New("alert not found")
	ErrAlertAlreadyResolved = errors.New("alert already resolved")
	ErrUnknownExportFormat  = errors.New("unknown export format")
)

// AuditStore is the entry persistence surface. Implemented by
// repository.AuditRepository.
type AuditStore interface {
	Create(ctx context.Context, entry *model.AuditEntry) error
	Query(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
	CountByUserAction(ctx context.Context, userID, action string, since time.Time) (int, error)
	ListIDsByUserAction(ctx context.Context, userID, action string, since time.Time) ([]string, error)
}

// AlertStore is the alert persistence surface. Implemented by
// repository.AlertRepository.
type AlertStore interface {
	Create(ctx context.Context, alert *model.SecurityAlert) error
	GetByID(ctx context.Context, id string) (*model.SecurityAlert, error)
	List(ctx context.Context, openOnly bool, limit, offset int) ([]*model.SecurityAlert, error)
	FindOpen(ctx context.Context, alertType model.AlertType, userID string) (*model.SecurityAlert, error)
	Resolve(ctx context.Context, id, resolvedBy, notes string, at time.Time) error
}

// AuditService owns the decision log and the threshold rules over it. Every
// recorded entry is evaluated against the rules; a rule crossing its
// threshold raises one security alert per burst and notifies by email when
// configured.
type AuditService struct {
	store  AuditStore
	alerts AlertStore
	sender email.Sender
	cfg    *config.Config
	log    *logger.Logger
	now    func() time.Time
}

// NewAuditService creates a new AuditService
func NewAuditService(store AuditStore, alerts AlertStore, sender email.Sender, cfg *config.Config, log *logger.Logger) *AuditService {
	return &AuditService{
		store:  store,
		alerts: alerts,
		sender: sender,
		cfg:    cfg,
		log:    log.WithComponent("audit_service"),
		now:    time.Now,
	}
}

// Record appends an entry to the decision log and evaluates the threshold
// rules. Recording never fails the caller's request; a failed write is
// logged and the decision stands.
func (s *AuditService) Record(ctx context.Context, entry *model.AuditEntry) {
	if entry.ID == "" {
		entry.ID = newAuditID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	if err := s.store.Create(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("action", entry.Action).Msg("failed to record audit entry")
		return
	}

	s.evaluateRules(ctx, entry)
}

// Query retrieves entries matching the filter
func (s *AuditService) Query(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	return s.store.Query(ctx, filter)
}

// Export writes entries matching the filter to w in the given format.
// Supported formats are "json" and "csv".
func (s *AuditService) Export(ctx context.Context, filter model.AuditFilter, format string, w io.Writer) error {
	entries, err := s.store.Query(ctx, filter)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "csv":
		return writeCSV(w, entries)
	}
	return ErrUnknownExportFormat
}

// ListAlerts retrieves security alerts
func (s *AuditService) ListAlerts(ctx context.Context, openOnly bool, limit, offset int) ([]*model.SecurityAlert, error) {
	return s.alerts.List(ctx, openOnly, limit, offset)
}

// GetAlert retrieves a single alert
func (s *AuditService) GetAlert(ctx context.Context, id string) (*model.SecurityAlert, error) {
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// ResolveAlert closes an alert with the resolver's identity and notes, and
// records the resolution in the decision log.
func (s *AuditService) ResolveAlert(ctx context.Context, id, resolvedBy, notes, ipAddress, userAgent string) error {
	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert.IsResolved() {
		return ErrAlertAlreadyResolved
	}

	if err := s.alerts.Resolve(ctx, id, resolvedBy, notes, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAlertAlreadyResolved
		}
		return err
	}

	s.Record(ctx, &model.AuditEntry{
		UserID:    &resolvedBy,
		Action:    model.AuditActionAlertResolved,
		Resource:  &id,
		Success:   true,
		IPAddress: &ipAddress,
		UserAgent: &userAgent,
		Metadata:  map[string]interface{}{"alert_type": alert.Type},
		CreatedAt: s.now(),
	})

	s.log.Info().Str("alert_id", id).Str("resolved_by", resolvedBy).Msg("alert resolved")
	return nil
}

// evaluateRules checks the entry against the threshold rules. Only failure
// entries can trip a rule.
func (s *AuditService) evaluateRules(ctx context.Context, entry *model.AuditEntry) {
	if entry.Success || entry.UserID == nil {
		return
	}

	switch entry.Action {
	case model.AuditActionLoginFailed:
		s.checkThreshold(ctx, *entry.UserID, model.AuditActionLoginFailed,
			s.cfg.Alerts.FailedLoginThreshold, s.cfg.Alerts.FailedLoginWindow,
			model.AlertTypeLoginFailure, model.AlertSeverityHigh,
			"repeated failed login attempts")
	case model.AuditActionGateDenied:
		if entry.Reason != model.DenyReasonForbidden {
			return
		}
		s.checkThreshold(ctx, *entry.UserID, model.AuditActionGateDenied,
			s.cfg.Alerts.ForbiddenThreshold, s.cfg.Alerts.ForbiddenWindow,
			model.AlertTypePermissionViolation, model.AlertSeverityMedium,
			"repeated permission violations")
	}
}

func (s *AuditService) checkThreshold(ctx context.Context, userID, action string, threshold int, window time.Duration, alertType model.AlertType, severity model.AlertSeverity, message string) {
	if threshold <= 0 {
		return
	}

	since := s.now().Add(-window)
	count, err := s.store.CountByUserAction(ctx, userID, action, since)
	if err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("failed to count entries for threshold rule")
		return
	}
	if count < threshold {
		return
	}

	// One open alert per user and rule; a continuing burst does not raise
	// duplicates.
	if _, err := s.alerts.FindOpen(ctx, alertType, userID); err == nil {
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.log.Error().Err(err).Msg("failed to check for open alert")
		return
	}

	triggerIDs, err := s.store.ListIDsByUserAction(ctx, userID, action, since)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list trigger entries")
	}

	alert := &model.SecurityAlert{
		ID:              newAuditID(),
		Type:            alertType,
		Severity:        severity,
		UserID:          &userID,
		Message:         fmt.Sprintf("%s: %d events within %s", message, count, window),
		TriggerEntryIDs: triggerIDs,
		CreatedAt:       s.now(),
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		s.log.Error().Err(err).Msg("failed to create security alert")
		return
	}

	s.log.Warn().
		Str("alert_id", alert.ID).
		Str("type", string(alertType)).
		Str("user_id", userID).
		Int("count", count).
		Msg("security alert raised")

	obs.SecurityAlert(string(alertType))
	s.notify(ctx, alert)
}

func (s *AuditService) notify(ctx context.Context, alert *model.SecurityAlert) {
	if s.sender == nil || len(s.cfg.Alerts.NotifyEmails) == 0 {
		return
	}
	for _, to := range s.cfg.Alerts.NotifyEmails {
		msg := email.NewAlertMessage(s.cfg.Email.AppName, to, string(alert.Type), alert.Message, alert.CreatedAt)
		if err := s.sender.Send(ctx, msg); err != nil {
			s.log.Error().Err(err).Str("to", to).Msg("failed to send alert notification")
		}
	}
}

func writeCSV(w io.Writer, entries []*model.AuditEntry) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "created_at", "user_id", "action", "resource", "success", "reason", "ip_address", "user_agent"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	for _, e := range entries {
		record := []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			deref(e.UserID),
			e.Action,
			deref(e.Resource),
			strconv.FormatBool(e.Success),
			e.Reason,
			deref(e.IPAddress),
			deref(e.UserAgent),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// newAuditID returns a time-ordered ULID so the decision log sorts by
// creation without a secondary index.
func newAuditID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}
