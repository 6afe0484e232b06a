package model

import "time"

// AuditEntry is one immutable record in the append-only decision log. Every
// authentication and authorization decision produces exactly one entry.
type AuditEntry struct {
	ID        string                 `json:"id"` // ULID, time-ordered
	UserID    *string                `json:"userId,omitempty"`
	Action    string                 `json:"action"`
	Resource  *string                `json:"resource,omitempty"`
	Success   bool                   `json:"success"`
	Reason    string                 `json:"reason,omitempty"`
	IPAddress *string                `json:"ipAddress,omitempty"`
	UserAgent *string                `json:"userAgent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Audit action constants
const (
	AuditActionLogin           = "auth.login"
	AuditActionLoginFailed     = "auth.login_failed"
	AuditActionLogout          = "auth.logout"
	AuditActionSessionRefresh  = "auth.session_refresh"
	AuditActionSessionRevoked  = "auth.session_revoked"
	AuditActionSessionInvalid  = "auth.session_invalid"
	AuditActionMFAVerified     = "mfa.verified"
	AuditActionMFAFailed       = "mfa.failed"
	AuditActionMFAEnrolled     = "mfa.enrolled"
	AuditActionMFARemoved      = "mfa.removed"
	AuditActionGateAllowed     = "gate.allowed"
	AuditActionGateDenied      = "gate.denied"
	AuditActionAccountLocked   = "account.locked"
	AuditActionAccountUnlocked = "account.unlocked"
	AuditActionUserCreated     = "account.created"
	AuditActionUserUpdated     = "account.updated"
	AuditActionUserDeleted     = "account.deleted"
	AuditActionRoleCreated     = "role.created"
	AuditActionRoleUpdated     = "role.updated"
	AuditActionRoleDeleted     = "role.deleted"
	AuditActionRoleAssigned    = "role.assigned"
	AuditActionPermCreated     = "permission.created"
	AuditActionPermDeleted     = "permission.deleted"
	AuditActionRoleUnassigned  = "role.unassigned"
	AuditActionAlertResolved   = "alert.resolved"
)

// Gate denial reasons recorded on AuditEntry.Reason
const (
	DenyReasonUnauthenticated = "unauthenticated"
	DenyReasonForbidden       = "forbidden"
	DenyReasonMFARequired     = "mfa_required"
	DenyReasonRateLimited     = "rate_limited"
	DenyReasonInternalError   = "internal_error"
)

// AlertType classifies a security alert.
type AlertType string

const (
	AlertTypeLoginFailure        AlertType = "login_failure"
	AlertTypePermissionViolation AlertType = "permission_violation"
)

// AlertSeverity grades a security alert.
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// SecurityAlert is raised when a threshold rule fires over the audit stream.
// It is mutable only through resolution; the entries it references are not.
type SecurityAlert struct {
	ID              string        `json:"id"` // ULID
	Type            AlertType     `json:"type"`
	Severity        AlertSeverity `json:"severity"`
	UserID          *string       `json:"userId,omitempty"`
	Message         string        `json:"message"`
	TriggerEntryIDs []string      `json:"triggerEntryIds,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy      *string       `json:"resolvedBy,omitempty"`
	ResolutionNotes *string       `json:"resolutionNotes,omitempty"`
}

// IsResolved checks if the alert has been resolved.
func (a *SecurityAlert) IsResolved() bool {
	return a.ResolvedAt != nil
}

// AuditFilter narrows an audit export query. Zero values mean "no filter".
type AuditFilter struct {
	UserID   string
	Action   string
	Resource string
	Success  *bool
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
