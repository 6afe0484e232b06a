package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/model"
)

// AuditRepository handles the append-only decision log. Entries are inserted
// and queried, never updated or deleted.
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_entries (id, user_id, action, resource, success, reason,
		    ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.Resource,
		entry.Success,
		entry.Reason,
		entry.IPAddress,
		entry.UserAgent,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// Query retrieves entries matching the filter, newest first
func (r *AuditRepository) Query(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != "" {
		addCondition("user_id = $%d", filter.UserID)
	}
	if filter.Action != "" {
		addCondition("action = $%d", filter.Action)
	}
	if filter.Resource != "" {
		addCondition("resource = $%d", filter.Resource)
	}
	if filter.Success != nil {
		addCondition("success = $%d", *filter.Success)
	}
	if !filter.From.IsZero() {
		addCondition("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addCondition("created_at < $%d", filter.To)
	}

	query := `
		SELECT id, user_id, action, resource, success, reason, ip_address, user_agent, metadata, created_at
		FROM audit_entries
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Action,
			&entry.Resource,
			&entry.Success,
			&entry.Reason,
			&entry.IPAddress,
			&entry.UserAgent,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CountByUserAction counts a user's entries with the given action since the
// cutoff. Threshold rules use this over the recent window.
func (r *AuditRepository) CountByUserAction(ctx context.Context, userID, action string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM audit_entries WHERE user_id = $1 AND action = $2 AND created_at >= $3`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, action, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// ListIDsByUserAction retrieves entry IDs for a user and action since the
// cutoff, oldest first, so alerts can reference their triggering entries.
func (r *AuditRepository) ListIDsByUserAction(ctx context.Context, userID, action string, since time.Time) ([]string, error) {
	query := `
		SELECT id FROM audit_entries
		WHERE user_id = $1 AND action = $2 AND created_at >= $3
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID, action, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entry ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
