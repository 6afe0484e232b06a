package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/model"
)

// AlertRepository handles security alert persistence
type AlertRepository struct {
	db *database.Postgres
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *database.Postgres) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new security alert
func (r *AlertRepository) Create(ctx context.Context, alert *model.SecurityAlert) error {
	query := `
		INSERT INTO security_alerts (id, type, severity, user_id, message, trigger_entry_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.Type,
		alert.Severity,
		alert.UserID,
		alert.Message,
		pq.Array(alert.TriggerEntryIDs),
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

const alertColumns = `id, type, severity, user_id, message, trigger_entry_ids,
	       created_at, resolved_at, resolved_by, resolution_notes`

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*model.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE id = $1`
	return r.scanAlert(r.db.QueryRowContext(ctx, query, id))
}

// List retrieves alerts, newest first. When openOnly is set, resolved alerts
// are excluded.
func (r *AlertRepository) List(ctx context.Context, openOnly bool, limit, offset int) ([]*model.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.SecurityAlert
	for rows.Next() {
		alert, err := r.scanAlertRows(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// FindOpen retrieves the open alert of the given type for a user, if any.
// Threshold rules check this before raising so one burst produces one alert.
func (r *AlertRepository) FindOpen(ctx context.Context, alertType model.AlertType, userID string) (*model.SecurityAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM security_alerts
		WHERE type = $1 AND user_id = $2 AND resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanAlert(r.db.QueryRowContext(ctx, query, alertType, userID))
}

// Resolve marks an alert as resolved. An already resolved alert cannot be
// resolved again.
func (r *AlertRepository) Resolve(ctx context.Context, id, resolvedBy, notes string, at time.Time) error {
	query := `
		UPDATE security_alerts
		SET resolved_at = $1, resolved_by = $2, resolution_notes = $3
		WHERE id = $4 AND resolved_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, at, resolvedBy, notes, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AlertRepository) scanAlert(row *sql.Row) (*model.SecurityAlert, error) {
	var alert model.SecurityAlert
	err := row.Scan(
		&alert.ID,
		&alert.Type,
		&alert.Severity,
		&alert.UserID,
		&alert.Message,
		pq.Array(&alert.TriggerEntryIDs),
		&alert.CreatedAt,
		&alert.ResolvedAt,
		&alert.ResolvedBy,
		&alert.ResolutionNotes,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return &alert, nil
}

func (r *AlertRepository) scanAlertRows(rows *sql.Rows) (*model.SecurityAlert, error) {
	var alert model.SecurityAlert
	err := rows.Scan(
		&alert.ID,
		&alert.Type,
		&alert.Severity,
		&alert.UserID,
		&alert.Message,
		pq.Array(&alert.TriggerEntryIDs),
		&alert.CreatedAt,
		&alert.ResolvedAt,
		&alert.ResolvedBy,
		&alert.ResolutionNotes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return &alert, nil
}
