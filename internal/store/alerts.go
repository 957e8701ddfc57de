package store

import (
	"context"
	"database/sql"

	"checkin-service/internal/models"
)

// CreateAlert persists a freshly opened duplicate alert
func (s *Store) CreateAlert(ctx context.Context, alert *models.DuplicateAlert) error {
	query := `
		INSERT INTO duplicate_alerts
			(id, ticket_id, event_id, alert_level, attempt_count, device_count, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		alert.ID, alert.TicketID, alert.EventID, alert.AlertLevel,
		alert.AttemptCount, alert.DeviceCount, alert.Resolved,
	).Scan(&alert.CreatedAt, &alert.UpdatedAt)
}

// UpdateAlert writes through the escalation state of an open alert
func (s *Store) UpdateAlert(ctx context.Context, alert *models.DuplicateAlert) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE duplicate_alerts
		SET alert_level = $1, attempt_count = $2, device_count = $3, updated_at = NOW()
		WHERE id = $4`,
		alert.AlertLevel, alert.AttemptCount, alert.DeviceCount, alert.ID)
	return err
}

// GetAlert retrieves an alert by ID. Returns (nil, nil) when absent.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*models.DuplicateAlert, error) {
	var alert models.DuplicateAlert
	err := s.db.GetContext(ctx, &alert, "SELECT * FROM duplicate_alerts WHERE id = $1", alertID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ResolveAlert marks an alert resolved. Resolving an already-resolved alert
// is a no-op; the row count is not checked for exactly that reason.
func (s *Store) ResolveAlert(ctx context.Context, alertID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE duplicate_alerts SET resolved = TRUE, updated_at = NOW() WHERE id = $1",
		alertID)
	return err
}

// ResolveAlertsByEvent marks every open alert for an event resolved and
// returns the affected alert IDs. History is preserved: nothing is deleted.
func (s *Store) ResolveAlertsByEvent(ctx context.Context, eventID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE duplicate_alerts SET resolved = TRUE, updated_at = NOW()
		WHERE event_id = $1 AND NOT resolved
		RETURNING id`,
		eventID)
	return ids, err
}

// ListAlerts returns an event's alerts newest-first
func (s *Store) ListAlerts(ctx context.Context, eventID string, includeResolved bool) ([]models.DuplicateAlert, error) {
	query := "SELECT * FROM duplicate_alerts WHERE event_id = $1"
	if !includeResolved {
		query += " AND NOT resolved"
	}
	query += " ORDER BY created_at DESC"

	var alerts []models.DuplicateAlert
	err := s.db.SelectContext(ctx, &alerts, query, eventID)
	return alerts, err
}

// GetOpenAlertByTicket returns the unresolved alert for a ticket, if any
func (s *Store) GetOpenAlertByTicket(ctx context.Context, ticketID string) (*models.DuplicateAlert, error) {
	var alert models.DuplicateAlert
	err := s.db.GetContext(ctx, &alert,
		"SELECT * FROM duplicate_alerts WHERE ticket_id = $1 AND NOT resolved LIMIT 1",
		ticketID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}
