package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkin-service/internal/models"
)

// AppendAttempt persists one check-in attempt. The log is append-only;
// nothing in the service ever updates or deletes a row here.
func (s *Store) AppendAttempt(ctx context.Context, attempt *models.CheckInAttempt) error {
	query := `
		INSERT INTO check_in_attempts
			(id, ticket_id, event_id, staff_id, staff_name, device_id, outcome, idempotency_key, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	return s.db.GetContext(ctx, &attempt.CreatedAt, query,
		attempt.ID, attempt.TicketID, attempt.EventID, attempt.StaffID,
		attempt.StaffName, attempt.DeviceID, attempt.Outcome,
		attempt.IdempotencyKey, attempt.ScannedAt)
}

// GetAttemptByToken looks up a prior decided attempt for a retried scan.
// ERROR attempts do not bind the token: a retry after a registry outage
// must be re-adjudicated, not replayed.
func (s *Store) GetAttemptByToken(ctx context.Context, ticketID, token string) (*models.CheckInAttempt, error) {
	if token == "" {
		return nil, nil
	}

	var attempt models.CheckInAttempt
	err := s.db.GetContext(ctx, &attempt, `
		SELECT * FROM check_in_attempts
		WHERE ticket_id = $1 AND idempotency_key = $2 AND outcome <> $3
		ORDER BY created_at DESC LIMIT 1`,
		ticketID, token, models.OutcomeError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListAttemptsByEvent returns an event's full attempt log in append order.
// Aggregators replay this to rebuild their state from empty.
func (s *Store) ListAttemptsByEvent(ctx context.Context, eventID string) ([]models.CheckInAttempt, error) {
	var attempts []models.CheckInAttempt
	err := s.db.SelectContext(ctx, &attempts,
		"SELECT * FROM check_in_attempts WHERE event_id = $1 ORDER BY created_at",
		eventID)
	return attempts, err
}

// ListDuplicateAttempts returns the duplicate attempts for one ticket at or
// after the given time, oldest first. Used to attach attempt history to an
// alert on read paths (since = the alert's creation time).
func (s *Store) ListDuplicateAttempts(ctx context.Context, ticketID string, since time.Time) ([]models.CheckInAttempt, error) {
	var attempts []models.CheckInAttempt
	err := s.db.SelectContext(ctx, &attempts, `
		SELECT * FROM check_in_attempts
		WHERE ticket_id = $1 AND outcome = $2 AND created_at >= $3
		ORDER BY created_at`,
		ticketID, models.OutcomeDuplicate, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate attempts: %w", err)
	}
	return attempts, nil
}
