package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"checkin-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping validates DB connectivity, used by the readiness endpoint
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetTicket retrieves a ticket by ID. Returns (nil, nil) when the ticket
// does not exist: an unknown ticket is an INVALID outcome, not a failure.
func (s *Store) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, "SELECT * FROM tickets WHERE id = $1", ticketID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// RedeemTicket performs the conditional active→used transition. The WHERE
// clause is the compare-and-swap: of any number of concurrent callers for
// the same ticket, Postgres lets exactly one match the ACTIVE row.
func (s *Store) RedeemTicket(ctx context.Context, ticketID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.TicketStatusUsed, ticketID, models.TicketStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to redeem ticket: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CreateTicket inserts a ticket row. Ticket issuance belongs to the order
// system; this exists for bootstrap and test fixtures.
func (s *Store) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tickets (id, event_id, status) VALUES ($1, $2, $3)",
		ticket.ID, ticket.EventID, ticket.Status)
	return err
}
