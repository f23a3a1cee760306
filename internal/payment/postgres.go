package payment

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresCheckoutRepository implements CheckoutRepository using PostgreSQL.
type PostgresCheckoutRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresCheckoutRepository creates a new PostgresCheckoutRepository.
func NewPostgresCheckoutRepository(db *sql.DB, logger *slog.Logger) *PostgresCheckoutRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCheckoutRepository{
		db:     db,
		logger: logger,
	}
}

const checkoutColumns = `
	id, session_id, intent_id, status, amount, user_did, bird_id,
	created_at, updated_at`

// Insert adds a new checkout record.
func (r *PostgresCheckoutRepository) Insert(record *CheckoutRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}

	query := `
		INSERT INTO checkout_records (` + checkoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`
	_, err := r.db.ExecContext(context.Background(), query,
		record.ID, record.SessionID, record.IntentID, record.Status,
		record.Amount, record.UserDID, record.BirdID,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert checkout record",
			slog.String("checkout_id", record.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to insert checkout record: %w", err)
	}
	return nil
}

// GetByID retrieves a checkout record by ID.
func (r *PostgresCheckoutRepository) GetByID(id string) (*CheckoutRecord, error) {
	query := `SELECT ` + checkoutColumns + ` FROM checkout_records WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(context.Background(), query, id))
}

// GetBySessionID retrieves a checkout record by session ID.
func (r *PostgresCheckoutRepository) GetBySessionID(sessionID string) (*CheckoutRecord, error) {
	query := `SELECT ` + checkoutColumns + ` FROM checkout_records WHERE session_id = $1`
	return r.scanOne(r.db.QueryRowContext(context.Background(), query, sessionID))
}

// Update updates an existing checkout record.
func (r *PostgresCheckoutRepository) Update(record *CheckoutRecord) error {
	now := time.Now()
	record.UpdatedAt = &now

	query := `
		UPDATE checkout_records
		SET status = $2, amount = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(context.Background(), query,
		record.ID, record.Status, record.Amount, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update checkout record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCheckoutRecordNotFound
	}
	return nil
}

func (r *PostgresCheckoutRepository) scanOne(row *sql.Row) (*CheckoutRecord, error) {
	var record CheckoutRecord
	var userDID, birdID sql.NullString
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.SessionID, &record.IntentID, &record.Status,
		&record.Amount, &userDID, &birdID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCheckoutRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkout record: %w", err)
	}
	record.UserDID = userDID.String
	record.BirdID = birdID.String
	if createdAt.Valid {
		record.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		record.UpdatedAt = &updatedAt.Time
	}
	return &record, nil
}

// PostgresWebhookRepository implements WebhookRepository using PostgreSQL.
//
// Event uniqueness rides on the webhook_events_event_id_key index so at-least-
// once Stripe delivery collapses to exactly-once processing.
type PostgresWebhookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresWebhookRepository creates a new PostgresWebhookRepository.
func NewPostgresWebhookRepository(db *sql.DB, logger *slog.Logger) *PostgresWebhookRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresWebhookRepository{
		db:     db,
		logger: logger,
	}
}

// RecordEvent records a webhook event as processed.
func (r *PostgresWebhookRepository) RecordEvent(eventID, eventType string) error {
	query := `
		INSERT INTO webhook_events (id, event_id, event_type, processed_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := r.db.ExecContext(context.Background(), query,
		uuid.New().String(), eventID, eventType)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// HasProcessed checks if an event has already been processed.
func (r *PostgresWebhookRepository) HasProcessed(eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM webhook_events WHERE event_id = $1)`,
		eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}
