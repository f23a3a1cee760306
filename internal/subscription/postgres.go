package subscription

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

// PostgresRepository implements Repository using PostgreSQL.
//
// Cycle uniqueness rests on the subscription_cycles primary key: two approvals
// racing on the same (subscription, cycle) resolve to a single intent because
// only one INSERT or conditional UPDATE can win.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

const subscriptionColumns = `
	id, supporter_did, bird_id, amount, currency, provider, status,
	created_at, updated_at`

// Insert adds a new subscription.
func (r *PostgresRepository) Insert(ctx context.Context, record *Subscription) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Status == "" {
		record.Status = StatusActive
	}
	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.SupporterDID, record.BirdID,
		record.Amount, record.Currency, record.Provider, record.Status,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert subscription",
			slog.String("subscription_id", record.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// ListBySupporter returns all subscriptions owned by the supporter.
func (r *PostgresRepository) ListBySupporter(ctx context.Context, supporterDID string) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE supporter_did = $1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, supporterDID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		record, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// UpdateStatus sets the subscription status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// RecordCycleIntent records that the given cycle produced the given intent,
// conditional on the previously observed cycle intent.
func (r *PostgresRepository) RecordCycleIntent(ctx context.Context, subscriptionID, cycle, prevIntentID, intentID string) error {
	if prevIntentID == "" {
		query := `
			INSERT INTO subscription_cycles (subscription_id, cycle, intent_id, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (subscription_id, cycle) DO NOTHING
		`
		res, err := r.db.ExecContext(ctx, query, subscriptionID, cycle, intentID)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
				return ErrCycleApproved
			}
			return fmt.Errorf("failed to record cycle intent: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return ErrCycleApproved
		}
		return nil
	}

	// Replacing a failed cycle intent: only swap if the recorded intent is
	// still the one the caller observed.
	query := `
		UPDATE subscription_cycles
		SET intent_id = $4
		WHERE subscription_id = $1 AND cycle = $2 AND intent_id = $3
	`
	res, err := r.db.ExecContext(ctx, query, subscriptionID, cycle, prevIntentID, intentID)
	if err != nil {
		return fmt.Errorf("failed to replace cycle intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCycleApproved
	}
	return nil
}

// CycleIntent returns the intent ID recorded for a cycle.
func (r *PostgresRepository) CycleIntent(ctx context.Context, subscriptionID, cycle string) (string, bool, error) {
	query := `SELECT intent_id FROM subscription_cycles WHERE subscription_id = $1 AND cycle = $2`
	var intentID string
	err := r.db.QueryRowContext(ctx, query, subscriptionID, cycle).Scan(&intentID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cycle intent: %w", err)
	}
	return intentID, true, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*Subscription, error) {
	record, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	return record, err
}

func (r *PostgresRepository) scanRow(row interface{ Scan(dest ...any) error }) (*Subscription, error) {
	var record Subscription
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.SupporterDID, &record.BirdID,
		&record.Amount, &record.Currency, &record.Provider, &record.Status,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		record.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		record.UpdatedAt = &updatedAt.Time
	}
	return &record, nil
}
