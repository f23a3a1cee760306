package submission

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
//
// The submissions table carries two unique constraints: one on intent_id (one
// broadcast per intent) and one on (intent_id, key) (one result per key).
// Either violation surfaces as ErrRecordExists so the guard can fall back to
// the stored result.
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

// Get retrieves a record by intent and idempotency key.
func (r *PostgresRepository) Get(ctx context.Context, intentID, key string) (*Record, error) {
	query := `
		SELECT owner_did, intent_id, key, signature, signed_tx, created_at
		FROM submissions
		WHERE intent_id = $1 AND key = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, intentID, key))
}

// GetByIntent retrieves the record of the intent's broadcast submission.
func (r *PostgresRepository) GetByIntent(ctx context.Context, intentID string) (*Record, error) {
	query := `
		SELECT owner_did, intent_id, key, signature, signed_tx, created_at
		FROM submissions
		WHERE intent_id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, intentID))
}

// Store saves a new submission record.
func (r *PostgresRepository) Store(ctx context.Context, record *Record) error {
	if record.Key != "" {
		if err := ValidateKey(record.Key); err != nil {
			return err
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO submissions (owner_did, intent_id, key, signature, signed_tx, created_at)
		VALUES (NULLIF($1, ''), $2, NULLIF($3, ''), $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.OwnerDID, record.IntentID, record.Key,
		record.Signature, record.SignedTx, record.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return ErrRecordExists
		}
		r.logger.Error("failed to store submission record",
			slog.String("intent_id", record.IntentID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to store submission record: %w", err)
	}
	return nil
}

// DeleteOlderThan removes submission records older than the specified
// duration. Returns the number of records deleted.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, duration time.Duration) (int64, error) {
	cutoff := time.Now().Add(-duration)
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM submissions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old submission records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return deleted, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*Record, error) {
	var record Record
	var ownerDID, key sql.NullString

	err := row.Scan(&ownerDID, &record.IntentID, &key,
		&record.Signature, &record.SignedTx, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission record: %w", err)
	}
	record.OwnerDID = ownerDID.String
	record.Key = key.String
	return &record, nil
}
