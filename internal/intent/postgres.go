// Package intent provides the PostgreSQL-backed payment intent repository.
package intent

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
// Conditional updates are expressed as UPDATE ... WHERE status = $from so two
// concurrent writers can never both apply the same transition; transaction
// hash uniqueness is enforced by the payment_intents_tx_hash_key index.
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

const intentColumns = `
	id, purpose, provider, owner_did, bird_id, amount, currency, destination,
	status, tx_hash, confirmations, required_confirmations, buyer_contact,
	claim_token, claimed, sender_wallet, bird_wallet, bird_amount,
	platform_wallet, platform_amount, expires_at, confirmed_at, completed_at,
	created_at, updated_at`

// Insert adds a new payment intent.
func (r *PostgresRepository) Insert(ctx context.Context, record *PaymentIntent) error {
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

	var senderWallet, birdWallet, platformWallet sql.NullString
	var birdAmount, platformAmount sql.NullInt64
	if record.Split != nil {
		senderWallet = sql.NullString{String: record.Split.SenderWallet, Valid: true}
		birdWallet = sql.NullString{String: record.Split.BirdWallet, Valid: true}
		platformWallet = sql.NullString{String: record.Split.PlatformWallet, Valid: true}
		birdAmount = sql.NullInt64{Int64: record.Split.BirdAmount, Valid: true}
		platformAmount = sql.NullInt64{Int64: record.Split.PlatformAmount, Valid: true}
	}

	query := `
		INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8,
			$9, NULLIF($10, ''), $11, $12, NULLIF($13, ''),
			NULLIF($14, ''), $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Purpose, record.Provider, record.OwnerDID, record.BirdID,
		record.Amount, record.Currency, record.Destination,
		record.Status, record.TxHash, record.Confirmations, record.RequiredConfirmations,
		record.BuyerContact, record.ClaimToken, record.Claimed,
		senderWallet, birdWallet, birdAmount, platformWallet, platformAmount,
		record.ExpiresAt, record.ConfirmedAt, record.CompletedAt,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert payment intent",
			slog.String("intent_id", record.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

// GetByID retrieves a payment intent by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByTxHash retrieves the intent a transaction hash is attached to.
func (r *PostgresRepository) GetByTxHash(ctx context.Context, hash string) (*PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE tx_hash = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, hash))
}

// GetByClaimToken retrieves a manual intent by its claim token.
func (r *PostgresRepository) GetByClaimToken(ctx context.Context, token string) (*PaymentIntent, error) {
	if token == "" {
		return nil, ErrIntentNotFound
	}
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE claim_token = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

// AttachTxHash attaches a transaction hash with uniqueness and status checks.
func (r *PostgresRepository) AttachTxHash(ctx context.Context, id, hash, fromStatus string) error {
	query := `
		UPDATE payment_intents
		SET tx_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND tx_hash IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, hash, fromStatus)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return ErrTxHashExists
		}
		return fmt.Errorf("failed to attach tx hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// No row updated: distinguish not-found, same-hash no-op, replay, and
	// stale status.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	if current.TxHash == hash {
		return nil
	}
	if _, hashErr := r.GetByTxHash(ctx, hash); hashErr == nil {
		return ErrTxHashExists
	}
	return ErrStaleStatus
}

// CompareAndSwapStatus atomically moves the intent between statuses.
// The mutate callback is applied to the updated row returned by the
// conditional write; only timestamp and confirmation fields it sets are
// persisted back in the same transaction.
func (r *PostgresRepository) CompareAndSwapStatus(ctx context.Context, id, from, to string, mutate func(*PaymentIntent)) (*PaymentIntent, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	query := `
		UPDATE payment_intents
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + intentColumns
	record, err := r.scanOne(tx.QueryRowContext(ctx, query, id, from, to))
	if err != nil {
		if err == ErrIntentNotFound {
			// Either the intent is missing or the status moved on.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleStatus
		}
		return nil, err
	}

	if mutate != nil {
		mutate(record)
		update := `
			UPDATE payment_intents
			SET confirmations = $2, confirmed_at = $3, completed_at = $4, updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, update, id, record.Confirmations, record.ConfirmedAt, record.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to apply status mutation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return record, nil
}

// SetSenderWallet records the payer wallet on a split intent, first write
// wins. Rows without a split carry no bird_wallet and never match.
func (r *PostgresRepository) SetSenderWallet(ctx context.Context, id, wallet string) error {
	query := `
		UPDATE payment_intents
		SET sender_wallet = $2, updated_at = NOW()
		WHERE id = $1 AND bird_wallet IS NOT NULL
			AND (sender_wallet IS NULL OR sender_wallet = '')
	`
	res, err := r.db.ExecContext(ctx, query, id, wallet)
	if err != nil {
		return fmt.Errorf("failed to set sender wallet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	// A wallet is already recorded or the intent has no split.
	return nil
}

// ClaimIntent attaches an owner to an ownerless intent.
func (r *PostgresRepository) ClaimIntent(ctx context.Context, id, ownerDID string) (*PaymentIntent, error) {
	query := `
		UPDATE payment_intents
		SET owner_did = $2, claimed = TRUE, claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND owner_did IS NULL AND NOT claimed
		RETURNING ` + intentColumns
	record, err := r.scanOne(r.db.QueryRowContext(ctx, query, id, ownerDID))
	if err != nil {
		if err == ErrIntentNotFound {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}
	return record, nil
}

// ListByStatus returns up to limit intents currently in the given status.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var out []*PaymentIntent
	for rows.Next() {
		record, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*PaymentIntent, error) {
	record, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	return record, err
}

func (r *PostgresRepository) scanRow(row rowScanner) (*PaymentIntent, error) {
	var record PaymentIntent
	var ownerDID, birdID, txHash, buyerContact, claimToken sql.NullString
	var senderWallet, birdWallet, platformWallet sql.NullString
	var birdAmount, platformAmount sql.NullInt64
	var confirmedAt, completedAt, createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.Purpose, &record.Provider, &ownerDID, &birdID,
		&record.Amount, &record.Currency, &record.Destination,
		&record.Status, &txHash, &record.Confirmations, &record.RequiredConfirmations,
		&buyerContact, &claimToken, &record.Claimed,
		&senderWallet, &birdWallet, &birdAmount, &platformWallet, &platformAmount,
		&record.ExpiresAt, &confirmedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.OwnerDID = ownerDID.String
	record.BirdID = birdID.String
	record.TxHash = txHash.String
	record.BuyerContact = buyerContact.String
	record.ClaimToken = claimToken.String
	if birdWallet.Valid {
		record.Split = &Split{
			SenderWallet:   senderWallet.String,
			BirdWallet:     birdWallet.String,
			BirdAmount:     birdAmount.Int64,
			PlatformWallet: platformWallet.String,
			PlatformAmount: platformAmount.Int64,
		}
	}
	if confirmedAt.Valid {
		record.ConfirmedAt = &confirmedAt.Time
	}
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}
	if createdAt.Valid {
		record.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		record.UpdatedAt = &updatedAt.Time
	}
	return &record, nil
}
