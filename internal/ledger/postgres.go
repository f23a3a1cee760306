package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PostgresStore implements Store using PostgreSQL.
//
// Balance mutations run inside a transaction with the row locked FOR UPDATE
// so concurrent settlements on the same bird serialize instead of losing
// increments. Platform revenue is a single accumulator row updated atomically.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// BalanceFor retrieves the balance for a bird.
func (s *PostgresStore) BalanceFor(ctx context.Context, birdID string) (*RecipientBalance, error) {
	query := `
		SELECT bird_id, total_supported, payout_accrued, swept_total, refunded_total
		FROM recipient_balances
		WHERE bird_id = $1
	`
	var balance RecipientBalance
	err := s.db.QueryRowContext(ctx, query, birdID).Scan(
		&balance.BirdID, &balance.TotalSupported, &balance.PayoutAccrued,
		&balance.SweptTotal, &balance.RefundedTotal,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recipient balance: %w", err)
	}
	return &balance, nil
}

// PlatformRevenue returns the accumulated platform share.
func (s *PostgresStore) PlatformRevenue(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM platform_revenue`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read platform revenue: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) mutate(ctx context.Context, birdID string, fn func(*RecipientBalance)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	// Ensure the row exists, then lock it for the read-modify-write.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recipient_balances (bird_id)
		VALUES ($1)
		ON CONFLICT (bird_id) DO NOTHING
	`, birdID); err != nil {
		return fmt.Errorf("failed to ensure recipient balance row: %w", err)
	}

	var balance RecipientBalance
	err = tx.QueryRowContext(ctx, `
		SELECT bird_id, total_supported, payout_accrued, swept_total, refunded_total
		FROM recipient_balances
		WHERE bird_id = $1
		FOR UPDATE
	`, birdID).Scan(
		&balance.BirdID, &balance.TotalSupported, &balance.PayoutAccrued,
		&balance.SweptTotal, &balance.RefundedTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to lock recipient balance: %w", err)
	}

	fn(&balance)

	if _, err := tx.ExecContext(ctx, `
		UPDATE recipient_balances
		SET total_supported = $2, payout_accrued = $3, swept_total = $4,
			refunded_total = $5, updated_at = NOW()
		WHERE bird_id = $1
	`, birdID, balance.TotalSupported, balance.PayoutAccrued,
		balance.SweptTotal, balance.RefundedTotal); err != nil {
		return fmt.Errorf("failed to update recipient balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit balance update: %w", err)
	}
	return nil
}

func (s *PostgresStore) addPlatformRevenue(ctx context.Context, amount int64) error {
	if amount == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO platform_revenue (amount, created_at) VALUES ($1, NOW())`,
		amount); err != nil {
		return fmt.Errorf("failed to record platform revenue: %w", err)
	}
	return nil
}
