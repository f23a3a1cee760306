package intent

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// PostgresDirectory answers wallet questions from the birds table.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory backed by the birds table.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// PayoutWallet returns the payout destination for a bird.
// Returns an empty string when the bird is unknown or has no wallet set.
func (d *PostgresDirectory) PayoutWallet(ctx context.Context, birdID string) (string, error) {
	var wallet sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT payout_wallet FROM birds WHERE id = $1`, birdID).Scan(&wallet)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up payout wallet: %w", err)
	}
	return wallet.String, nil
}

// IsExpectedDestination reports whether wallet is the configured payout
// destination for the bird.
func (d *PostgresDirectory) IsExpectedDestination(ctx context.Context, birdID, wallet string) (bool, error) {
	configured, err := d.PayoutWallet(ctx, birdID)
	if err != nil {
		return false, err
	}
	return configured != "" && configured == wallet, nil
}

// InMemoryDirectory implements Directory with a static wallet map.
// Used in tests and local development.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	wallets map[string]string
}

// NewInMemoryDirectory creates a directory from a birdID -> wallet map.
// A nil map is treated as empty.
func NewInMemoryDirectory(wallets map[string]string) *InMemoryDirectory {
	if wallets == nil {
		wallets = make(map[string]string)
	}
	return &InMemoryDirectory{wallets: wallets}
}

// SetWallet sets or replaces the payout wallet for a bird.
func (d *InMemoryDirectory) SetWallet(birdID, wallet string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wallets[birdID] = wallet
}

// PayoutWallet returns the payout destination for a bird.
func (d *InMemoryDirectory) PayoutWallet(_ context.Context, birdID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wallets[birdID], nil
}

// IsExpectedDestination reports whether wallet is the configured payout
// destination for the bird.
func (d *InMemoryDirectory) IsExpectedDestination(_ context.Context, birdID, wallet string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	configured := d.wallets[birdID]
	return configured != "" && configured == wallet, nil
}
