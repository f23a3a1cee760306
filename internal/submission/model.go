// Package submission provides idempotent signed-transaction submission.
package submission

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound is returned when a submission record is not found.
	ErrRecordNotFound = errors.New("submission record not found")

	// ErrRecordExists is returned when attempting to store a duplicate
	// submission record.
	ErrRecordExists = errors.New("submission record already exists")

	// ErrInvalidKey is returned when the idempotency key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// Record maps (owner, intent, client-supplied key) to the previously returned
// submission result. An identical key always yields the identical prior
// result; the chain broadcast happens at most once per key.
//
// The signed transaction is retained so a retry after a crashed or failed
// broadcast can re-send the identical transaction (same signature, deduped on
// chain) instead of assuming no submission occurred.
type Record struct {
	OwnerDID  string    `json:"owner_did"`
	IntentID  string    `json:"intent_id"`
	Key       string    `json:"key,omitempty"`
	Signature string    `json:"signature"`
	SignedTx  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateKey checks if an idempotency key is valid.
// Returns ErrInvalidKey if the key is empty.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Repository defines methods for submission record persistence.
type Repository interface {
	// Get retrieves a record by intent and idempotency key.
	// Returns ErrRecordNotFound if no such record exists.
	Get(ctx context.Context, intentID, key string) (*Record, error)

	// GetByIntent retrieves the record of the intent's broadcast submission,
	// regardless of key. Returns ErrRecordNotFound if the intent was never
	// submitted.
	GetByIntent(ctx context.Context, intentID string) (*Record, error)

	// Store saves a new submission record.
	// Returns ErrRecordExists if a record for the same (intent, key) exists.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan removes submission records older than the specified
	// duration. Used by cleanup jobs to prevent unbounded storage growth.
	DeleteOlderThan(ctx context.Context, duration time.Duration) (int64, error)
}
