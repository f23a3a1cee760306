// Package intent provides repositories for payment intent persistence.
package intent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrIntentNotFound is returned when a payment intent is not found.
	ErrIntentNotFound = errors.New("payment intent not found")

	// ErrTxHashExists is returned when a transaction hash is already attached
	// to a different intent. Callers treat this as a replay attempt.
	ErrTxHashExists = errors.New("transaction hash already attached to another intent")

	// ErrStaleStatus is returned when a conditional update loses against a
	// concurrent writer. Callers must re-read and re-evaluate.
	ErrStaleStatus = errors.New("intent status changed concurrently")

	// ErrAlreadyClaimed is returned when an intent already has an owner.
	ErrAlreadyClaimed = errors.New("intent already claimed")
)

// Repository defines methods for payment intent persistence.
//
// Every status write is conditional on the previously observed status so that
// concurrent callers can never both apply the same transition. Implementations
// must enforce transaction-hash uniqueness across all intents.
type Repository interface {
	// Insert adds a new payment intent.
	Insert(ctx context.Context, record *PaymentIntent) error

	// GetByID retrieves a payment intent by ID.
	// Returns ErrIntentNotFound if the intent doesn't exist.
	GetByID(ctx context.Context, id string) (*PaymentIntent, error)

	// GetByTxHash retrieves the intent a transaction hash is attached to.
	// Returns ErrIntentNotFound if no intent carries the hash.
	GetByTxHash(ctx context.Context, hash string) (*PaymentIntent, error)

	// GetByClaimToken retrieves a manual intent by its claim token.
	// Returns ErrIntentNotFound for unknown or already-voided tokens.
	GetByClaimToken(ctx context.Context, token string) (*PaymentIntent, error)

	// AttachTxHash attaches a transaction hash to the intent, conditional on
	// the intent still being in fromStatus and the hash not being attached to
	// any other intent. Returns ErrTxHashExists on replay and ErrStaleStatus
	// when the intent moved on concurrently. Attaching the same hash to the
	// same intent again is a no-op.
	AttachTxHash(ctx context.Context, id, hash, fromStatus string) error

	// CompareAndSwapStatus atomically moves the intent from one status to
	// another, applying mutate (may be nil) to the stored record inside the
	// same conditional write. Returns the updated record, or ErrStaleStatus
	// when the intent is no longer in the from status.
	CompareAndSwapStatus(ctx context.Context, id, from, to string, mutate func(*PaymentIntent)) (*PaymentIntent, error)

	// SetSenderWallet records the payer wallet on a split intent, conditional
	// on none being recorded yet. The first reported wallet wins; later calls
	// are no-ops. Intents without a split are left untouched.
	SetSenderWallet(ctx context.Context, id, wallet string) error

	// ClaimIntent attaches an owner to an ownerless intent and voids its
	// claim token, all in one conditional write. Returns ErrAlreadyClaimed
	// when an owner is already attached.
	ClaimIntent(ctx context.Context, id, ownerDID string) (*PaymentIntent, error)

	// ListByStatus returns up to limit intents currently in the given status,
	// oldest first. Used by the opportunistic background sweeps.
	ListByStatus(ctx context.Context, status string, limit int) ([]*PaymentIntent, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*PaymentIntent
	byHash  map[string]string // tx hash -> intent ID
	byToken map[string]string // claim token -> intent ID
}

// NewInMemoryRepository creates a new in-memory payment intent repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*PaymentIntent),
		byHash:  make(map[string]string),
		byToken: make(map[string]string),
	}
}

// Insert adds a new payment intent.
func (r *InMemoryRepository) Insert(_ context.Context, record *PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

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

	// Deep copy to prevent external mutation
	copied := copyIntent(record)
	r.records[record.ID] = copied
	if copied.ClaimToken != "" {
		r.byToken[copied.ClaimToken] = copied.ID
	}

	return nil
}

// GetByID retrieves a payment intent by ID.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return copyIntent(record), nil
}

// GetByTxHash retrieves the intent a transaction hash is attached to.
func (r *InMemoryRepository) GetByTxHash(_ context.Context, hash string) (*PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[hash]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return copyIntent(r.records[id]), nil
}

// GetByClaimToken retrieves a manual intent by its claim token.
func (r *InMemoryRepository) GetByClaimToken(_ context.Context, token string) (*PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if token == "" {
		return nil, ErrIntentNotFound
	}
	id, ok := r.byToken[token]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return copyIntent(r.records[id]), nil
}

// AttachTxHash attaches a transaction hash with uniqueness and status checks.
func (r *InMemoryRepository) AttachTxHash(_ context.Context, id, hash, fromStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ErrIntentNotFound
	}

	if owner, exists := r.byHash[hash]; exists {
		if owner == id {
			// Re-attach of the same hash is a no-op.
			return nil
		}
		return ErrTxHashExists
	}

	if record.Status != fromStatus {
		return ErrStaleStatus
	}

	now := time.Now()
	record.TxHash = hash
	record.UpdatedAt = &now
	r.byHash[hash] = id

	return nil
}

// CompareAndSwapStatus atomically moves the intent between statuses.
func (r *InMemoryRepository) CompareAndSwapStatus(_ context.Context, id, from, to string, mutate func(*PaymentIntent)) (*PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if record.Status != from {
		return nil, ErrStaleStatus
	}

	record.Status = to
	if mutate != nil {
		mutate(record)
	}
	now := time.Now()
	record.UpdatedAt = &now

	return copyIntent(record), nil
}

// SetSenderWallet records the payer wallet on a split intent, first write
// wins.
func (r *InMemoryRepository) SetSenderWallet(_ context.Context, id, wallet string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ErrIntentNotFound
	}
	if record.Split == nil || record.Split.SenderWallet != "" {
		return nil
	}

	now := time.Now()
	record.Split.SenderWallet = wallet
	record.UpdatedAt = &now
	return nil
}

// ClaimIntent attaches an owner to an ownerless intent.
func (r *InMemoryRepository) ClaimIntent(_ context.Context, id, ownerDID string) (*PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if record.OwnerDID != "" || record.Claimed {
		return nil, ErrAlreadyClaimed
	}

	now := time.Now()
	record.OwnerDID = ownerDID
	record.Claimed = true
	if record.ClaimToken != "" {
		delete(r.byToken, record.ClaimToken)
		record.ClaimToken = ""
	}
	record.UpdatedAt = &now

	return copyIntent(record), nil
}

// ListByStatus returns up to limit intents currently in the given status.
func (r *InMemoryRepository) ListByStatus(_ context.Context, status string, limit int) ([]*PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*PaymentIntent
	for _, record := range r.records {
		if record.Status != status {
			continue
		}
		out = append(out, copyIntent(record))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// copyIntent creates a deep copy of a PaymentIntent.
func copyIntent(record *PaymentIntent) *PaymentIntent {
	if record == nil {
		return nil
	}

	copied := *record
	if record.Split != nil {
		split := *record.Split
		copied.Split = &split
	}
	if record.ConfirmedAt != nil {
		t := *record.ConfirmedAt
		copied.ConfirmedAt = &t
	}
	if record.CompletedAt != nil {
		t := *record.CompletedAt
		copied.CompletedAt = &t
	}
	if record.CreatedAt != nil {
		t := *record.CreatedAt
		copied.CreatedAt = &t
	}
	if record.UpdatedAt != nil {
		t := *record.UpdatedAt
		copied.UpdatedAt = &t
	}
	return &copied
}
