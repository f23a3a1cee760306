// Package ledger applies settlement side effects exactly once: balance and
// aggregate updates when a payment intent reaches its completed state.
package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/fullstackragab/wihngo-payments/internal/intent"
)

// ErrBalanceNotFound is returned when no balance exists for a bird.
var ErrBalanceNotFound = errors.New("recipient balance not found")

// RecipientBalance is the accumulated financial position of a bird.
// Amounts are minor units.
type RecipientBalance struct {
	BirdID         string `json:"bird_id"`
	TotalSupported int64  `json:"total_supported"` // lifetime support received
	PayoutAccrued  int64  `json:"payout_accrued"`  // completed but not yet swept
	SweptTotal     int64  `json:"swept_total"`     // withdrawn via sweeps
	RefundedTotal  int64  `json:"refunded_total"`
}

// Store defines methods for balance persistence.
type Store interface {
	// BalanceFor retrieves the balance for a bird.
	// Returns ErrBalanceNotFound if the bird has never received funds.
	BalanceFor(ctx context.Context, birdID string) (*RecipientBalance, error)

	// PlatformRevenue returns the accumulated platform share.
	PlatformRevenue(ctx context.Context) (int64, error)

	// mutate applies a change to a bird's balance, creating it on first use.
	mutate(ctx context.Context, birdID string, fn func(*RecipientBalance)) error

	// addPlatformRevenue adds to the platform total.
	addPlatformRevenue(ctx context.Context, amount int64) error
}

// Accumulator translates completed intents into balance updates.
//
// Exactly-once application is primarily guaranteed by the caller: Apply runs
// inside the settlement transition that wins the confirmed->completed
// compare-and-set. The applied-intent record here is a second gate so a
// duplicated call can never double-credit.
type Accumulator struct {
	store Store

	mu      sync.Mutex
	applied map[string]bool // intent ID -> effects applied
}

// NewAccumulator creates a new Accumulator over the given store.
func NewAccumulator(store Store) *Accumulator {
	return &Accumulator{
		store:   store,
		applied: make(map[string]bool),
	}
}

// Store exposes the underlying balance store.
func (a *Accumulator) Store() Store {
	return a.store
}

// Apply applies the completion side effects of an intent. Calling it again
// for the same intent is a no-op.
func (a *Accumulator) Apply(ctx context.Context, record *intent.PaymentIntent) error {
	a.mu.Lock()
	if a.applied[record.ID] {
		a.mu.Unlock()
		return nil
	}
	a.applied[record.ID] = true
	a.mu.Unlock()

	switch record.Purpose {
	case intent.PurposeSupport:
		birdAmount := record.Amount
		platformAmount := int64(0)
		if record.Split != nil {
			birdAmount = record.Split.BirdAmount
			platformAmount = record.Split.PlatformAmount
		}
		if err := a.store.mutate(ctx, record.BirdID, func(b *RecipientBalance) {
			b.TotalSupported += birdAmount
			b.PayoutAccrued += birdAmount
		}); err != nil {
			return err
		}
		return a.store.addPlatformRevenue(ctx, platformAmount)

	case intent.PurposePlatform:
		return a.store.addPlatformRevenue(ctx, record.Amount)

	case intent.PurposeRefund:
		return a.store.mutate(ctx, record.BirdID, func(b *RecipientBalance) {
			b.RefundedTotal += record.Amount
			b.PayoutAccrued -= record.Amount
		})

	case intent.PurposePayout:
		return a.store.mutate(ctx, record.BirdID, func(b *RecipientBalance) {
			b.PayoutAccrued -= record.Amount
		})
	}
	return nil
}

// MarkSwept records that a completed payout intent's funds left the platform
// in a sweep batch.
func (a *Accumulator) MarkSwept(ctx context.Context, record *intent.PaymentIntent) error {
	return a.store.mutate(ctx, record.BirdID, func(b *RecipientBalance) {
		b.SweptTotal += record.Amount
	})
}

// InMemoryStore implements Store with in-memory storage.
type InMemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*RecipientBalance
	platform int64
}

// NewInMemoryStore creates a new in-memory balance store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		balances: make(map[string]*RecipientBalance),
	}
}

// BalanceFor retrieves the balance for a bird.
func (s *InMemoryStore) BalanceFor(_ context.Context, birdID string) (*RecipientBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[birdID]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	copied := *balance
	return &copied, nil
}

// PlatformRevenue returns the accumulated platform share.
func (s *InMemoryStore) PlatformRevenue(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platform, nil
}

func (s *InMemoryStore) mutate(_ context.Context, birdID string, fn func(*RecipientBalance)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[birdID]
	if !ok {
		balance = &RecipientBalance{BirdID: birdID}
		s.balances[birdID] = balance
	}
	fn(balance)
	return nil
}

func (s *InMemoryStore) addPlatformRevenue(_ context.Context, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platform += amount
	return nil
}
