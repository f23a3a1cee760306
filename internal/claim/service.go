// Package claim attaches owners to anonymously created payment intents.
//
// Manual intents are created without an owner and carry a single-use claim
// token. Whoever presents the token first becomes the owner; the token is
// voided in the same write, so a second presentation always fails.
package claim

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/intent"
)

var (
	// ErrTokenNotFound is returned for unknown or already-voided tokens.
	ErrTokenNotFound = errors.New("claim token not found")

	// ErrAlreadyClaimed is returned when the intent already has an owner.
	ErrAlreadyClaimed = errors.New("payment already claimed")

	// ErrNotClaimable is returned when the payment has not settled yet or
	// ended in a failed or expired state.
	ErrNotClaimable = errors.New("payment is not in a claimable state")
)

// Service resolves claim tokens against the intent store.
type Service struct {
	intents intent.Repository
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a claim service.
func NewService(intents intent.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		intents: intents,
		logger:  logger,
		now:     time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Claim attaches userDID as the owner of the intent identified by token.
// Only settled manual intents can be claimed; a pending or confirming intent
// returns ErrNotClaimable so the buyer retries after the payment lands.
//
// The claiming write is conditional on the intent still being ownerless, so
// two racing claims with the same token resolve to exactly one owner. The
// loser sees ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, token, userDID string) (*intent.PaymentIntent, error) {
	if token == "" || userDID == "" {
		return nil, ErrTokenNotFound
	}

	record, err := s.intents.GetByClaimToken(ctx, token)
	if err != nil {
		if errors.Is(err, intent.ErrIntentNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if record.Claimed || record.OwnerDID != "" {
		return nil, ErrAlreadyClaimed
	}

	switch record.Status {
	case intent.StatusConfirmed, intent.StatusCompleted:
	default:
		return nil, ErrNotClaimable
	}

	claimed, err := s.intents.ClaimIntent(ctx, record.ID, userDID)
	if err != nil {
		if errors.Is(err, intent.ErrAlreadyClaimed) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	s.logger.Info("payment claimed",
		"intent_id", claimed.ID,
		"bird_id", claimed.BirdID,
		"owner_did", userDID)

	return claimed, nil
}
