// Package submission provides the idempotency guard over transaction
// broadcast.
package submission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/chain"
	"github.com/fullstackragab/wihngo-payments/internal/intent"
)

// ErrNotSubmittable is returned when the intent is past its pre-broadcast
// window and no prior submission is recorded to replay.
var ErrNotSubmittable = errors.New("intent is no longer accepting submissions")

// Result is the outcome of a submission.
type Result struct {
	Signature           string `json:"signature"`
	WasAlreadySubmitted bool   `json:"was_already_submitted"`
}

// Guard deduplicates transaction submissions by client-supplied idempotency
// key and by transaction-hash uniqueness, preventing double broadcast and
// double crediting.
//
// The submission record, the hash attach, and the pending->confirming
// transition all commit before the broadcast. A crash between recording and
// broadcasting therefore shows up on retry as a recorded-but-unseen
// signature, and the guard re-queries the chain (and safely re-sends the
// identical transaction) instead of treating the intent as never submitted.
type Guard struct {
	records     Repository
	intents     intent.Repository
	broadcaster chain.Broadcaster
	verifier    chain.Verifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewGuard creates a new Guard.
func NewGuard(records Repository, intents intent.Repository, broadcaster chain.Broadcaster, verifier chain.Verifier, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		records:     records,
		intents:     intents,
		broadcaster: broadcaster,
		verifier:    verifier,
		logger:      logger,
		now:         time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (g *Guard) SetNow(now func() time.Time) {
	g.now = now
}

// Submit broadcasts a signed transaction for the intent at most once.
//
// If the idempotency key was seen before for this intent, the prior recorded
// signature is returned without re-broadcasting. Without a key, the guard
// falls back to status-based protection: submission is only accepted while
// the intent is pre-broadcast; once confirming or later, the recorded
// signature is returned instead.
func (g *Guard) Submit(ctx context.Context, userDID, intentID, signedTx, key string) (*Result, error) {
	if key != "" {
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
	}

	record, err := g.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	// Ownership gates everything, including key replay: a recorded result is
	// only ever handed back to the intent's owner.
	if record.OwnerDID != "" && record.OwnerDID != userDID {
		return nil, intent.ErrForbidden
	}

	if key != "" {
		if prior, err := g.records.Get(ctx, intentID, key); err == nil {
			return g.replay(ctx, record.Provider, prior), nil
		} else if !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
	}

	if record.ExpiredAt(g.now()) {
		return nil, intent.ErrExpired
	}

	// Status-based protection: anything past pending already broadcast.
	if record.Status != intent.StatusPending || record.TxHash != "" {
		if prior, err := g.records.GetByIntent(ctx, intentID); err == nil {
			return g.replay(ctx, record.Provider, prior), nil
		}
		if record.TxHash != "" {
			return &Result{Signature: record.TxHash, WasAlreadySubmitted: true}, nil
		}
		return nil, ErrNotSubmittable
	}

	// The signature is derivable before broadcast; record everything first.
	signature, err := g.broadcaster.Signature(signedTx)
	if err != nil {
		return nil, err
	}

	submission := &Record{
		OwnerDID:  userDID,
		IntentID:  intentID,
		Key:       key,
		Signature: signature,
		SignedTx:  signedTx,
		CreatedAt: g.now(),
	}
	if err := g.records.Store(ctx, submission); err != nil {
		if errors.Is(err, ErrRecordExists) {
			// Lost against a concurrent duplicate; return its result.
			if prior, getErr := g.records.GetByIntent(ctx, intentID); getErr == nil {
				return g.replay(ctx, record.Provider, prior), nil
			}
		}
		return nil, err
	}

	if err := g.intents.AttachTxHash(ctx, intentID, signature, intent.StatusPending); err != nil {
		if errors.Is(err, intent.ErrTxHashExists) {
			g.logger.WarnContext(ctx, "replay detected on submission",
				"intent_id", intentID, "signature", signature)
		}
		return nil, err
	}
	if _, err := g.intents.CompareAndSwapStatus(ctx, intentID, intent.StatusPending, intent.StatusConfirming, nil); err != nil && !errors.Is(err, intent.ErrStaleStatus) {
		return nil, err
	}

	if _, err := g.broadcaster.Broadcast(ctx, signedTx); err != nil {
		// The record is committed; callers retry through the replay path,
		// which re-queries the chain by the recorded signature.
		g.logger.WarnContext(ctx, "broadcast failed after recording submission",
			"intent_id", intentID, "signature", signature, "error", err)
		return nil, err
	}

	g.logger.InfoContext(ctx, "transaction submitted",
		"intent_id", intentID, "signature", signature)
	return &Result{Signature: signature}, nil
}

// replay returns the recorded result of a prior submission. Before assuming
// the broadcast happened, it re-queries the chain by the recorded signature
// and re-sends the identical transaction when the chain has never seen it
// (recovering from a crash between recording and broadcasting).
func (g *Guard) replay(ctx context.Context, provider string, record *Record) *Result {
	result := &Result{Signature: record.Signature, WasAlreadySubmitted: true}
	if g.verifier == nil || record.SignedTx == "" {
		return result
	}

	verification, err := g.verifier.VerifyTransaction(ctx, record.Signature, provider)
	if err != nil || verification.Found {
		return result
	}

	if _, err := g.broadcaster.Broadcast(ctx, record.SignedTx); err != nil {
		g.logger.WarnContext(ctx, "recovery re-broadcast failed",
			"intent_id", record.IntentID, "signature", record.Signature, "error", err)
	} else {
		g.logger.InfoContext(ctx, "recovered unbroadcast submission",
			"intent_id", record.IntentID, "signature", record.Signature)
	}
	return result
}
