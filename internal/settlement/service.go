// Package settlement drives the payment intent status lifecycle from chain
// verification results.
//
// There is no single-threaded owner of an intent's lifecycle: an explicit
// confirm call, a passive status poll, a forced re-check, and a duplicate
// client retry can all arrive concurrently. Every entry point re-derives
// truth from the verifier and applies the same transition logic through
// per-intent conditional updates, so whichever caller arrives first advances
// the machine and everyone else observes the result.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/chain"
	"github.com/fullstackragab/wihngo-payments/internal/intent"
	"github.com/fullstackragab/wihngo-payments/internal/ledger"
	"github.com/fullstackragab/wihngo-payments/internal/notify"
)

var (
	// ErrAlreadyTerminal is returned when a confirm call targets an intent
	// that already reached a terminal status under a different transaction.
	ErrAlreadyTerminal = errors.New("intent already reached a terminal status")

	// ErrHashMismatch is returned when a confirm call carries a different
	// hash than the one already attached to the intent.
	ErrHashMismatch = errors.New("intent already carries a different transaction hash")

	// ErrMissingTxHash is returned when a confirm call omits the hash.
	ErrMissingTxHash = errors.New("transaction hash required")
)

// maxAdvanceRetries bounds the re-read loop when conditional writes keep
// losing to concurrent callers. The caller's next poll picks it up.
const maxAdvanceRetries = 3

// Service is the settlement state machine.
type Service struct {
	repo      intent.Repository
	directory intent.Directory
	verifier  chain.Verifier
	ledger    *ledger.Accumulator
	sink      notify.Sink
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new settlement Service. The directory and metrics may
// be nil.
func NewService(repo intent.Repository, directory intent.Directory, verifier chain.Verifier, acc *ledger.Accumulator, sink notify.Sink, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		directory: directory,
		verifier:  verifier,
		ledger:    acc,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Confirm attaches a transaction hash to the intent (rejecting hashes already
// claimed by another intent as replays) and drives the state machine via the
// verifier. payerWallet optionally pins the expected signer of a
// split-payment intent; when omitted, verification binds to the signer found
// on the transaction instead.
func (s *Service) Confirm(ctx context.Context, intentID, txHash, payerWallet string) (*intent.PaymentIntent, error) {
	if txHash == "" {
		return nil, ErrMissingTxHash
	}

	record, err := s.loadWithLazyExpiry(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.Status == intent.StatusExpired {
		return record, intent.ErrExpired
	}
	if record.IsTerminal() {
		if record.TxHash == txHash {
			// Idempotent re-confirm of the settled transaction.
			return record, nil
		}
		return record, ErrAlreadyTerminal
	}

	switch {
	case record.TxHash == "":
		if err := s.repo.AttachTxHash(ctx, intentID, txHash, record.Status); err != nil {
			if errors.Is(err, intent.ErrTxHashExists) {
				// Potential abuse: someone replaying a hash that settled a
				// different intent.
				s.logger.WarnContext(ctx, "replay detected",
					"intent_id", intentID, "tx_hash", txHash)
				s.metrics.ReplayDetected()
				return nil, intent.ErrTxHashExists
			}
			if errors.Is(err, intent.ErrStaleStatus) {
				// Lost against cancellation or a concurrent confirm.
				return s.Confirm(ctx, intentID, txHash, payerWallet)
			}
			return nil, err
		}
		record.TxHash = txHash
	case record.TxHash != txHash:
		return record, ErrHashMismatch
	}

	if payerWallet != "" && record.Split != nil && record.Split.SenderWallet == "" {
		// First reported wallet wins; a lost race only means another caller
		// already pinned one.
		if err := s.repo.SetSenderWallet(ctx, intentID, payerWallet); err != nil {
			s.logger.WarnContext(ctx, "failed to record payer wallet",
				"intent_id", intentID, "error", err)
		} else if updated, err := s.repo.GetByID(ctx, intentID); err == nil {
			record = updated
		}
	}

	return s.advance(ctx, record)
}

// GetStatus returns the intent's current projection. For any non-terminal
// status it opportunistically triggers one re-verification before returning,
// but never regresses an already-terminal status. Transient verifier outages
// leave the status untouched.
func (s *Service) GetStatus(ctx context.Context, intentID string) (*intent.PaymentIntent, error) {
	record, err := s.loadWithLazyExpiry(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() || record.TxHash == "" {
		return record, nil
	}

	advanced, err := s.advance(ctx, record)
	if err != nil {
		if errors.Is(err, chain.ErrProviderUnavailable) {
			s.logger.WarnContext(ctx, "verifier unavailable during status poll",
				"intent_id", intentID, "error", err)
			return record, nil
		}
		return nil, err
	}
	return advanced, nil
}

// Recheck forces one re-verification of a non-terminal intent. Used by the
// background sweep for intents stuck in confirming.
func (s *Service) Recheck(ctx context.Context, intentID string) (*intent.PaymentIntent, error) {
	record, err := s.loadWithLazyExpiry(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() || record.TxHash == "" {
		return record, nil
	}
	return s.advance(ctx, record)
}

// loadWithLazyExpiry reads the intent, applying the pending->expired
// transition when the time-to-live elapsed with no hash attached.
func (s *Service) loadWithLazyExpiry(ctx context.Context, intentID string) (*intent.PaymentIntent, error) {
	record, err := s.repo.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !record.ExpiredAt(s.now()) {
		return record, nil
	}

	expired, err := s.repo.CompareAndSwapStatus(ctx, intentID, intent.StatusPending, intent.StatusExpired, nil)
	if err != nil {
		if errors.Is(err, intent.ErrStaleStatus) {
			// A concurrent confirmation won the race; use its result.
			return s.repo.GetByID(ctx, intentID)
		}
		return nil, err
	}
	s.metrics.Transition(intent.StatusPending, intent.StatusExpired)
	return expired, nil
}

// advance re-derives truth from the verifier and applies the resulting
// transition. The verifier call is made with no lock held; the transition is
// re-applied only if the previously read status still holds, otherwise the
// stale result is discarded and the current record re-read.
func (s *Service) advance(ctx context.Context, record *intent.PaymentIntent) (*intent.PaymentIntent, error) {
	for attempt := 0; attempt < maxAdvanceRetries; attempt++ {
		if record.IsTerminal() {
			return record, nil
		}

		result, err := s.verify(ctx, record)
		if err != nil {
			return record, err
		}
		s.metrics.VerifierOutcome(result)

		next, done, err := s.applyResult(ctx, record, result)
		if err == nil {
			if done {
				return next, nil
			}
			record = next
			continue
		}
		if !errors.Is(err, intent.ErrStaleStatus) {
			return record, err
		}

		// Stale: a concurrent caller moved the intent. Discard and re-read.
		record, err = s.repo.GetByID(ctx, record.ID)
		if err != nil {
			return nil, err
		}
	}
	return record, nil
}

// verify runs the appropriate verifier call for the intent. Split intents
// always go through leg verification; when no payer wallet was reported the
// verifier derives the signer from the transaction itself.
func (s *Service) verify(ctx context.Context, record *intent.PaymentIntent) (*chain.VerificationResult, error) {
	if record.Split != nil {
		return s.verifier.VerifySplitTransfer(ctx, record.TxHash, chain.SplitExpectation{
			Provider:       record.Provider,
			Currency:       record.Currency,
			PayerWallet:    record.Split.SenderWallet,
			BirdWallet:     record.Split.BirdWallet,
			BirdAmount:     record.Split.BirdAmount,
			PlatformWallet: record.Split.PlatformWallet,
			PlatformAmount: record.Split.PlatformAmount,
		})
	}
	return s.verifier.VerifyTransaction(ctx, record.TxHash, record.Provider)
}

// applyResult maps one verification result onto one transition. done reports
// whether the machine is settled for this round (no further transition can
// follow from the same result).
func (s *Service) applyResult(ctx context.Context, record *intent.PaymentIntent, result *chain.VerificationResult) (*intent.PaymentIntent, bool, error) {
	switch {
	case !result.Found:
		// Not visible yet. The hash is attached, so expiry no longer
		// applies; stay put until the next poll.
		return record, true, nil

	case !result.Succeeded:
		// Definite on-chain failure or a mint/payer/amount mismatch. The
		// hash is burned; the intent is permanently failed.
		s.logger.WarnContext(ctx, "verification failed",
			"intent_id", record.ID,
			"tx_hash", record.TxHash,
			"reason", result.Reason)
		next, err := s.repo.CompareAndSwapStatus(ctx, record.ID, record.Status, intent.StatusFailed, nil)
		if err != nil {
			return record, false, err
		}
		s.metrics.Transition(record.Status, intent.StatusFailed)
		return next, true, nil

	case result.Confirmations < record.RequiredConfirmations:
		if record.Status == intent.StatusConfirmed {
			// A count below threshold after the intent already confirmed is
			// a transient RPC view. Hold; the status never regresses.
			return record, true, nil
		}
		to := intent.StatusConfirming
		next, err := s.repo.CompareAndSwapStatus(ctx, record.ID, record.Status, to, func(p *intent.PaymentIntent) {
			p.Confirmations = result.Confirmations
		})
		if err != nil {
			return record, false, err
		}
		if record.Status != to {
			s.metrics.Transition(record.Status, to)
		}
		return next, true, nil

	default:
		// Threshold reached. Pass through confirming first so the observed
		// status sequence always follows the transition graph.
		if record.Status == intent.StatusPending {
			next, err := s.repo.CompareAndSwapStatus(ctx, record.ID, intent.StatusPending, intent.StatusConfirming, func(p *intent.PaymentIntent) {
				p.Confirmations = result.Confirmations
			})
			if err != nil {
				return record, false, err
			}
			s.metrics.Transition(intent.StatusPending, intent.StatusConfirming)
			record = next
		}
		if record.Status != intent.StatusConfirmed {
			next, err := s.repo.CompareAndSwapStatus(ctx, record.ID, record.Status, intent.StatusConfirmed, func(p *intent.PaymentIntent) {
				p.Confirmations = result.Confirmations
				if p.ConfirmedAt == nil {
					now := s.now()
					p.ConfirmedAt = &now
				}
			})
			if err != nil {
				return record, false, err
			}
			s.metrics.Transition(record.Status, intent.StatusConfirmed)
			record = next
		}
		return s.complete(ctx, record)
	}
}

// complete applies the confirmed->completed transition. The caller that wins
// the conditional write applies the ledger effects and fires the one
// completion notification; losers observe the already-completed record and
// do nothing, so a retried or duplicated transition can never apply effects
// twice.
func (s *Service) complete(ctx context.Context, record *intent.PaymentIntent) (*intent.PaymentIntent, bool, error) {
	if record.Status == intent.StatusCompleted {
		return record, true, nil
	}

	s.checkDestination(ctx, record)

	completed, err := s.repo.CompareAndSwapStatus(ctx, record.ID, intent.StatusConfirmed, intent.StatusCompleted, func(p *intent.PaymentIntent) {
		if p.CompletedAt == nil {
			now := s.now()
			p.CompletedAt = &now
		}
	})
	if err != nil {
		return record, false, err
	}
	s.metrics.Transition(intent.StatusConfirmed, intent.StatusCompleted)

	if s.ledger != nil {
		if err := s.ledger.Apply(ctx, completed); err != nil {
			// The status is committed; effects are retried by the ledger's
			// own idempotent bookkeeping on the next reconciliation run.
			s.logger.ErrorContext(ctx, "failed to apply settlement effects",
				"intent_id", completed.ID, "error", err)
		}
	}
	s.notifyCompleted(ctx, completed)

	s.logger.InfoContext(ctx, "payment intent completed",
		"intent_id", completed.ID,
		"purpose", completed.Purpose,
		"amount", completed.Amount)
	return completed, true, nil
}

// checkDestination asks the recipient directory whether the credited wallet
// is still the bird's expected destination. Funds verifiably moved to the
// wallet configured at intent creation, so a rotation since then is surfaced
// as an abuse signal rather than a failure.
func (s *Service) checkDestination(ctx context.Context, record *intent.PaymentIntent) {
	if s.directory == nil || record.Split == nil || record.BirdID == "" {
		return
	}
	ok, err := s.directory.IsExpectedDestination(ctx, record.BirdID, record.Split.BirdWallet)
	if err != nil {
		s.logger.WarnContext(ctx, "destination check failed",
			"intent_id", record.ID, "bird_id", record.BirdID, "error", err)
		return
	}
	if !ok {
		s.logger.WarnContext(ctx, "payout wallet changed after intent creation",
			"intent_id", record.ID,
			"bird_id", record.BirdID,
			"credited_wallet", record.Split.BirdWallet)
	}
}

// notifyCompleted fires the one completion event. Failures are logged and
// dropped; they never roll back the financial transition.
func (s *Service) notifyCompleted(ctx context.Context, record *intent.PaymentIntent) {
	if s.sink == nil {
		return
	}
	completedAt := s.now()
	if record.CompletedAt != nil {
		completedAt = *record.CompletedAt
	}
	event := notify.Event{
		Type:        notify.EventTypePaymentCompleted,
		IntentID:    record.ID,
		BirdID:      record.BirdID,
		OwnerDID:    record.OwnerDID,
		Contact:     record.BuyerContact,
		Amount:      record.Amount,
		Currency:    record.Currency,
		CompletedAt: completedAt,
	}
	if err := s.sink.Notify(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "completion notification failed",
			"intent_id", record.ID, "error", err)
	}
}

// CompleteOffChain applies confirmed+completed for intents settled by an
// off-chain provider (stripe webhooks), bypassing the chain verifier but
// going through the same conditional transitions.
func (s *Service) CompleteOffChain(ctx context.Context, intentID string) (*intent.PaymentIntent, error) {
	record, err := s.loadWithLazyExpiry(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if record.Status == intent.StatusExpired {
		return record, intent.ErrExpired
	}
	if record.IsTerminal() {
		return record, nil
	}

	if record.Status != intent.StatusConfirmed {
		next, err := s.repo.CompareAndSwapStatus(ctx, record.ID, record.Status, intent.StatusConfirmed, func(p *intent.PaymentIntent) {
			if p.ConfirmedAt == nil {
				now := s.now()
				p.ConfirmedAt = &now
			}
		})
		if err != nil {
			if errors.Is(err, intent.ErrStaleStatus) {
				return s.CompleteOffChain(ctx, intentID)
			}
			return nil, err
		}
		s.metrics.Transition(record.Status, intent.StatusConfirmed)
		record = next
	}

	completed, _, err := s.complete(ctx, record)
	if err != nil {
		if errors.Is(err, intent.ErrStaleStatus) {
			return s.repo.GetByID(ctx, intentID)
		}
		return nil, err
	}
	return completed, nil
}
