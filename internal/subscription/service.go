// Package subscription provides the approval engine for weekly support.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/intent"
)

// ErrForbidden is returned on subscription ownership mismatch.
var ErrForbidden = errors.New("caller does not own this subscription")

// Engine drives the weekly approval flow. It never charges on its own: each
// cycle the supporter approves explicitly, and the approval instantiates a
// fresh one-shot payment intent from the subscription template.
type Engine struct {
	subs    Repository
	intents *intent.Registry
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an approval engine.
func NewEngine(subs Repository, intents *intent.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		subs:    subs,
		intents: intents,
		logger:  logger,
		now:     time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// ListPendingApprovals returns the supporter's active subscriptions that have
// not produced a live intent for the current cycle. A cycle whose intent
// failed or expired counts as pending again so the supporter can retry.
func (e *Engine) ListPendingApprovals(ctx context.Context, supporterDID string) ([]*PendingApproval, error) {
	subs, err := e.subs.ListBySupporter(ctx, supporterDID)
	if err != nil {
		return nil, err
	}

	cycle := Cycle(e.now())
	pending := make([]*PendingApproval, 0, len(subs))
	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}

		intentID, exists, err := e.subs.CycleIntent(ctx, sub.ID, cycle)
		if err != nil {
			return nil, err
		}
		if exists {
			live, err := e.cycleIntentLive(ctx, intentID)
			if err != nil {
				return nil, err
			}
			if live {
				continue
			}
		}

		pending = append(pending, &PendingApproval{Subscription: sub, Cycle: cycle})
	}
	return pending, nil
}

// Approve instantiates a one-shot payment intent from the subscription
// template for the current cycle. At most one live intent exists per
// (subscription, cycle): approving twice in the same cycle returns the
// intent the first approval created instead of charging again.
func (e *Engine) Approve(ctx context.Context, supporterDID, subscriptionID string) (*intent.PaymentIntent, error) {
	sub, err := e.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.SupporterDID != supporterDID {
		return nil, ErrForbidden
	}
	if !sub.IsActive() {
		return nil, ErrNotActive
	}

	cycle := Cycle(e.now())

	prevID, existing, err := e.currentCycleIntent(ctx, sub.ID, cycle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.logger.Info("subscription cycle already approved",
			"subscription_id", sub.ID,
			"cycle", cycle,
			"intent_id", existing.ID)
		return existing, nil
	}

	created, err := e.intents.Create(ctx, supporterDID, intent.PurposeSupport,
		sub.Amount, sub.Currency, sub.Provider, sub.BirdID)
	if err != nil {
		return nil, err
	}

	if err := e.subs.RecordCycleIntent(ctx, sub.ID, cycle, prevID, created.ID); err != nil {
		if errors.Is(err, ErrCycleApproved) {
			// Lost the race against a concurrent approval. Return the
			// winner's intent; ours stays pending and expires lazily.
			if _, winner, eerr := e.currentCycleIntent(ctx, sub.ID, cycle); eerr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	e.logger.Info("subscription approved",
		"subscription_id", sub.ID,
		"cycle", cycle,
		"intent_id", created.ID,
		"amount", created.Amount)

	return created, nil
}

// currentCycleIntent loads the intent recorded for a cycle. It returns the
// recorded ID (for the conditional re-record) and the intent itself when it
// is still live. A failed or expired cycle intent counts as absent so
// approval can create a replacement.
func (e *Engine) currentCycleIntent(ctx context.Context, subscriptionID, cycle string) (string, *intent.PaymentIntent, error) {
	intentID, exists, err := e.subs.CycleIntent(ctx, subscriptionID, cycle)
	if err != nil || !exists {
		return "", nil, err
	}

	record, err := e.intents.Repo().GetByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, intent.ErrIntentNotFound) {
			return intentID, nil, nil
		}
		return "", nil, err
	}

	switch record.Status {
	case intent.StatusFailed, intent.StatusExpired:
		return intentID, nil, nil
	}
	return intentID, record, nil
}

// cycleIntentLive reports whether a recorded cycle intent still blocks the
// cycle from appearing as pending.
func (e *Engine) cycleIntentLive(ctx context.Context, intentID string) (bool, error) {
	record, err := e.intents.Repo().GetByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, intent.ErrIntentNotFound) {
			return false, nil
		}
		return false, err
	}
	switch record.Status {
	case intent.StatusFailed, intent.StatusExpired:
		return false, nil
	}
	return true, nil
}
