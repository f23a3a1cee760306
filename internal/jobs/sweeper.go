package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/intent"
	"github.com/fullstackragab/wihngo-payments/internal/ledger"
	"github.com/fullstackragab/wihngo-payments/internal/settlement"
	"github.com/fullstackragab/wihngo-payments/internal/submission"
)

// Sweep defaults.
const (
	// DefaultSweepInterval is how often the background sweeps run.
	DefaultSweepInterval = time.Minute

	// DefaultBatchSize bounds how many intents a single sweep pass touches.
	DefaultBatchSize = 100

	// DefaultPayoutHold is how long a completed payout intent rests before it
	// becomes eligible for the next sweep batch.
	DefaultPayoutHold = 24 * time.Hour
)

// Sweeper runs the opportunistic background jobs: expiring stale pending
// intents, re-checking intents stuck in confirming, cleaning up old
// submission records, and moving completed payouts through the sweep chain.
//
// Settlement is pull-driven; these sweeps are a liveness aid, not a
// correctness requirement. Every transition still goes through the same
// conditional status writes the request path uses.
type Sweeper struct {
	intents     intent.Repository
	settle      *settlement.Service
	balances    *ledger.Accumulator
	submissions submission.Repository

	metrics Reporter
	logger  *slog.Logger

	batchSize  int
	payoutHold time.Duration
	now        func() time.Time
}

// SweeperConfig configures a Sweeper. Zero values fall back to defaults.
type SweeperConfig struct {
	BatchSize  int
	PayoutHold time.Duration
}

// NewSweeper creates a sweeper over the given stores and services.
// metrics may be nil to disable job metrics.
func NewSweeper(intents intent.Repository, settle *settlement.Service, balances *ledger.Accumulator, submissions submission.Repository, metrics Reporter, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PayoutHold <= 0 {
		cfg.PayoutHold = DefaultPayoutHold
	}
	return &Sweeper{
		intents:     intents,
		settle:      settle,
		balances:    balances,
		submissions: submissions,
		metrics:     metrics,
		logger:      logger,
		batchSize:   cfg.BatchSize,
		payoutHold:  cfg.PayoutHold,
		now:         time.Now,
	}
}

// SetNow overrides the clock. Used by tests.
func (s *Sweeper) SetNow(now func() time.Time) {
	s.now = now
}

// RunPeriodic runs all sweeps at the given interval until stopChan closes.
// The first pass runs immediately.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stopChan:
			s.logger.Info("background sweeps stopped")
			return
		case <-ctx.Done():
			s.logger.Info("background sweeps stopped", "error", ctx.Err())
			return
		}
	}
}

// RunOnce runs a single pass of every sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.instrument(ctx, JobTypeExpirySweep, s.sweepExpired)
	s.instrument(ctx, JobTypeConfirmingRecheck, s.recheckConfirming)
	s.instrument(ctx, JobTypeSubmissionCleanup, s.cleanupSubmissions)
	s.instrument(ctx, JobTypePayoutSweep, s.sweepPayouts)
}

// instrument runs one job and records its outcome and duration.
func (s *Sweeper) instrument(ctx context.Context, jobType string, fn func(context.Context) error) {
	start := s.now()
	err := fn(ctx)
	elapsed := time.Since(start).Seconds()

	if s.metrics != nil {
		s.metrics.ObserveJobDuration(jobType, elapsed)
		if err != nil {
			s.metrics.IncJobsTotal(jobType, StatusFailure)
			s.metrics.IncJobErrors(jobType, "sweep_error")
		} else {
			s.metrics.IncJobsTotal(jobType, StatusSuccess)
		}
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "background sweep failed", "job", jobType, "error", err)
	}
}

// sweepExpired moves stale pending intents to expired. Expiry is normally
// applied lazily on read; this pass catches intents nobody is polling.
func (s *Sweeper) sweepExpired(ctx context.Context) error {
	records, err := s.intents.ListByStatus(ctx, intent.StatusPending, s.batchSize)
	if err != nil {
		return err
	}

	now := s.now()
	expired := 0
	for _, record := range records {
		if !record.ExpiredAt(now) {
			continue
		}
		_, err := s.intents.CompareAndSwapStatus(ctx, record.ID, intent.StatusPending, intent.StatusExpired, nil)
		if err != nil {
			if errors.Is(err, intent.ErrStaleStatus) {
				// A concurrent confirmation won; nothing to do.
				continue
			}
			return err
		}
		expired++
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "expired stale intents", "count", expired)
	}
	return nil
}

// recheckConfirming forces one re-verification for intents sitting in
// confirming, so a payment whose buyer stopped polling still completes.
func (s *Sweeper) recheckConfirming(ctx context.Context) error {
	records, err := s.intents.ListByStatus(ctx, intent.StatusConfirming, s.batchSize)
	if err != nil {
		return err
	}

	var firstErr error
	for _, record := range records {
		if _, err := s.settle.Recheck(ctx, record.ID); err != nil {
			// A single stuck intent should not starve the rest of the batch.
			s.logger.WarnContext(ctx, "recheck failed", "intent_id", record.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// cleanupSubmissions deletes submission records past their retention window.
func (s *Sweeper) cleanupSubmissions(ctx context.Context) error {
	_, err := submission.CleanupOldRecords(ctx, s.submissions, submission.DefaultExpiry)
	return err
}

// sweepPayouts advances completed payout intents through the sweep chain:
// completed intents past the hold period become sweep_eligible, and eligible
// intents are marked swept with the ledger updated by the status-write winner.
func (s *Sweeper) sweepPayouts(ctx context.Context) error {
	completed, err := s.intents.ListByStatus(ctx, intent.StatusCompleted, s.batchSize)
	if err != nil {
		return err
	}

	now := s.now()
	for _, record := range completed {
		if record.Purpose != intent.PurposePayout {
			continue
		}
		if record.CompletedAt == nil || now.Sub(*record.CompletedAt) < s.payoutHold {
			continue
		}
		_, err := s.intents.CompareAndSwapStatus(ctx, record.ID, intent.StatusCompleted, intent.StatusSweepEligible, nil)
		if err != nil && !errors.Is(err, intent.ErrStaleStatus) {
			return err
		}
	}

	eligible, err := s.intents.ListByStatus(ctx, intent.StatusSweepEligible, s.batchSize)
	if err != nil {
		return err
	}

	swept := 0
	for _, record := range eligible {
		updated, err := s.intents.CompareAndSwapStatus(ctx, record.ID, intent.StatusSweepEligible, intent.StatusSwept, nil)
		if err != nil {
			if errors.Is(err, intent.ErrStaleStatus) {
				continue
			}
			return err
		}
		// Ledger update only on the winning status write, so the sweep total
		// is applied exactly once per payout.
		if err := s.balances.MarkSwept(ctx, updated); err != nil {
			s.logger.ErrorContext(ctx, "failed to record sweep in ledger",
				"intent_id", updated.ID, "bird_id", updated.BirdID, "error", err)
		}
		swept++
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "swept payout intents", "count", swept)
	}
	return nil
}
