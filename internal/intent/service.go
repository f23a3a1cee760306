// Package intent provides the payment intent registry.
package intent

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrInvalidAmount is returned for non-positive payment amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidPurpose is returned for unknown intent purposes.
	ErrInvalidPurpose = errors.New("unknown intent purpose")

	// ErrNoPayoutWallet is returned when the recipient bird has no payout
	// destination configured.
	ErrNoPayoutWallet = errors.New("recipient has no payout wallet configured")

	// ErrForbidden is returned on ownership mismatch.
	ErrForbidden = errors.New("caller does not own this intent")

	// ErrNotCancelable is returned when cancellation is attempted after a
	// transaction was broadcast. Funds in flight cannot be un-sent.
	ErrNotCancelable = errors.New("intent can no longer be canceled")

	// ErrExpired is returned for operations on an expired intent.
	ErrExpired = errors.New("intent has expired")
)

// Directory answers wallet questions about recipients. It is the boundary to
// the bird/wallet records owned by the main application.
type Directory interface {
	// PayoutWallet returns the payout destination for a bird.
	// Returns an empty string when none is configured.
	PayoutWallet(ctx context.Context, birdID string) (string, error)

	// IsExpectedDestination reports whether wallet is the configured payout
	// destination for the bird.
	IsExpectedDestination(ctx context.Context, birdID, wallet string) (bool, error)
}

// RegistryConfig holds the fixed parameters of the registry.
type RegistryConfig struct {
	PlatformWallet        string
	RequiredConfirmations uint64
	Expiry                time.Duration // time-to-live for new intents
	PlatformFeeBps        int64         // platform share of support payments, basis points
	ClaimBaseURL          string        // base for claim URLs handed to anonymous buyers
}

// Registry creates, cancels, and exposes payment intents. It owns the "what
// was promised" record; settlement owns advancing it.
type Registry struct {
	repo      Repository
	directory Directory
	cfg       RegistryConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a new Registry.
func NewRegistry(repo Repository, directory Directory, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	return &Registry{
		repo:      repo,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Repo exposes the underlying repository for collaborating services.
func (s *Registry) Repo() Repository {
	return s.repo
}

// SetNow overrides the clock, for tests.
func (s *Registry) SetNow(now func() time.Time) {
	s.now = now
}

// SplitAmounts computes the bird and platform legs of a support amount using
// the configured platform fee. Integer arithmetic only; the two legs always
// sum to the total.
func (s *Registry) SplitAmounts(amount int64) (birdAmount, platformAmount int64) {
	platformAmount = amount * s.cfg.PlatformFeeBps / 10000
	birdAmount = amount - platformAmount
	return birdAmount, platformAmount
}

// Create creates a payment intent owned by ownerDID.
// Fails with ErrInvalidAmount on non-positive amounts and ErrNoPayoutWallet
// when the recipient bird has no payout destination configured.
func (s *Registry) Create(ctx context.Context, ownerDID, purpose string, amount int64, currency, provider, birdID string) (*PaymentIntent, error) {
	record, err := s.build(ctx, purpose, amount, currency, provider, birdID)
	if err != nil {
		return nil, err
	}
	record.OwnerDID = ownerDID

	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment intent created",
		"intent_id", record.ID,
		"purpose", record.Purpose,
		"provider", record.Provider,
		"amount", record.Amount)
	return record, nil
}

// CreateManual creates an anonymous payment intent with a claim capability.
// The returned claim URL embeds the single-use token; it is the only way to
// later bind the payment to an account.
func (s *Registry) CreateManual(ctx context.Context, purpose string, amount int64, currency, provider, buyerContact, birdID string) (*PaymentIntent, string, error) {
	record, err := s.build(ctx, purpose, amount, currency, provider, birdID)
	if err != nil {
		return nil, "", err
	}
	record.BuyerContact = buyerContact
	record.ClaimToken = NewClaimToken()

	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, "", err
	}
	claimURL := fmt.Sprintf("%s/claim/%s?token=%s", s.cfg.ClaimBaseURL, record.ID, record.ClaimToken)
	s.logger.InfoContext(ctx, "manual payment intent created",
		"intent_id", record.ID,
		"amount", record.Amount)
	return record, claimURL, nil
}

// Cancel cancels a still-pending intent. Once a transaction hash is attached
// the funds are in flight and cancellation is refused. The cancellation races
// against the first confirmation signal; whichever conditional write commits
// first wins and the loser fails cleanly.
func (s *Registry) Cancel(ctx context.Context, id, userDID string) error {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.OwnerDID != "" && record.OwnerDID != userDID {
		return ErrForbidden
	}
	if record.Status != StatusPending || record.TxHash != "" {
		return ErrNotCancelable
	}

	// Canceled intents are recorded as expired; the status graph has no
	// separate canceled state.
	if _, err := s.repo.CompareAndSwapStatus(ctx, id, StatusPending, StatusExpired, nil); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return ErrNotCancelable
		}
		return err
	}
	s.logger.InfoContext(ctx, "payment intent canceled", "intent_id", id)
	return nil
}

// build assembles an unsaved intent, resolving destination and split.
func (s *Registry) build(ctx context.Context, purpose string, amount int64, currency, provider, birdID string) (*PaymentIntent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		currency = "usd"
	}
	if provider == "" {
		provider = ProviderSolanaUSDC
	}

	record := &PaymentIntent{
		Purpose:               purpose,
		Provider:              provider,
		BirdID:                birdID,
		Amount:                amount,
		Currency:              currency,
		Status:                StatusPending,
		RequiredConfirmations: s.cfg.RequiredConfirmations,
		ExpiresAt:             s.now().Add(s.cfg.Expiry),
	}

	switch purpose {
	case PurposeSupport:
		wallet, err := s.directory.PayoutWallet(ctx, birdID)
		if err != nil {
			return nil, err
		}
		if wallet == "" {
			return nil, ErrNoPayoutWallet
		}
		birdAmount, platformAmount := s.SplitAmounts(amount)
		record.Destination = wallet
		record.Split = &Split{
			BirdWallet:     wallet,
			BirdAmount:     birdAmount,
			PlatformWallet: s.cfg.PlatformWallet,
			PlatformAmount: platformAmount,
		}
	case PurposePayout, PurposeRefund:
		wallet, err := s.directory.PayoutWallet(ctx, birdID)
		if err != nil {
			return nil, err
		}
		if wallet == "" {
			return nil, ErrNoPayoutWallet
		}
		record.Destination = wallet
	case PurposePlatform:
		record.Destination = s.cfg.PlatformWallet
	default:
		return nil, ErrInvalidPurpose
	}

	return record, nil
}

// NewClaimToken generates an opaque, unguessable, single-use claim token.
func NewClaimToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
