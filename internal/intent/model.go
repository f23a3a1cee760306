// Package intent provides models and services for payment intent management.
package intent

import "time"

// Status values for a payment intent. Transitions only follow the settlement
// state machine: pending -> confirming -> confirmed -> completed, with failed
// and expired side branches, and the payout-only completed -> sweep_eligible
// -> swept chain.
const (
	StatusPending       = "pending"
	StatusConfirming    = "confirming"
	StatusConfirmed     = "confirmed"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
	StatusExpired       = "expired"
	StatusSweepEligible = "sweep_eligible"
	StatusSwept         = "swept"
)

// Purpose values describing what a payment intent pays for.
const (
	PurposeSupport  = "support"  // support a bird, split between owner and platform
	PurposePayout   = "payout"   // withdrawal of accumulated support funds
	PurposeRefund   = "refund"   // refund of a prior support payment
	PurposePlatform = "platform" // direct platform support
)

// Provider values identifying how an intent settles.
const (
	ProviderSolanaUSDC = "solana-usdc"
	ProviderSolanaSOL  = "solana-sol"
	ProviderStripe     = "stripe"
)

// DefaultExpiry is the time-to-live assigned to new intents.
const DefaultExpiry = 30 * time.Minute

// Split holds the two-leg breakdown of a support payment: the bird owner's
// share and the platform's share. The two amounts sum to the intent amount.
type Split struct {
	SenderWallet   string `json:"sender_wallet"`
	BirdWallet     string `json:"bird_wallet"`
	BirdAmount     int64  `json:"bird_amount"`     // minor units
	PlatformWallet string `json:"platform_wallet"`
	PlatformAmount int64  `json:"platform_amount"` // minor units
}

// PaymentIntent represents a reserved promise to pay, not yet final.
// Amount is immutable after creation. Once a transaction hash is attached and
// verified it is globally unique across all intents.
type PaymentIntent struct {
	ID                    string     `json:"id"`
	Purpose               string     `json:"purpose"`
	Provider              string     `json:"provider"`
	OwnerDID              string     `json:"owner_did,omitempty"` // empty until claimed for manual intents
	BirdID                string     `json:"bird_id,omitempty"`
	Amount                int64      `json:"amount"` // minor units of Currency
	Currency              string     `json:"currency"`
	Destination           string     `json:"destination"`
	Status                string     `json:"status"`
	TxHash                string     `json:"tx_hash,omitempty"`
	Confirmations         uint64     `json:"confirmations"`
	RequiredConfirmations uint64     `json:"required_confirmations"`
	BuyerContact          string     `json:"buyer_contact,omitempty"` // manual intents only
	ClaimToken            string     `json:"-"`                       // capability secret, never serialized
	Claimed               bool       `json:"claimed"`
	Split                 *Split     `json:"split,omitempty"`
	ExpiresAt             time.Time  `json:"expires_at"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CreatedAt             *time.Time `json:"created_at,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
}

// IsTerminal reports whether the intent has reached a terminal status.
// SweepEligible is not terminal for payout intents; Swept is.
func (p *PaymentIntent) IsTerminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusExpired, StatusSwept:
		return true
	}
	return false
}

// IsManual reports whether the intent was created anonymously and still
// carries a claim capability.
func (p *PaymentIntent) IsManual() bool {
	return p.ClaimToken != "" || (p.OwnerDID == "" && p.BuyerContact != "")
}

// IsOwner reports whether the given DID owns this intent.
func (p *PaymentIntent) IsOwner(did string) bool {
	return p.OwnerDID != "" && p.OwnerDID == did
}

// ExpiredAt reports whether the intent's time-to-live has elapsed at the
// given instant while no transaction hash was attached. Expiry is evaluated
// lazily on read; an intent with a hash attached is never expired.
func (p *PaymentIntent) ExpiredAt(now time.Time) bool {
	return p.Status == StatusPending && p.TxHash == "" && now.After(p.ExpiresAt)
}

// ValidStatus reports whether s is a known intent status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirming, StatusConfirmed, StatusCompleted,
		StatusFailed, StatusExpired, StatusSweepEligible, StatusSwept:
		return true
	}
	return false
}
