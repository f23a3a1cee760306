// Package payment provides the Stripe checkout path for off-chain intents.
package payment

import "time"

// Checkout session status values.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// CheckoutRecord ties a Stripe Checkout Session to the payment intent it
// settles. Webhook handlers resolve the session ID back to the intent and
// hand completion to the settlement state machine.
type CheckoutRecord struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"` // Stripe Checkout Session ID
	IntentID  string     `json:"intent_id"`
	Status    string     `json:"status"`
	Amount    int64      `json:"amount"` // total amount in cents
	UserDID   string     `json:"user_did,omitempty"`
	BirdID    string     `json:"bird_id,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
