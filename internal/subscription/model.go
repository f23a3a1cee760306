// Package subscription turns standing weekly support templates into one-shot
// payment intents on explicit user approval.
package subscription

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription is not found.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrNotActive is returned when approval is attempted on a paused or
	// canceled subscription.
	ErrNotActive = errors.New("subscription is not active")

	// ErrCycleApproved is returned by the repository when a cycle already has
	// an intent recorded. Callers resolve it to the existing intent.
	ErrCycleApproved = errors.New("cycle already has an intent")
)

// Subscription status values.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusCanceled = "canceled"
)

// Subscription is a standing weekly template: who supports which bird, for
// how much, over which provider. Each billing cycle the supporter approves
// the charge explicitly; nothing is charged automatically.
type Subscription struct {
	ID           string     `json:"id"`
	SupporterDID string     `json:"supporter_did"`
	BirdID       string     `json:"bird_id"`
	Amount       int64      `json:"amount"` // minor units
	Currency     string     `json:"currency"`
	Provider     string     `json:"provider"`
	Status       string     `json:"status"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// IsActive reports whether the subscription can produce new charges.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Cycle identifies one weekly billing period. Cycles follow ISO weeks so the
// boundary is stable regardless of when the subscription was created.
func Cycle(at time.Time) string {
	year, week := at.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// PendingApproval is a subscription due for the current cycle that has not
// yet produced an intent this cycle.
type PendingApproval struct {
	Subscription *Subscription `json:"subscription"`
	Cycle        string        `json:"cycle"`
}
