// Package payment provides Stripe integration for the card checkout path.
package payment

import (
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// CheckoutSessionParams represents parameters for creating a Checkout Session.
type CheckoutSessionParams struct {
	IntentID    string
	Amount      int64 // cents
	Currency    string
	Description string // shown on the Stripe checkout page
	SuccessURL  string
	CancelURL   string
	UserDID     string
}

// Client is an interface for Stripe operations to enable testing with mocks.
type Client interface {
	CreateCheckoutSession(params *CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct{}

// NewStripeClient creates a new Stripe client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateCheckoutSession creates a Stripe Checkout Session for a payment
// intent. Support amounts are arbitrary, so the line item uses inline price
// data instead of a catalog price. The intent ID rides along as the session's
// client reference and metadata so the completion webhook can resolve the
// session back to the intent without relying on our own storage being
// written first.
func (c *StripeClient) CreateCheckoutSession(params *CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", params.Amount)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					UnitAmount: stripe.Int64(params.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.IntentID),
	}
	sessionParams.AddMetadata("intent_id", params.IntentID)
	if params.UserDID != "" {
		sessionParams.AddMetadata("user_did", params.UserDID)
	}

	return session.New(sessionParams)
}
