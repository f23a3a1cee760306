// Package api provides HTTP handlers for the Wihngo payments API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/chain"
	"github.com/fullstackragab/wihngo-payments/internal/claim"
	"github.com/fullstackragab/wihngo-payments/internal/intent"
	"github.com/fullstackragab/wihngo-payments/internal/middleware"
	"github.com/fullstackragab/wihngo-payments/internal/payment"
	"github.com/fullstackragab/wihngo-payments/internal/settlement"
	"github.com/fullstackragab/wihngo-payments/internal/submission"
	"github.com/fullstackragab/wihngo-payments/internal/validate"
)

// PaymentHandlers holds dependencies for payment-related HTTP handlers.
type PaymentHandlers struct {
	registry     *intent.Registry
	settlement   *settlement.Service
	guard        *submission.Guard
	claims       *claim.Service
	stripeClient payment.Client
	checkouts    payment.CheckoutRepository
	successURL   string
	cancelURL    string
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(
	registry *intent.Registry,
	settlementSvc *settlement.Service,
	guard *submission.Guard,
	claims *claim.Service,
	stripeClient payment.Client,
	checkouts payment.CheckoutRepository,
	successURL string,
	cancelURL string,
) *PaymentHandlers {
	return &PaymentHandlers{
		registry:     registry,
		settlement:   settlementSvc,
		guard:        guard,
		claims:       claims,
		stripeClient: stripeClient,
		checkouts:    checkouts,
		successURL:   successURL,
		cancelURL:    cancelURL,
	}
}

// CreateIntentRequest represents the request body for creating a payment intent.
type CreateIntentRequest struct {
	BirdID   string `json:"bird_id,omitempty"`
	Purpose  string `json:"purpose"`
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency,omitempty"`
	Provider string `json:"provider"`
}

// IntentResponse is the projection of an intent returned to clients.
type IntentResponse struct {
	IntentID      string        `json:"intent_id"`
	Status        string        `json:"status"`
	Purpose       string        `json:"purpose"`
	Provider      string        `json:"provider"`
	BirdID        string        `json:"bird_id,omitempty"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Destination   string        `json:"destination"`
	Split         *intent.Split `json:"split,omitempty"`
	TxHash        string        `json:"tx_hash,omitempty"`
	Confirmations uint64        `json:"confirmations"`
	Required      uint64        `json:"required_confirmations"`
	ExpiresAt     string        `json:"expires_at"`
	ConfirmedAt   *time.Time    `json:"confirmed_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

func intentResponse(record *intent.PaymentIntent) IntentResponse {
	return IntentResponse{
		IntentID:      record.ID,
		Status:        record.Status,
		Purpose:       record.Purpose,
		Provider:      record.Provider,
		BirdID:        record.BirdID,
		Amount:        record.Amount,
		Currency:      record.Currency,
		Destination:   record.Destination,
		Split:         record.Split,
		TxHash:        record.TxHash,
		Confirmations: record.Confirmations,
		Required:      record.RequiredConfirmations,
		ExpiresAt:     record.ExpiresAt.Format(time.RFC3339),
		ConfirmedAt:   record.ConfirmedAt,
		CompletedAt:   record.CompletedAt,
	}
}

// CreateIntent creates a payment intent for an authenticated user.
// POST /payments/intents
func (h *PaymentHandlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	userDID := middleware.GetUserDID(ctx)
	if userDID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.Purpose == "" {
		req.Purpose = intent.PurposeSupport
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	record, err := h.registry.Create(ctx, userDID, req.Purpose, req.Amount, req.Currency, req.Provider, req.BirdID)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	writeJSON(w, http.StatusCreated, intentResponse(record))
}

// CreateManualIntentRequest represents the anonymous intent creation body.
type CreateManualIntentRequest struct {
	BirdID   string `json:"bird_id,omitempty"`
	Purpose  string `json:"purpose"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Provider string `json:"provider"`
	Contact  string `json:"contact"`
}

// CreateManualIntentResponse includes the claim URL for the anonymous buyer.
type CreateManualIntentResponse struct {
	IntentResponse
	ClaimURL string `json:"claim_url"`
}

// CreateManualIntent creates a payment intent before login. The response
// carries a single-use claim URL; whoever presents its token after settling
// becomes the owner.
// POST /payments/intents/manual
func (h *PaymentHandlers) CreateManualIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	var req CreateManualIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	contact, err := validate.Email(req.Contact)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "a valid contact email is required")
		return
	}
	req.Contact = contact
	if req.Purpose == "" {
		req.Purpose = intent.PurposeSupport
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	record, claimURL, err := h.registry.CreateManual(ctx, req.Purpose, req.Amount, req.Currency, req.Provider, req.Contact, req.BirdID)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateManualIntentResponse{
		IntentResponse: intentResponse(record),
		ClaimURL:       claimURL,
	})
}

// GetIntent returns the current status projection of an intent, triggering a
// lazy re-verification as a side effect.
// GET /payments/intents/{id}
func (h *PaymentHandlers) GetIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	intentID := strings.TrimPrefix(r.URL.Path, "/payments/intents/")
	if intentID == "" || strings.Contains(intentID, "/") {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "intent not found")
		return
	}

	record, err := h.settlement.GetStatus(ctx, intentID)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	// Owned intents are only visible to their owner. Manual intents have no
	// owner until claimed and stay readable by their (anonymous) buyer.
	if record.OwnerDID != "" && record.OwnerDID != middleware.GetUserDID(ctx) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "intent belongs to another user")
		return
	}

	writeJSON(w, http.StatusOK, intentResponse(record))
}

// CancelIntent cancels a pending intent before any transaction is attached.
// POST /payments/intents/{id}/cancel
func (h *PaymentHandlers) CancelIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	userDID := middleware.GetUserDID(ctx)
	if userDID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/payments/intents/")
	intentID := strings.TrimSuffix(path, "/cancel")
	if intentID == "" || intentID == path {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "intent not found")
		return
	}

	if err := h.registry.Cancel(ctx, intentID, userDID); err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": intent.StatusExpired})
}

// ConfirmRequest carries the transaction hash the client claims settled an
// intent.
type ConfirmRequest struct {
	IntentID    string `json:"intent_id"`
	TxHash      string `json:"tx_hash"`
	PayerWallet string `json:"payer_wallet,omitempty"`
}

// ConfirmResponse reports the state machine's verdict.
type ConfirmResponse struct {
	Status        string `json:"status"`
	Success       bool   `json:"success"`
	Confirmations uint64 `json:"confirmations"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Confirm attaches a transaction hash to an intent and advances the
// settlement state machine from the verifier's answer.
// POST /payments/confirm
func (h *PaymentHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.IntentID == "" || req.TxHash == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "intent_id and tx_hash are required")
		return
	}

	record, err := h.settlement.Confirm(ctx, req.IntentID, req.TxHash, req.PayerWallet)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	resp := ConfirmResponse{
		Status:        record.Status,
		Success:       record.Status != intent.StatusFailed,
		Confirmations: record.Confirmations,
	}
	if record.Status == intent.StatusFailed {
		resp.FailureReason = "on-chain verification failed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitRequest carries a signed transaction for broadcast.
type SubmitRequest struct {
	IntentID          string `json:"intent_id"`
	SignedTransaction string `json:"signed_transaction"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
}

// Submit broadcasts a signed transaction through the idempotency guard.
// POST /payments/submit
func (h *PaymentHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	userDID := middleware.GetUserDID(ctx)
	if userDID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.IntentID == "" || req.SignedTransaction == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "intent_id and signed_transaction are required")
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(middleware.IdempotencyKeyHeader)
	}

	result, err := h.guard.Submit(ctx, userDID, req.IntentID, req.SignedTransaction, key)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ClaimRequest presents a claim token.
type ClaimRequest struct {
	Token string `json:"token"`
}

// ClaimResponse reports the claimed payment.
type ClaimResponse struct {
	IntentID string `json:"intent_id"`
	BirdID   string `json:"bird_id,omitempty"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Claim attaches the authenticated caller to an anonymous payment.
// POST /payments/claim
func (h *PaymentHandlers) Claim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	userDID := middleware.GetUserDID(ctx)
	if userDID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "token is required")
		return
	}

	record, err := h.claims.Claim(ctx, req.Token, userDID)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		IntentID: record.ID,
		BirdID:   record.BirdID,
		Amount:   record.Amount,
		Currency: record.Currency,
		Status:   record.Status,
	})
}

// CreateCheckoutRequest starts a card payment through Stripe Checkout.
type CreateCheckoutRequest struct {
	BirdID   string `json:"bird_id,omitempty"`
	Purpose  string `json:"purpose"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// CreateCheckoutResponse carries the hosted checkout URL.
type CreateCheckoutResponse struct {
	IntentID    string `json:"intent_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout creates a stripe-provider intent together with its Checkout
// Session. The intent completes off-chain when the session's completion
// webhook arrives.
// POST /payments/checkout
func (h *PaymentHandlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
		return
	}

	userDID := middleware.GetUserDID(ctx)
	if userDID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.Purpose == "" {
		req.Purpose = intent.PurposeSupport
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	record, err := h.registry.Create(ctx, userDID, req.Purpose, req.Amount, req.Currency, intent.ProviderStripe, req.BirdID)
	if err != nil {
		writeIntentError(w, ctx, err)
		return
	}

	description := "Wihngo support"
	if req.BirdID != "" {
		description = "Support for bird " + req.BirdID
	}
	session, err := h.stripeClient.CreateCheckoutSession(&payment.CheckoutSessionParams{
		IntentID:    record.ID,
		Amount:      record.Amount,
		Currency:    strings.ToLower(record.Currency),
		Description: description,
		SuccessURL:  h.successURL,
		CancelURL:   h.cancelURL,
		UserDID:     userDID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create checkout session", "intent_id", record.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeProviderUnavailable)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeProviderUnavailable, "payment provider unavailable")
		return
	}

	if err := h.checkouts.Insert(&payment.CheckoutRecord{
		SessionID: session.ID,
		IntentID:  record.ID,
		Status:    payment.StatusPending,
		Amount:    record.Amount,
		UserDID:   userDID,
		BirdID:    req.BirdID,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to store checkout record", "intent_id", record.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to record checkout")
		return
	}

	writeJSON(w, http.StatusCreated, CreateCheckoutResponse{
		IntentID:    record.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	})
}

// writeIntentError translates service-layer sentinel errors into the API's
// error taxonomy. No provider-specific error reaches the caller.
func writeIntentError(w http.ResponseWriter, ctx context.Context, err error) {
	code := ErrCodeInternal
	message := "internal error"

	switch {
	case errors.Is(err, intent.ErrIntentNotFound):
		code, message = ErrCodeNotFound, "intent not found"
	case errors.Is(err, intent.ErrInvalidAmount):
		code, message = ErrCodeValidation, "amount must be positive"
	case errors.Is(err, intent.ErrInvalidPurpose):
		code, message = ErrCodeValidation, "unknown purpose"
	case errors.Is(err, intent.ErrNoPayoutWallet):
		code, message = ErrCodeNoPayoutWallet, "recipient has no payout wallet configured"
	case errors.Is(err, intent.ErrForbidden):
		code, message = ErrCodeForbidden, "intent belongs to another user"
	case errors.Is(err, intent.ErrNotCancelable):
		code, message = ErrCodeNotCancelable, "intent can no longer be canceled"
	case errors.Is(err, intent.ErrExpired):
		code, message = ErrCodeExpiredIntent, "intent has expired, create a new one"
	case errors.Is(err, intent.ErrTxHashExists):
		code, message = ErrCodeReplayDetected, "transaction hash already attached to another intent"
	case errors.Is(err, settlement.ErrAlreadyTerminal):
		code, message = ErrCodeAlreadyTerminal, "intent already settled"
	case errors.Is(err, settlement.ErrHashMismatch):
		code, message = ErrCodeAlreadyTerminal, "intent carries a different transaction hash"
	case errors.Is(err, settlement.ErrMissingTxHash):
		code, message = ErrCodeValidation, "transaction hash is required"
	case errors.Is(err, chain.ErrProviderUnavailable):
		code, message = ErrCodeProviderUnavailable, "chain provider unavailable, retry later"
	case errors.Is(err, chain.ErrUnsupportedProvider):
		code, message = ErrCodeValidation, "unsupported payment provider"
	case errors.Is(err, chain.ErrInvalidTransaction):
		code, message = ErrCodeValidation, "signed transaction could not be decoded"
	case errors.Is(err, submission.ErrInvalidKey), errors.Is(err, submission.ErrKeyTooLong):
		code, message = ErrCodeValidation, err.Error()
	case errors.Is(err, submission.ErrNotSubmittable):
		code, message = ErrCodeAlreadyTerminal, "intent is no longer accepting submissions"
	case errors.Is(err, claim.ErrTokenNotFound):
		code, message = ErrCodeNotFound, "claim token not found"
	case errors.Is(err, claim.ErrAlreadyClaimed):
		code, message = ErrCodeAlreadyClaimed, "payment already claimed"
	case errors.Is(err, claim.ErrNotClaimable):
		code, message = ErrCodeValidation, "payment has not settled yet"
	}

	ctx = middleware.SetErrorCode(ctx, code)
	if code == ErrCodeInternal {
		slog.ErrorContext(ctx, "unhandled service error", "error", err)
	}
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
