package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fullstackragab/wihngo-payments/internal/middleware"
	"github.com/fullstackragab/wihngo-payments/internal/payment"
	"github.com/fullstackragab/wihngo-payments/internal/settlement"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// WebhookHandlers holds dependencies for webhook-related HTTP handlers.
type WebhookHandlers struct {
	webhookSecret string
	checkouts     payment.CheckoutRepository
	webhookRepo   payment.WebhookRepository
	settlement    *settlement.Service
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(
	webhookSecret string,
	checkouts payment.CheckoutRepository,
	webhookRepo payment.WebhookRepository,
	settlementSvc *settlement.Service,
) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		checkouts:     checkouts,
		webhookRepo:   webhookRepo,
		settlement:    settlementSvc,
	}
}

// HandleStripeWebhook processes Stripe webhook events with signature verification.
// POST /payments/webhook/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log minimal event info (type and ID only, not full payload)
	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	// Stripe delivers at least once; duplicates are acknowledged and dropped.
	if err := h.webhookRepo.RecordEvent(event.ID, string(event.Type)); err != nil {
		if errors.Is(err, payment.ErrEventAlreadyProcessed) {
			slog.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		slog.ErrorContext(ctx, "failed to record webhook event", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutSessionCompleted(ctx, event)
	case "checkout.session.expired":
		h.handleCheckoutSessionExpired(ctx, event)
	default:
		slog.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type, "event_id", event.ID)
	}

	// Always return 200 to acknowledge receipt
	w.WriteHeader(http.StatusOK)
}

// handleCheckoutSessionCompleted completes the intent behind a paid session.
// The session's client reference carries the intent ID, so completion works
// even if the checkout record write was lost.
func (h *WebhookHandlers) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		slog.ErrorContext(ctx, "failed to parse checkout session", "event_id", event.ID, "error", err)
		return
	}

	intentID := session.ClientReferenceID
	if intentID == "" {
		intentID = session.Metadata["intent_id"]
	}
	if intentID == "" {
		if record, err := h.checkouts.GetBySessionID(session.ID); err == nil {
			intentID = record.IntentID
		}
	}
	if intentID == "" {
		slog.WarnContext(ctx, "completed session carries no intent reference",
			"session_id", session.ID, "event_id", event.ID)
		return
	}

	if _, err := h.settlement.CompleteOffChain(ctx, intentID); err != nil {
		if errors.Is(err, settlement.ErrAlreadyTerminal) {
			slog.InfoContext(ctx, "intent already settled before webhook",
				"intent_id", intentID, "session_id", session.ID)
		} else {
			slog.ErrorContext(ctx, "failed to complete intent from webhook",
				"intent_id", intentID, "session_id", session.ID, "error", err)
			return
		}
	}

	if record, err := h.checkouts.GetBySessionID(session.ID); err == nil {
		record.Status = payment.StatusSucceeded
		if err := h.checkouts.Update(record); err != nil {
			slog.ErrorContext(ctx, "failed to update checkout record",
				"session_id", session.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "checkout session completed",
		"session_id", session.ID,
		"intent_id", intentID,
		"amount", session.AmountTotal)
}

// handleCheckoutSessionExpired marks the checkout record so the abandoned
// session shows up in support queries. The intent itself expires lazily.
func (h *WebhookHandlers) handleCheckoutSessionExpired(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		slog.ErrorContext(ctx, "failed to parse checkout session", "event_id", event.ID, "error", err)
		return
	}

	record, err := h.checkouts.GetBySessionID(session.ID)
	if err != nil {
		slog.WarnContext(ctx, "expired session has no checkout record", "session_id", session.ID)
		return
	}

	record.Status = payment.StatusCanceled
	if err := h.checkouts.Update(record); err != nil {
		slog.ErrorContext(ctx, "failed to update checkout record", "session_id", session.ID, "error", err)
		return
	}

	slog.InfoContext(ctx, "checkout session expired", "session_id", session.ID, "intent_id", record.IntentID)
}
