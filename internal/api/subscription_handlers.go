package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fullstackragab/wihngo-payments/internal/middleware"
	"github.com/fullstackragab/wihngo-payments/internal/subscription"
)

// SubscriptionHandlers holds dependencies for subscription approval handlers.
type SubscriptionHandlers struct {
	engine *subscription.Engine
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers instance.
func NewSubscriptionHandlers(engine *subscription.Engine) *SubscriptionHandlers {
	return &SubscriptionHandlers{engine: engine}
}

// PendingApprovalsResponse lists the cycles awaiting approval.
type PendingApprovalsResponse struct {
	Approvals []*subscription.PendingApproval `json:"approvals"`
}

// ListPendingApprovals returns the caller's subscriptions due for the
// current cycle that have not produced an intent yet.
// GET /subscriptions/approvals
func (h *SubscriptionHandlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
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

	approvals, err := h.engine.ListPendingApprovals(ctx, userDID)
	if err != nil {
		h.writeSubscriptionError(w, ctx, err)
		return
	}
	if approvals == nil {
		approvals = []*subscription.PendingApproval{}
	}

	writeJSON(w, http.StatusOK, PendingApprovalsResponse{Approvals: approvals})
}

// Approve turns one subscription cycle into a one-shot payment intent.
// Approving the same cycle twice returns the intent the first approval
// created.
// POST /subscriptions/{id}/approve
func (h *SubscriptionHandlers) Approve(w http.ResponseWriter, r *http.Request) {
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

	path := strings.TrimPrefix(r.URL.Path, "/subscriptions/")
	subscriptionID := strings.TrimSuffix(path, "/approve")
	if subscriptionID == "" || subscriptionID == path {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
		return
	}

	record, err := h.engine.Approve(ctx, userDID, subscriptionID)
	if err != nil {
		h.writeSubscriptionError(w, ctx, err)
		return
	}

	writeJSON(w, http.StatusOK, intentResponse(record))
}

func (h *SubscriptionHandlers) writeSubscriptionError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
	case errors.Is(err, subscription.ErrForbidden):
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "subscription belongs to another user")
	case errors.Is(err, subscription.ErrNotActive):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "subscription is not active")
	default:
		// Approval failures from the intent registry reuse its mapping.
		writeIntentError(w, ctx, err)
	}
}
