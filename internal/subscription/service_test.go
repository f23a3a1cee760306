package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/intent"
)

type stubDirectory struct {
	wallets map[string]string
}

func (d *stubDirectory) PayoutWallet(_ context.Context, birdID string) (string, error) {
	return d.wallets[birdID], nil
}

func (d *stubDirectory) IsExpectedDestination(_ context.Context, birdID, wallet string) (bool, error) {
	return d.wallets[birdID] == wallet, nil
}

func newTestEngine(t *testing.T) (*Engine, Repository, intent.Repository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	intents := intent.NewInMemoryRepository()
	directory := &stubDirectory{wallets: map[string]string{
		"bird-1": "BirdWallet1111111111111111111111111111111111",
	}}
	registry := intent.NewRegistry(intents, directory, intent.RegistryConfig{
		PlatformWallet:        "PlatformWallet111111111111111111111111111111",
		RequiredConfirmations: 32,
		PlatformFeeBps:        1000,
	}, logger)

	subs := NewInMemoryRepository()
	return NewEngine(subs, registry, logger), subs, intents
}

func insertSubscription(t *testing.T, subs Repository, status string) *Subscription {
	t.Helper()
	sub := &Subscription{
		SupporterDID: "did:web:alice",
		BirdID:       "bird-1",
		Amount:       500,
		Currency:     "USD",
		Provider:     intent.ProviderSolanaUSDC,
		Status:       status,
	}
	if err := subs.Insert(context.Background(), sub); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return sub
}

func TestCycle_ISOWeekBoundary(t *testing.T) {
	// 2025-12-29 is a Monday and belongs to ISO week 1 of 2026.
	monday := time.Date(2025, 12, 29, 10, 0, 0, 0, time.UTC)
	if got := Cycle(monday); got != "2026-W01" {
		t.Errorf("Cycle(%v) = %q, want 2026-W01", monday, got)
	}

	sunday := time.Date(2025, 12, 28, 23, 0, 0, 0, time.UTC)
	if got := Cycle(sunday); got != "2025-W52" {
		t.Errorf("Cycle(%v) = %q, want 2025-W52", sunday, got)
	}
}

func TestApprove_CreatesIntentFromTemplate(t *testing.T) {
	engine, subs, _ := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusActive)

	created, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if created.Amount != sub.Amount {
		t.Errorf("expected amount %d, got %d", sub.Amount, created.Amount)
	}
	if created.BirdID != sub.BirdID {
		t.Errorf("expected bird %s, got %s", sub.BirdID, created.BirdID)
	}
	if created.OwnerDID != "did:web:alice" {
		t.Errorf("expected owner did:web:alice, got %s", created.OwnerDID)
	}
	if created.Status != intent.StatusPending {
		t.Errorf("expected pending intent, got %s", created.Status)
	}
}

func TestApprove_SameCycleReturnsSameIntent(t *testing.T) {
	engine, subs, _ := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusActive)

	first, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("first Approve failed: %v", err)
	}
	second, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("second Approve failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected both approvals to return intent %s, second returned %s", first.ID, second.ID)
	}
}

func TestApprove_NewCycleCreatesNewIntent(t *testing.T) {
	engine, subs, _ := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusActive)

	week1 := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	engine.SetNow(func() time.Time { return week1 })
	first, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("week 1 Approve failed: %v", err)
	}

	week2 := week1.AddDate(0, 0, 7)
	engine.SetNow(func() time.Time { return week2 })
	second, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("week 2 Approve failed: %v", err)
	}
	if first.ID == second.ID {
		t.Error("expected a fresh intent for the new cycle")
	}
}

func TestApprove_FailedIntentAllowsRetry(t *testing.T) {
	engine, subs, intents := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusActive)

	first, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("first Approve failed: %v", err)
	}

	if _, err := intents.CompareAndSwapStatus(context.Background(),
		first.ID, intent.StatusPending, intent.StatusFailed, nil); err != nil {
		t.Fatalf("failed to mark intent failed: %v", err)
	}

	second, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("retry Approve failed: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a replacement intent after the first one failed")
	}
}

func TestApprove_WrongOwner(t *testing.T) {
	engine, subs, _ := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusActive)

	_, err := engine.Approve(context.Background(), "did:web:mallory", sub.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestApprove_PausedSubscription(t *testing.T) {
	engine, subs, _ := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusPaused)

	_, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestApprove_UnknownSubscription(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Approve(context.Background(), "did:web:alice", "no-such-sub")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestListPendingApprovals(t *testing.T) {
	engine, subs, _ := newTestEngine(t)
	active := insertSubscription(t, subs, StatusActive)
	insertSubscription(t, subs, StatusCanceled)

	pending, err := engine.ListPendingApprovals(context.Background(), "did:web:alice")
	if err != nil {
		t.Fatalf("ListPendingApprovals failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}
	if pending[0].Subscription.ID != active.ID {
		t.Errorf("expected subscription %s pending, got %s", active.ID, pending[0].Subscription.ID)
	}

	if _, err := engine.Approve(context.Background(), "did:web:alice", active.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	pending, err = engine.ListPendingApprovals(context.Background(), "did:web:alice")
	if err != nil {
		t.Fatalf("ListPendingApprovals after approval failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending approvals after approving, got %d", len(pending))
	}
}

func TestListPendingApprovals_FailedIntentReappears(t *testing.T) {
	engine, subs, intents := newTestEngine(t)
	sub := insertSubscription(t, subs, StatusActive)

	created, err := engine.Approve(context.Background(), "did:web:alice", sub.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := intents.CompareAndSwapStatus(context.Background(),
		created.ID, intent.StatusPending, intent.StatusFailed, nil); err != nil {
		t.Fatalf("failed to mark intent failed: %v", err)
	}

	pending, err := engine.ListPendingApprovals(context.Background(), "did:web:alice")
	if err != nil {
		t.Fatalf("ListPendingApprovals failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected cycle to reappear as pending after failure, got %d entries", len(pending))
	}
}
