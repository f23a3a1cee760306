package claim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fullstackragab/wihngo-payments/internal/intent"
)

func newTestService(t *testing.T) (*Service, intent.Repository) {
	t.Helper()
	repo := intent.NewInMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, logger), repo
}

func insertManualIntent(t *testing.T, repo intent.Repository, status string) (string, string) {
	t.Helper()
	token := intent.NewClaimToken()
	record := &intent.PaymentIntent{
		Purpose:      intent.PurposeSupport,
		Provider:     intent.ProviderSolanaUSDC,
		BirdID:       "bird-1",
		Amount:       500,
		Currency:     "USD",
		Status:       status,
		BuyerContact: "buyer@example.com",
		ClaimToken:   token,
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}
	if err := repo.Insert(context.Background(), record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return record.ID, token
}

func TestClaim_AttachesOwnerAndVoidsToken(t *testing.T) {
	service, repo := newTestService(t)
	id, token := insertManualIntent(t, repo, intent.StatusCompleted)

	claimed, err := service.Claim(context.Background(), token, "did:web:alice")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.ID != id {
		t.Errorf("expected intent %s, got %s", id, claimed.ID)
	}
	if claimed.OwnerDID != "did:web:alice" {
		t.Errorf("expected owner did:web:alice, got %s", claimed.OwnerDID)
	}
	if !claimed.Claimed {
		t.Error("expected intent to be marked claimed")
	}

	// Token is voided in the same write.
	if _, err := repo.GetByClaimToken(context.Background(), token); !errors.Is(err, intent.ErrIntentNotFound) {
		t.Errorf("expected voided token to be unresolvable, got %v", err)
	}
}

func TestClaim_SecondUseFails(t *testing.T) {
	service, repo := newTestService(t)
	_, token := insertManualIntent(t, repo, intent.StatusCompleted)

	if _, err := service.Claim(context.Background(), token, "did:web:alice"); err != nil {
		t.Fatalf("first Claim failed: %v", err)
	}

	_, err := service.Claim(context.Background(), token, "did:web:bob")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound for voided token, got %v", err)
	}
}

func TestClaim_PendingIntentNotClaimable(t *testing.T) {
	service, repo := newTestService(t)
	_, token := insertManualIntent(t, repo, intent.StatusPending)

	_, err := service.Claim(context.Background(), token, "did:web:alice")
	if !errors.Is(err, ErrNotClaimable) {
		t.Errorf("expected ErrNotClaimable, got %v", err)
	}
}

func TestClaim_FailedIntentNotClaimable(t *testing.T) {
	service, repo := newTestService(t)
	_, token := insertManualIntent(t, repo, intent.StatusFailed)

	_, err := service.Claim(context.Background(), token, "did:web:alice")
	if !errors.Is(err, ErrNotClaimable) {
		t.Errorf("expected ErrNotClaimable, got %v", err)
	}
}

func TestClaim_ConfirmedIntentClaimable(t *testing.T) {
	service, repo := newTestService(t)
	_, token := insertManualIntent(t, repo, intent.StatusConfirmed)

	if _, err := service.Claim(context.Background(), token, "did:web:alice"); err != nil {
		t.Fatalf("expected confirmed intent to be claimable, got %v", err)
	}
}

func TestClaim_UnknownToken(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Claim(context.Background(), "no-such-token", "did:web:alice")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestClaim_EmptyToken(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Claim(context.Background(), "", "did:web:alice")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound for empty token, got %v", err)
	}
}

func TestClaim_ConcurrentClaimsResolveToOneOwner(t *testing.T) {
	service, repo := newTestService(t)
	id, token := insertManualIntent(t, repo, intent.StatusCompleted)

	const racers = 8
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		did := "did:web:user-" + string(rune('a'+i))
		go func(did string) {
			_, err := service.Claim(context.Background(), token, did)
			errs <- err
		}(did)
	}

	wins := 0
	for i := 0; i < racers; i++ {
		if err := <-errs; err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins)
	}

	record, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if record.OwnerDID == "" || !record.Claimed {
		t.Error("expected intent to have exactly one owner after the race")
	}
}
