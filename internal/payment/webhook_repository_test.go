package payment

import (
	"fmt"
	"sync"
	"testing"
)

func TestRecordEvent_MarksProcessed(t *testing.T) {
	repo := NewInMemoryWebhookRepository()

	if err := repo.RecordEvent("evt_abc123", "checkout.session.completed"); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	processed, err := repo.HasProcessed("evt_abc123")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if !processed {
		t.Error("event should be marked as processed")
	}
}

func TestRecordEvent_DuplicateRejected(t *testing.T) {
	repo := NewInMemoryWebhookRepository()

	if err := repo.RecordEvent("evt_dup", "checkout.session.completed"); err != nil {
		t.Fatalf("first RecordEvent failed: %v", err)
	}

	if err := repo.RecordEvent("evt_dup", "checkout.session.completed"); err != ErrEventAlreadyProcessed {
		t.Errorf("expected ErrEventAlreadyProcessed, got %v", err)
	}
}

func TestHasProcessed_UnknownEvent(t *testing.T) {
	repo := NewInMemoryWebhookRepository()

	processed, err := repo.HasProcessed("evt_unknown")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if processed {
		t.Error("unknown event should not be marked processed")
	}
}

func TestRecordEvent_ConcurrentDuplicatesRecordOnce(t *testing.T) {
	repo := NewInMemoryWebhookRepository()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.RecordEvent("evt_race", "checkout.session.completed")
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if err != ErrEventAlreadyProcessed {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one successful record, got %d", succeeded)
	}
}

func TestRecordEvent_DistinctEvents(t *testing.T) {
	repo := NewInMemoryWebhookRepository()

	for i := 0; i < 5; i++ {
		eventID := fmt.Sprintf("evt_%d", i)
		if err := repo.RecordEvent(eventID, "checkout.session.completed"); err != nil {
			t.Fatalf("RecordEvent(%s) failed: %v", eventID, err)
		}
	}

	for i := 0; i < 5; i++ {
		processed, err := repo.HasProcessed(fmt.Sprintf("evt_%d", i))
		if err != nil || !processed {
			t.Errorf("evt_%d should be processed (err=%v)", i, err)
		}
	}
}
