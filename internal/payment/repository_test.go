package payment

import (
	"errors"
	"testing"
)

func testCheckoutRecord() *CheckoutRecord {
	return &CheckoutRecord{
		SessionID: "cs_test_a1b2c3",
		IntentID:  "intent-1",
		Status:    StatusPending,
		Amount:    2500,
		UserDID:   "did:web:alice",
		BirdID:    "bird-1",
	}
}

func TestCheckoutInsert_AssignsIDAndTimestamps(t *testing.T) {
	repo := NewInMemoryCheckoutRepository()
	record := testCheckoutRecord()

	if err := repo.Insert(record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if record.ID == "" {
		t.Error("expected Insert to assign an ID")
	}
	if record.CreatedAt == nil || record.UpdatedAt == nil {
		t.Error("expected Insert to set timestamps")
	}
}

func TestCheckoutGetByID(t *testing.T) {
	repo := NewInMemoryCheckoutRepository()
	record := testCheckoutRecord()
	if err := repo.Insert(record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := repo.GetByID(record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.SessionID != record.SessionID || got.IntentID != record.IntentID {
		t.Errorf("GetByID returned wrong record: %+v", got)
	}

	// Returned record is a copy.
	got.Status = StatusFailed
	again, _ := repo.GetByID(record.ID)
	if again.Status != StatusPending {
		t.Error("mutating a returned record must not affect stored state")
	}
}

func TestCheckoutGetByID_NotFound(t *testing.T) {
	repo := NewInMemoryCheckoutRepository()

	_, err := repo.GetByID("missing")
	if !errors.Is(err, ErrCheckoutRecordNotFound) {
		t.Errorf("expected ErrCheckoutRecordNotFound, got %v", err)
	}
}

func TestCheckoutGetBySessionID(t *testing.T) {
	repo := NewInMemoryCheckoutRepository()
	record := testCheckoutRecord()
	if err := repo.Insert(record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := repo.GetBySessionID("cs_test_a1b2c3")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if got.IntentID != "intent-1" {
		t.Errorf("expected intent-1, got %s", got.IntentID)
	}

	if _, err := repo.GetBySessionID("cs_other"); !errors.Is(err, ErrCheckoutRecordNotFound) {
		t.Errorf("expected ErrCheckoutRecordNotFound for unknown session, got %v", err)
	}
}

func TestCheckoutUpdate(t *testing.T) {
	repo := NewInMemoryCheckoutRepository()
	record := testCheckoutRecord()
	if err := repo.Insert(record); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	record.Status = StatusSucceeded
	if err := repo.Update(record); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.GetByID(record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("expected status succeeded, got %s", got.Status)
	}
}

func TestCheckoutUpdate_NotFound(t *testing.T) {
	repo := NewInMemoryCheckoutRepository()
	record := testCheckoutRecord()
	record.ID = "missing"

	if err := repo.Update(record); !errors.Is(err, ErrCheckoutRecordNotFound) {
		t.Errorf("expected ErrCheckoutRecordNotFound, got %v", err)
	}
}
