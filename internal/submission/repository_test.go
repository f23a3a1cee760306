package submission

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStore_RejectsSecondBroadcastForIntent(t *testing.T) {
	repo := NewInMemoryRepository()

	first := &Record{IntentID: "intent-1", Key: "key-1", Signature: "sig-1"}
	if err := repo.Store(context.Background(), first); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	dup := &Record{IntentID: "intent-1", Key: "key-2", Signature: "sig-2"}
	if err := repo.Store(context.Background(), dup); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("expected ErrRecordExists, got %v", err)
	}
}

func TestStore_ValidatesKey(t *testing.T) {
	repo := NewInMemoryRepository()
	record := &Record{IntentID: "intent-1", Key: string(make([]byte, MaxKeyLength+1)), Signature: "sig-1"}
	if err := repo.Store(context.Background(), record); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}
}

func TestGet_UnknownKey(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.Get(context.Background(), "intent-1", "key-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestGetByIntent_IgnoresKey(t *testing.T) {
	repo := NewInMemoryRepository()
	if err := repo.Store(context.Background(), &Record{IntentID: "intent-1", Key: "key-1", Signature: "sig-1"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	record, err := repo.GetByIntent(context.Background(), "intent-1")
	if err != nil {
		t.Fatalf("GetByIntent failed: %v", err)
	}
	if record.Signature != "sig-1" {
		t.Errorf("signature = %q, want sig-1", record.Signature)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	repo := NewInMemoryRepository()
	if err := repo.Store(context.Background(), &Record{IntentID: "intent-1", Key: "key-1", Signature: "sig-1"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	record, err := repo.Get(context.Background(), "intent-1", "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	record.Signature = "tampered"

	again, err := repo.Get(context.Background(), "intent-1", "key-1")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if again.Signature != "sig-1" {
		t.Errorf("stored record mutated through returned copy")
	}
}

func TestDeleteOlderThan_RemovesOnlyStaleRecords(t *testing.T) {
	repo := NewInMemoryRepository()
	stale := &Record{IntentID: "intent-1", Key: "key-1", Signature: "sig-1", CreatedAt: time.Now().Add(-8 * 24 * time.Hour)}
	fresh := &Record{IntentID: "intent-2", Key: "key-2", Signature: "sig-2", CreatedAt: time.Now()}
	if err := repo.Store(context.Background(), stale); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Store(context.Background(), fresh); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	deleted, err := repo.DeleteOlderThan(context.Background(), DefaultExpiry)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := repo.Get(context.Background(), "intent-1", "key-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Error("stale record should be gone")
	}
	if _, err := repo.Get(context.Background(), "intent-2", "key-2"); err != nil {
		t.Error("fresh record should survive")
	}
}

func TestCleanupOldRecords_ReportsDeletedCount(t *testing.T) {
	repo := NewInMemoryRepository()
	old := &Record{IntentID: "intent-1", Signature: "sig-1", CreatedAt: time.Now().Add(-30 * 24 * time.Hour)}
	if err := repo.Store(context.Background(), old); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	deleted, err := CleanupOldRecords(context.Background(), repo, DefaultExpiry)
	if err != nil {
		t.Fatalf("CleanupOldRecords failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
