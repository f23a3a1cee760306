// Package submission provides repository implementations for submission
// record storage.
package submission

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu       sync.RWMutex
	byKey    map[string]*Record // intentID + "/" + key
	byIntent map[string]*Record
}

// NewInMemoryRepository creates a new in-memory submission record repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byKey:    make(map[string]*Record),
		byIntent: make(map[string]*Record),
	}
}

// Get retrieves a record by intent and idempotency key.
func (r *InMemoryRepository) Get(_ context.Context, intentID, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.byKey[intentID+"/"+key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.copyRecord(record), nil
}

// GetByIntent retrieves the record of the intent's broadcast submission.
func (r *InMemoryRepository) GetByIntent(_ context.Context, intentID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.byIntent[intentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.copyRecord(record), nil
}

// Store saves a new submission record.
func (r *InMemoryRepository) Store(_ context.Context, record *Record) error {
	if record.Key != "" {
		if err := ValidateKey(record.Key); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// One broadcast per intent; one result per key.
	if _, exists := r.byIntent[record.IntentID]; exists {
		return ErrRecordExists
	}
	if record.Key != "" {
		if _, exists := r.byKey[record.IntentID+"/"+record.Key]; exists {
			return ErrRecordExists
		}
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	copied := r.copyRecord(record)
	r.byIntent[record.IntentID] = copied
	if record.Key != "" {
		r.byKey[record.IntentID+"/"+record.Key] = copied
	}

	return nil
}

// DeleteOlderThan removes submission records older than the specified
// duration. Returns the number of records deleted.
func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoffTime := time.Now().Add(-duration)
	deleted := int64(0)

	for intentID, record := range r.byIntent {
		if record.CreatedAt.Before(cutoffTime) {
			delete(r.byIntent, intentID)
			if record.Key != "" {
				delete(r.byKey, intentID+"/"+record.Key)
			}
			deleted++
		}
	}

	return deleted, nil
}

// copyRecord creates a copy of a Record.
func (r *InMemoryRepository) copyRecord(record *Record) *Record {
	if record == nil {
		return nil
	}
	copied := *record
	return &copied
}
