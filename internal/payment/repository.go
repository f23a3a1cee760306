// Package payment provides repository for checkout record persistence.
package payment

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCheckoutRecordNotFound is returned when a checkout record is not found.
var ErrCheckoutRecordNotFound = errors.New("checkout record not found")

// CheckoutRepository defines methods for checkout record persistence.
type CheckoutRepository interface {
	Insert(record *CheckoutRecord) error
	GetByID(id string) (*CheckoutRecord, error)
	GetBySessionID(sessionID string) (*CheckoutRecord, error)
	Update(record *CheckoutRecord) error
}

// InMemoryCheckoutRepository implements CheckoutRepository with in-memory storage.
type InMemoryCheckoutRepository struct {
	mu      sync.RWMutex
	records map[string]*CheckoutRecord
}

// NewInMemoryCheckoutRepository creates a new in-memory checkout repository.
func NewInMemoryCheckoutRepository() *InMemoryCheckoutRepository {
	return &InMemoryCheckoutRepository{
		records: make(map[string]*CheckoutRecord),
	}
}

// Insert adds a new checkout record.
func (r *InMemoryCheckoutRepository) Insert(record *CheckoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	// Set timestamps for new record
	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}

	// Deep copy to prevent external mutation
	copied := *record
	r.records[record.ID] = &copied

	return nil
}

// GetByID retrieves a checkout record by ID.
func (r *InMemoryCheckoutRepository) GetByID(id string) (*CheckoutRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrCheckoutRecordNotFound
	}

	copied := *record
	return &copied, nil
}

// GetBySessionID retrieves a checkout record by session ID.
func (r *InMemoryCheckoutRepository) GetBySessionID(sessionID string) (*CheckoutRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.records {
		if record.SessionID == sessionID {
			copied := *record
			return &copied, nil
		}
	}

	return nil, ErrCheckoutRecordNotFound
}

// Update updates an existing checkout record.
func (r *InMemoryCheckoutRepository) Update(record *CheckoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ID]; !ok {
		return ErrCheckoutRecordNotFound
	}

	now := time.Now()
	record.UpdatedAt = &now

	copied := *record
	r.records[record.ID] = &copied

	return nil
}
