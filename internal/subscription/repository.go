// Package subscription provides repositories for subscription persistence.
package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines methods for subscription persistence.
//
// RecordCycleIntent is the uniqueness anchor of the approval flow: it must
// reject a second intent for the same (subscription, cycle) pair so two
// approvals in one cycle can never create two charges.
type Repository interface {
	// Insert adds a new subscription.
	Insert(ctx context.Context, record *Subscription) error

	// GetByID retrieves a subscription by ID.
	// Returns ErrSubscriptionNotFound if the subscription doesn't exist.
	GetByID(ctx context.Context, id string) (*Subscription, error)

	// ListBySupporter returns all subscriptions owned by the supporter.
	ListBySupporter(ctx context.Context, supporterDID string) ([]*Subscription, error)

	// UpdateStatus sets the subscription status.
	UpdateStatus(ctx context.Context, id, status string) error

	// RecordCycleIntent records that the given cycle produced the given
	// intent, conditional on the previously observed cycle intent (empty
	// for none). Returns ErrCycleApproved when the condition no longer
	// holds, meaning a concurrent approval recorded first.
	RecordCycleIntent(ctx context.Context, subscriptionID, cycle, prevIntentID, intentID string) error

	// CycleIntent returns the intent ID recorded for a cycle and whether
	// one exists.
	CycleIntent(ctx context.Context, subscriptionID, cycle string) (string, bool, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Subscription
	cycles  map[string]string // subscriptionID + "/" + cycle -> intent ID
}

// NewInMemoryRepository creates a new in-memory subscription repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Subscription),
		cycles:  make(map[string]string),
	}
}

// Insert adds a new subscription.
func (r *InMemoryRepository) Insert(_ context.Context, record *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Status == "" {
		record.Status = StatusActive
	}

	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}

	copied := *record
	r.records[record.ID] = &copied
	return nil
}

// GetByID retrieves a subscription by ID.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *record
	return &copied, nil
}

// ListBySupporter returns all subscriptions owned by the supporter.
func (r *InMemoryRepository) ListBySupporter(_ context.Context, supporterDID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, record := range r.records {
		if record.SupporterDID != supporterDID {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateStatus sets the subscription status.
func (r *InMemoryRepository) UpdateStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ErrSubscriptionNotFound
	}

	now := time.Now()
	record.Status = status
	record.UpdatedAt = &now
	return nil
}

// RecordCycleIntent records that the given cycle produced the given intent,
// conditional on the previously observed cycle intent.
func (r *InMemoryRepository) RecordCycleIntent(_ context.Context, subscriptionID, cycle, prevIntentID, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := subscriptionID + "/" + cycle
	if r.cycles[key] != prevIntentID {
		return ErrCycleApproved
	}
	r.cycles[key] = intentID
	return nil
}

// CycleIntent returns the intent ID recorded for a cycle.
func (r *InMemoryRepository) CycleIntent(_ context.Context, subscriptionID, cycle string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intentID, ok := r.cycles[subscriptionID+"/"+cycle]
	return intentID, ok, nil
}
