// Package payment provides webhook event tracking for idempotency.
package payment

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventAlreadyProcessed signals a duplicate webhook delivery.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// WebhookEvent is one processed Stripe event. Stripe delivers at least
// once, so the handler records every event here before acting on it.
type WebhookEvent struct {
	ID          string
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// WebhookRepository tracks which Stripe events have been handled.
type WebhookRepository interface {
	// RecordEvent marks an event as processed, returning
	// ErrEventAlreadyProcessed on a duplicate.
	RecordEvent(eventID, eventType string) error

	// HasProcessed reports whether an event was recorded before.
	HasProcessed(eventID string) (bool, error)
}

// InMemoryWebhookRepository keeps processed events in a map, for tests and
// single-process runs.
type InMemoryWebhookRepository struct {
	mu     sync.RWMutex
	events map[string]*WebhookEvent
}

func NewInMemoryWebhookRepository() *InMemoryWebhookRepository {
	return &InMemoryWebhookRepository{events: make(map[string]*WebhookEvent)}
}

func (r *InMemoryWebhookRepository) RecordEvent(eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[eventID]; exists {
		return ErrEventAlreadyProcessed
	}
	r.events[eventID] = &WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}

func (r *InMemoryWebhookRepository) HasProcessed(eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.events[eventID]
	return exists, nil
}
