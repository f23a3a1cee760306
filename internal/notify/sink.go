// Package notify provides the decoupled post-settlement notification sink.
//
// Completion events are a fire-once message send: a notification failure is
// logged and dropped, never rolled back into a financial state transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the redis list completion events are pushed onto. The delivery
// workers (email, push) consume from the other side.
const QueueKey = "wihngo:payments:completed"

// Event is a completion notification.
type Event struct {
	Type        string    `json:"type"`
	IntentID    string    `json:"intent_id"`
	BirdID      string    `json:"bird_id,omitempty"`
	OwnerDID    string    `json:"owner_did,omitempty"`
	Contact     string    `json:"contact,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventTypePaymentCompleted is emitted once when an intent completes.
const EventTypePaymentCompleted = "payment.completed"

// Sink accepts completion events. Implementations must be cheap and must not
// block settlement.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// RedisSink enqueues events onto a redis list.
type RedisSink struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisSink creates a new RedisSink.
func NewRedisSink(client *redis.Client, logger *slog.Logger) *RedisSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{
		client: client,
		logger: logger,
	}
}

// Notify pushes the event onto the queue.
func (s *RedisSink) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.LPush(ctx, QueueKey, payload).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue notification",
			"intent_id", event.IntentID, "error", err)
		return err
	}
	return nil
}

// MemorySink collects events in memory, for tests and local development.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates a new MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Notify records the event.
func (s *MemorySink) Notify(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
