package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Domain event types
const (
	OrderCreated   = "order.created"
	OrderCompleted = "order.completed"
	OrderCancelled = "order.cancelled"
	OrderApproved  = "order.approved"
	OrderRejected  = "order.rejected"
	OrderVerified  = "order.verified"
	PoolUpdated    = "pool.updated"
)

// Event is a domain fact delivered to external subscribers
type Event struct {
	ID          uint            `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Publisher delivers events to a transport
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// MultiPublisher fans an event out to every configured transport
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher skips nil publishers so optional transports can be passed directly
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Publish attempts every transport and returns the joined failures
func (m *MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of transports
func (m *MultiPublisher) Len() int {
	return len(m.publishers)
}

// NoopPublisher discards events
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
