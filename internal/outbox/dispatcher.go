package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/sirupsen/logrus"
)

const maxBackoff = time.Hour

// HandlerFunc applies one side effect of an event. Handlers must be idempotent:
// a failed delivery reruns every handler of the event.
type HandlerFunc func(ctx context.Context, event models.OutboxEvent) error

// Dispatcher delivers outbox events to their side-effect handlers and then to the publisher
type Dispatcher struct {
	repo        OutboxRepository
	publisher   events.Publisher
	maxAttempts int
	baseBackoff time.Duration
	lease       time.Duration
	batchSize   int
	now         func() time.Time
	metrics     *metrics.Collector

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewDispatcher creates a dispatcher. A nil publisher discards events after the handlers run.
func NewDispatcher(repo OutboxRepository, publisher events.Publisher, cfg config.WorkerConfig) *Dispatcher {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	d := &Dispatcher{
		repo:        repo,
		publisher:   publisher,
		maxAttempts: cfg.OutboxMaxAttempts,
		baseBackoff: cfg.OutboxBaseBackoff,
		lease:       time.Minute,
		batchSize:   cfg.OutboxBatchSize,
		now:         func() time.Time { return time.Now().UTC() },
		metrics:     metrics.GetCollector(),
		handlers:    make(map[string][]HandlerFunc),
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 10
	}
	if d.baseBackoff <= 0 {
		d.baseBackoff = 5 * time.Second
	}
	if d.batchSize <= 0 {
		d.batchSize = 50
	}
	return d
}

// RegisterHandler adds a side effect for eventType
func (d *Dispatcher) RegisterHandler(eventType string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], fn)
}

// Dispatch delivers a single event if it is still due. Used right after the
// transaction that enqueued it commits; the worker picks up anything left behind.
func (d *Dispatcher) Dispatch(ctx context.Context, id uint) error {
	event, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if event == nil || event.Status != models.OutboxPending {
		return nil
	}
	return d.claimAndProcess(ctx, *event)
}

// DispatchPending delivers up to one batch of due events and returns how many were delivered
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	due, err := d.repo.Due(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due events: %w", err)
	}

	delivered := 0
	for _, event := range due {
		if ctx.Err() != nil {
			break
		}
		if err := d.claimAndProcess(ctx, event); err == nil {
			delivered++
		}
	}

	if pending, err := d.repo.CountPending(ctx); err == nil {
		d.metrics.OutboxBacklog.Set(float64(pending))
	}
	return delivered, nil
}

var errNotClaimed = errors.New("outbox: event claimed elsewhere")

func (d *Dispatcher) claimAndProcess(ctx context.Context, event models.OutboxEvent) error {
	now := d.now()
	claimed, err := d.repo.Claim(ctx, event.ID, now, d.lease)
	if err != nil {
		return err
	}
	if !claimed {
		return errNotClaimed
	}

	attempts := event.Attempts + 1
	deliveryErr := d.deliver(ctx, event)
	d.metrics.RecordOutboxDispatch(event.EventType, deliveryErr)

	logger := logrus.WithFields(logrus.Fields{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"attempt":      attempts,
	})

	if deliveryErr == nil {
		if err := d.repo.MarkDone(ctx, event.ID, attempts, d.now()); err != nil {
			logger.WithError(err).Error("Failed to mark outbox event done")
			return err
		}
		logger.Debug("Outbox event delivered")
		return nil
	}

	if attempts >= d.maxAttempts {
		logger.WithError(deliveryErr).Error("Outbox event failed permanently, manual reconciliation required")
		if err := d.repo.MarkFailed(ctx, event.ID, attempts, deliveryErr.Error()); err != nil {
			logger.WithError(err).Error("Failed to mark outbox event failed")
		}
		return deliveryErr
	}

	next := d.now().Add(d.backoff(attempts))
	logger.WithError(deliveryErr).WithField("next_attempt_at", next).Warn("Outbox event delivery failed, will retry")
	if err := d.repo.MarkRetry(ctx, event.ID, attempts, deliveryErr.Error(), next); err != nil {
		logger.WithError(err).Error("Failed to reschedule outbox event")
	}
	return deliveryErr
}

func (d *Dispatcher) deliver(ctx context.Context, event models.OutboxEvent) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType]
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}

	return d.publisher.Publish(ctx, ToEvent(event))
}

// backoff doubles per attempt: base, 2*base, 4*base ... capped at maxBackoff
func (d *Dispatcher) backoff(attempts int) time.Duration {
	wait := d.baseBackoff
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

// ToEvent converts a stored outbox row to its published form
func ToEvent(e models.OutboxEvent) events.Event {
	return events.Event{
		ID:          e.ID,
		Type:        e.EventType,
		AggregateID: e.AggregateID,
		Payload:     json.RawMessage(e.Payload),
		OccurredAt:  e.CreatedAt,
	}
}

// Decode unmarshals the payload of e into v
func Decode(e models.OutboxEvent, v interface{}) error {
	if err := json.Unmarshal([]byte(e.Payload), v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.EventType, err)
	}
	return nil
}
