package outbox

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Recorder is the write side used by services: Record inside the state-changing
// transaction, Flush after it commits.
type Recorder struct {
	repo       OutboxRepository
	dispatcher *Dispatcher
}

// NewRecorder creates a recorder. With a nil dispatcher, Flush leaves delivery to the worker.
func NewRecorder(repo OutboxRepository, dispatcher *Dispatcher) *Recorder {
	return &Recorder{repo: repo, dispatcher: dispatcher}
}

// Record enqueues an event in tx and returns its id
func (r *Recorder) Record(tx *gorm.DB, eventType, aggregateID string, payload interface{}) (uint, error) {
	event, err := r.repo.Enqueue(tx, eventType, aggregateID, payload)
	if err != nil {
		return 0, err
	}
	return event.ID, nil
}

// Flush attempts immediate delivery of committed events. Failures are logged and
// left for the worker to retry.
func (r *Recorder) Flush(ctx context.Context, ids ...uint) {
	if r.dispatcher == nil {
		return
	}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := r.dispatcher.Dispatch(ctx, id); err != nil {
			logrus.WithError(err).WithField("event_id", id).Warn("Side effect delivery deferred to worker")
		}
	}
}
