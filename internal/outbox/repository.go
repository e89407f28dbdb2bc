package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/SimpleFund/internal/models"
	"gorm.io/gorm"
)

// OutboxRepository interface defines outbox database operations
type OutboxRepository interface {
	Enqueue(tx *gorm.DB, eventType, aggregateID string, payload interface{}) (*models.OutboxEvent, error)
	GetByID(ctx context.Context, id uint) (*models.OutboxEvent, error)
	Due(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error)
	Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) (bool, error)
	MarkDone(ctx context.Context, id uint, attempts int, at time.Time) error
	MarkRetry(ctx context.Context, id uint, attempts int, lastErr string, next time.Time) error
	MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error
	CountPending(ctx context.Context) (int64, error)
	List(ctx context.Context, status models.OutboxStatus, limit int) ([]models.OutboxEvent, error)
	Requeue(ctx context.Context, id uint, now time.Time) error
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Enqueue records an event inside the caller's transaction
func (r *outboxRepository) Enqueue(tx *gorm.DB, eventType, aggregateID string, payload interface{}) (*models.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := &models.OutboxEvent{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     string(body),
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// GetByID retrieves an outbox event by its ID
func (r *outboxRepository) GetByID(ctx context.Context, id uint) (*models.OutboxEvent, error) {
	if id == 0 {
		return nil, errors.New("id cannot be zero")
	}

	var event models.OutboxEvent
	err := r.db.WithContext(ctx).First(&event, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Due returns pending events whose next attempt is at or before now, oldest first
func (r *outboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	var due []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&due).Error
	return due, err
}

// Claim leases a due event to the caller by pushing its next attempt past the lease.
// Exactly one of several concurrent claimers succeeds.
func (r *outboxRepository) Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", id, models.OutboxPending, now).
		Update("next_attempt_at", now.Add(lease))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkDone records successful delivery
func (r *outboxRepository) MarkDone(ctx context.Context, id uint, attempts int, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.OutboxDone,
			"attempts":     attempts,
			"last_error":   "",
			"processed_at": at,
		}).Error
}

// MarkRetry schedules another attempt
func (r *outboxRepository) MarkRetry(ctx context.Context, id uint, attempts int, lastErr string, next time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"last_error":      lastErr,
			"next_attempt_at": next,
		}).Error
}

// MarkFailed parks the event for manual reconciliation
func (r *outboxRepository) MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxFailed,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error
}

// CountPending returns the number of undelivered events
func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ?", models.OutboxPending).
		Count(&count).Error
	return count, err
}

// List returns events in status, newest first
func (r *outboxRepository) List(ctx context.Context, status models.OutboxStatus, limit int) ([]models.OutboxEvent, error) {
	var list []models.OutboxEvent
	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Find(&list).Error
	return list, err
}

// Requeue moves a FAILED event back to PENDING with a fresh attempt budget
func (r *outboxRepository) Requeue(ctx context.Context, id uint, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxFailed).
		Updates(map[string]interface{}{
			"status":          models.OutboxPending,
			"attempts":        0,
			"next_attempt_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
