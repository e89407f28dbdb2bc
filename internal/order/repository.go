package order

import (
	"context"
	"errors"
	"time"

	"github.com/irfndi/SimpleFund/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListFilter narrows order listings. An empty InvestorID lists every investor.
type ListFilter struct {
	InvestorID     string
	FundID         uint
	PaymentStatus  models.PaymentStatus
	ApprovalStatus models.ApprovalStatus
	Limit          int
	Offset         int
}

// State is the pair of status axes a transition expects to find
type State struct {
	Payment  models.PaymentStatus
	Approval models.ApprovalStatus
}

// OrderRepository interface defines order database operations
type OrderRepository interface {
	Create(tx *gorm.DB, order *models.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	LockByOrderID(tx *gorm.DB, orderID string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Order, error)
	Transition(tx *gorm.DB, id uint, from State, updates map[string]interface{}) (bool, error)
	ReferenceInUse(tx *gorm.DB, reference string, excludeID uint) (bool, error)
	Unverified(ctx context.Context, limit int) ([]*models.Order, error)
	SetVerification(tx *gorm.DB, id uint, status models.VerificationStatus, note string) (bool, error)
}

// orderRepository implements OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts an order inside the caller's transaction
func (r *orderRepository) Create(tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	return tx.Create(order).Error
}

// GetByOrderID retrieves an order by its public id
func (r *orderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, errors.New("order id cannot be empty")
	}
	return first(r.db.WithContext(ctx).Where("order_id = ?", orderID))
}

// LockByOrderID loads an order with a row lock held until tx ends
func (r *orderRepository) LockByOrderID(tx *gorm.DB, orderID string) (*models.Order, error) {
	return first(tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("order_id = ?", orderID))
}

// List retrieves orders with filters and pagination, newest first
func (r *orderRepository) List(ctx context.Context, filter ListFilter) ([]*models.Order, error) {
	var orders []*models.Order
	query := r.db.WithContext(ctx).Order("id DESC").Limit(filter.Limit).Offset(filter.Offset)
	if filter.InvestorID != "" {
		query = query.Where("investor_id = ?", filter.InvestorID)
	}
	if filter.FundID != 0 {
		query = query.Where("fund_id = ?", filter.FundID)
	}
	if filter.PaymentStatus != "" {
		query = query.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.ApprovalStatus != "" {
		query = query.Where("approval_status = ?", filter.ApprovalStatus)
	}
	err := query.Find(&orders).Error
	return orders, err
}

// Transition applies updates only if the order is still in state from.
// It reports false when another caller moved the order first.
func (r *orderRepository) Transition(tx *gorm.DB, id uint, from State, updates map[string]interface{}) (bool, error) {
	query := tx.Model(&models.Order{}).Where("id = ? AND payment_status = ?", id, from.Payment)
	if from.Approval == models.ApprovalStatusNone {
		query = query.Where("(approval_status = '' OR approval_status IS NULL)")
	} else {
		query = query.Where("approval_status = ?", from.Approval)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReferenceInUse reports whether another order already recorded reference as its payment
func (r *orderRepository) ReferenceInUse(tx *gorm.DB, reference string, excludeID uint) (bool, error) {
	var count int64
	err := tx.Model(&models.Order{}).
		Where("payment_reference = ? AND id <> ?", reference, excludeID).
		Count(&count).Error
	return count > 0, err
}

// Unverified returns completed orders whose payment reference has not been checked yet, oldest first
func (r *orderRepository) Unverified(ctx context.Context, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND verification_status = ?", models.PaymentStatusCompleted, models.VerificationUnverified).
		Order("completed_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// SetVerification records the outcome of a reference check if the order is still unverified
func (r *orderRepository) SetVerification(tx *gorm.DB, id uint, status models.VerificationStatus, note string) (bool, error) {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND verification_status = ?", id, models.VerificationUnverified).
		Updates(map[string]interface{}{
			"verification_status": status,
			"verification_note":   note,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func first(query *gorm.DB) (*models.Order, error) {
	var order models.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}
