package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/irfndi/SimpleFund/internal/models"
	"gorm.io/gorm"
)

var (
	ErrFundNotFound           = apierror.New(apierror.NotFound, "FUND_NOT_FOUND", "capacity: fund not found")
	ErrFundNotAcceptingOrders = apierror.New(apierror.Conflict, "FUND_NOT_APPROVED", "capacity: fund is not accepting orders")
)

// InsufficientCapacityError reports how much of a fund was requested against what remains
type InsufficientCapacityError struct {
	FundID    uint
	Requested int64
	Available int64
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("capacity: fund %d has %d quotas available, %d requested", e.FundID, e.Available, e.Requested)
}

func (e *InsufficientCapacityError) Kind() apierror.Kind { return apierror.Conflict }
func (e *InsufficientCapacityError) Code() string        { return "INSUFFICIENT_CAPACITY" }

func (e *InsufficientCapacityError) Details() map[string]interface{} {
	return map[string]interface{}{
		"fund_id":   e.FundID,
		"requested": e.Requested,
		"available": e.Available,
	}
}

// Ledger maintains the committed quota counter of each fund
type Ledger interface {
	Reserve(ctx context.Context, tx *gorm.DB, fundID uint, quantity int64) error
	Release(ctx context.Context, tx *gorm.DB, fundID uint, quantity int64) error
	Available(ctx context.Context, fundID uint) (int64, error)
	Recount(ctx context.Context, fundID uint) (int64, error)
}

type ledger struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

// NewLedger creates a capacity ledger backed by the funds table
func NewLedger(db *gorm.DB) Ledger {
	return &ledger{db: db, metrics: metrics.GetCollector()}
}

// Reserve adds quantity to the fund's committed counter in a single conditional
// statement. It must run inside the transaction that persists the order.
func (l *ledger) Reserve(ctx context.Context, tx *gorm.DB, fundID uint, quantity int64) error {
	if quantity <= 0 {
		return apierror.NewValidation("quantity", "must be greater than 0")
	}
	if tx == nil {
		tx = l.db
	}

	res := tx.WithContext(ctx).Model(&models.Fund{}).
		Where("id = ? AND status = ? AND committed_quantity + ? <= max_issuance", fundID, models.FundStatusApproved, quantity).
		Update("committed_quantity", gorm.Expr("committed_quantity + ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("reserve capacity: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var fund models.Fund
	if err := tx.WithContext(ctx).First(&fund, fundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFundNotFound
		}
		return fmt.Errorf("load fund: %w", err)
	}
	if fund.Status != models.FundStatusApproved {
		l.metrics.RecordCapacityRejection(fundID, "not_approved")
		return ErrFundNotAcceptingOrders
	}
	l.metrics.RecordCapacityRejection(fundID, "insufficient")
	return &InsufficientCapacityError{FundID: fundID, Requested: quantity, Available: fund.Available()}
}

// Release returns quantity to the fund, never taking the counter below zero
func (l *ledger) Release(ctx context.Context, tx *gorm.DB, fundID uint, quantity int64) error {
	if quantity <= 0 {
		return apierror.NewValidation("quantity", "must be greater than 0")
	}
	if tx == nil {
		tx = l.db
	}

	res := tx.WithContext(ctx).Model(&models.Fund{}).
		Where("id = ?", fundID).
		Update("committed_quantity", gorm.Expr(
			"CASE WHEN committed_quantity >= ? THEN committed_quantity - ? ELSE 0 END", quantity, quantity))
	if res.Error != nil {
		return fmt.Errorf("release capacity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFundNotFound
	}
	return nil
}

// Available returns the number of quotas that can still be reserved
func (l *ledger) Available(ctx context.Context, fundID uint) (int64, error) {
	var fund models.Fund
	if err := l.db.WithContext(ctx).First(&fund, fundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrFundNotFound
		}
		return 0, err
	}
	l.metrics.RecordCommitted(fund.ID, fund.CommittedQuantity)
	return fund.Available(), nil
}

// Recount rebuilds the committed counter from the orders that hold capacity
func (l *ledger) Recount(ctx context.Context, fundID uint) (int64, error) {
	var committed int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fund models.Fund
		if err := tx.First(&fund, fundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFundNotFound
			}
			return err
		}

		if err := tx.Model(&models.Order{}).
			Where("fund_id = ? AND payment_status IN ?", fundID,
				[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusCompleted}).
			Select("COALESCE(SUM(quantity), 0)").
			Scan(&committed).Error; err != nil {
			return fmt.Errorf("sum committed orders: %w", err)
		}

		return tx.Model(&fund).Update("committed_quantity", committed).Error
	})
	if err != nil {
		return 0, err
	}
	l.metrics.RecordCommitted(fundID, committed)
	return committed, nil
}
