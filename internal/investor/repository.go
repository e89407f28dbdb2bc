package investor

import (
	"context"
	"errors"
	"time"

	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvestorRepository interface defines investor database operations
type InvestorRepository interface {
	GetByInvestorID(ctx context.Context, investorID string) (*models.Investor, error)
	Ensure(ctx context.Context, investorID, role string) (*models.Investor, error)
	UpdateWallet(ctx context.Context, investorID, address string) error
	CompletedAmounts(ctx context.Context, investorID string) ([]decimal.Decimal, error)
	UpdateTotals(ctx context.Context, investorID string, total decimal.Decimal, count int64, at time.Time) error
}

type investorRepository struct {
	db *gorm.DB
}

// NewInvestorRepository creates a new investor repository
func NewInvestorRepository(db *gorm.DB) InvestorRepository {
	return &investorRepository{db: db}
}

// GetByInvestorID retrieves an investor by the identity provider's subject
func (r *investorRepository) GetByInvestorID(ctx context.Context, investorID string) (*models.Investor, error) {
	if investorID == "" {
		return nil, errors.New("investor id cannot be empty")
	}

	var inv models.Investor
	err := r.db.WithContext(ctx).Where("investor_id = ?", investorID).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

// Ensure returns the investor row, creating it on first sight
func (r *investorRepository) Ensure(ctx context.Context, investorID, role string) (*models.Investor, error) {
	if investorID == "" {
		return nil, errors.New("investor id cannot be empty")
	}

	inv := models.Investor{}
	err := r.db.WithContext(ctx).
		Where(models.Investor{InvestorID: investorID}).
		Attrs(models.Investor{Roles: pq.StringArray{role}}).
		FirstOrCreate(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateWallet sets the registered wallet address
func (r *investorRepository) UpdateWallet(ctx context.Context, investorID, address string) error {
	res := r.db.WithContext(ctx).Model(&models.Investor{}).
		Where("investor_id = ?", investorID).
		Update("wallet_address", address)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CompletedAmounts returns the total amount of every paid order that was not refunded
func (r *investorRepository) CompletedAmounts(ctx context.Context, investorID string) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("investor_id = ? AND payment_status = ? AND approval_status <> ?",
			investorID, models.PaymentStatusCompleted, models.ApprovalStatusRejected).
		Pluck("total_amount", &amounts).Error
	return amounts, err
}

// UpdateTotals stores the recomputed aggregate, creating the row when needed
func (r *investorRepository) UpdateTotals(ctx context.Context, investorID string, total decimal.Decimal, count int64, at time.Time) error {
	if _, err := r.Ensure(ctx, investorID, models.RoleInvestor); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Investor{}).
		Where("investor_id = ?", investorID).
		Updates(map[string]interface{}{
			"total_invested":   total,
			"completed_orders": count,
			"recomputed_at":    at,
		}).Error
}
