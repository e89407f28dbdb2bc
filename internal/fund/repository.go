package fund

import (
	"context"
	"errors"

	"github.com/irfndi/SimpleFund/internal/models"
	"gorm.io/gorm"
)

// ListFilter narrows fund listings
type ListFilter struct {
	Status models.FundStatus
	Limit  int
	Offset int
}

// FundRepository interface defines fund database operations
type FundRepository interface {
	Create(ctx context.Context, fund *models.Fund) error
	GetByID(ctx context.Context, id uint) (*models.Fund, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Fund, error)
	UpdateStatus(ctx context.Context, id uint, status models.FundStatus) error
	IncrementIssued(tx *gorm.DB, id uint, quantity int64) error
}

type fundRepository struct {
	db *gorm.DB
}

// NewFundRepository creates a new fund repository
func NewFundRepository(db *gorm.DB) FundRepository {
	return &fundRepository{db: db}
}

// Create creates a new fund
func (r *fundRepository) Create(ctx context.Context, fund *models.Fund) error {
	if fund == nil {
		return errors.New("fund cannot be nil")
	}
	return r.db.WithContext(ctx).Create(fund).Error
}

// GetByID retrieves a fund by its ID
func (r *fundRepository) GetByID(ctx context.Context, id uint) (*models.Fund, error) {
	if id == 0 {
		return nil, errors.New("id cannot be zero")
	}

	var fund models.Fund
	err := r.db.WithContext(ctx).First(&fund, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fund, nil
}

// List retrieves funds, newest first
func (r *fundRepository) List(ctx context.Context, filter ListFilter) ([]*models.Fund, error) {
	var funds []*models.Fund
	query := r.db.WithContext(ctx).Order("id DESC").Limit(filter.Limit).Offset(filter.Offset)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	err := query.Find(&funds).Error
	return funds, err
}

// UpdateStatus sets the master-data status of a fund
func (r *fundRepository) UpdateStatus(ctx context.Context, id uint, status models.FundStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Fund{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementIssued records quotas distributed to investors, inside the caller's transaction
func (r *fundRepository) IncrementIssued(tx *gorm.DB, id uint, quantity int64) error {
	return tx.Model(&models.Fund{}).Where("id = ?", id).
		Update("total_issued", gorm.Expr("total_issued + ?", quantity)).Error
}
