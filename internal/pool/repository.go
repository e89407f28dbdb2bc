package pool

import (
	"context"
	"errors"

	"github.com/irfndi/SimpleFund/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListFilter narrows pool listings
type ListFilter struct {
	Status models.PoolStatus
	Limit  int
	Offset int
}

// PoolRepository interface defines pool database operations
type PoolRepository interface {
	Create(ctx context.Context, pool *models.Pool) error
	GetByID(ctx context.Context, id uint) (*models.Pool, error)
	GetByFundID(ctx context.Context, fundID uint) (*models.Pool, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Pool, error)
	LockForUpdate(tx *gorm.DB, id uint) (*models.Pool, error)
	SaveBalances(tx *gorm.DB, pool *models.Pool) error
	HasTransaction(tx *gorm.DB, poolID uint, kind models.PoolTransactionKind, reference string) (bool, error)
	AddTransaction(tx *gorm.DB, entry *models.PoolTransaction) error
	Transactions(ctx context.Context, poolID uint, limit, offset int) ([]models.PoolTransaction, error)
}

// poolRepository implements PoolRepository interface
type poolRepository struct {
	db *gorm.DB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *gorm.DB) PoolRepository {
	return &poolRepository{db: db}
}

// Create creates a new pool
func (r *poolRepository) Create(ctx context.Context, pool *models.Pool) error {
	if pool == nil {
		return errors.New("pool cannot be nil")
	}
	return r.db.WithContext(ctx).Create(pool).Error
}

// GetByID retrieves a pool by its ID
func (r *poolRepository) GetByID(ctx context.Context, id uint) (*models.Pool, error) {
	if id == 0 {
		return nil, errors.New("id cannot be zero")
	}
	return first(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetByFundID retrieves the pool of a fund
func (r *poolRepository) GetByFundID(ctx context.Context, fundID uint) (*models.Pool, error) {
	if fundID == 0 {
		return nil, errors.New("fund id cannot be zero")
	}
	return first(r.db.WithContext(ctx).Where("fund_id = ?", fundID))
}

// List retrieves pools with pagination
func (r *poolRepository) List(ctx context.Context, filter ListFilter) ([]*models.Pool, error) {
	var pools []*models.Pool
	query := r.db.WithContext(ctx).Order("id ASC").Limit(filter.Limit).Offset(filter.Offset)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	err := query.Find(&pools).Error
	return pools, err
}

// LockForUpdate loads the pool row with an exclusive row lock held until tx ends
func (r *poolRepository) LockForUpdate(tx *gorm.DB, id uint) (*models.Pool, error) {
	return first(tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

// SaveBalances writes the mutable ledger columns of pool
func (r *poolRepository) SaveBalances(tx *gorm.DB, pool *models.Pool) error {
	return tx.Model(pool).
		Select("total_deposited", "total_withdrawn", "principal_withdrawn", "current_balance",
			"yield_earned", "apy", "status", "last_yield_update", "updated_at").
		Updates(pool).Error
}

// HasTransaction reports whether a ledger entry already exists for reference
func (r *poolRepository) HasTransaction(tx *gorm.DB, poolID uint, kind models.PoolTransactionKind, reference string) (bool, error) {
	var count int64
	err := tx.Model(&models.PoolTransaction{}).
		Where("pool_id = ? AND kind = ? AND reference = ?", poolID, kind, reference).
		Count(&count).Error
	return count > 0, err
}

// AddTransaction appends a ledger entry
func (r *poolRepository) AddTransaction(tx *gorm.DB, entry *models.PoolTransaction) error {
	return tx.Create(entry).Error
}

// Transactions lists ledger entries of a pool, newest first
func (r *poolRepository) Transactions(ctx context.Context, poolID uint, limit, offset int) ([]models.PoolTransaction, error) {
	var entries []models.PoolTransaction
	err := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

func first(query *gorm.DB) (*models.Pool, error) {
	var pool models.Pool
	if err := query.First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}
