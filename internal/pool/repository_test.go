package pool

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/irfndi/SimpleFund/internal/database"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type PoolRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo PoolRepository
	fund *models.Fund
	ctx  context.Context
}

func (suite *PoolRepositoryTestSuite) SetupTest() {
	db, err := database.OpenInMemory(uuid.NewString())
	suite.Require().NoError(err)
	suite.db = db
	suite.repo = NewPoolRepository(db)
	suite.ctx = context.Background()

	suite.fund = &models.Fund{Name: "Alpha", MaxIssuance: 10, QuotaPrice: decimal.NewFromInt(1)}
	suite.Require().NoError(db.Create(suite.fund).Error)
}

func (suite *PoolRepositoryTestSuite) TearDownTest() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *PoolRepositoryTestSuite) TestCreateAndGet() {
	pool := &models.Pool{FundID: suite.fund.ID, CurrentBalance: decimal.NewFromInt(5)}
	suite.NoError(suite.repo.Create(suite.ctx, pool))
	suite.NotZero(pool.ID)
	suite.Equal(models.PoolStatusActive, pool.Status)

	byID, err := suite.repo.GetByID(suite.ctx, pool.ID)
	suite.NoError(err)
	suite.Require().NotNil(byID)
	suite.True(byID.CurrentBalance.Equal(decimal.NewFromInt(5)))

	byFund, err := suite.repo.GetByFundID(suite.ctx, suite.fund.ID)
	suite.NoError(err)
	suite.Require().NotNil(byFund)
	suite.Equal(pool.ID, byFund.ID)
}

func (suite *PoolRepositoryTestSuite) TestNotFoundAndInvalid() {
	pool, err := suite.repo.GetByID(suite.ctx, 77)
	suite.NoError(err)
	suite.Nil(pool)

	_, err = suite.repo.GetByID(suite.ctx, 0)
	suite.EqualError(err, "id cannot be zero")

	suite.EqualError(suite.repo.Create(suite.ctx, nil), "pool cannot be nil")
	suite.Error(suite.repo.Create(suite.ctx, &models.Pool{}))
}

func (suite *PoolRepositoryTestSuite) TestLedgerEntries() {
	pool := &models.Pool{FundID: suite.fund.ID}
	suite.Require().NoError(suite.repo.Create(suite.ctx, pool))

	err := suite.db.Transaction(func(tx *gorm.DB) error {
		locked, err := suite.repo.LockForUpdate(tx, pool.ID)
		suite.Require().NoError(err)
		suite.Require().NotNil(locked)

		locked.CurrentBalance = decimal.NewFromInt(30)
		locked.TotalDeposited = decimal.NewFromInt(30)
		if err := suite.repo.SaveBalances(tx, locked); err != nil {
			return err
		}
		return suite.repo.AddTransaction(tx, &models.PoolTransaction{
			PoolID:       pool.ID,
			Kind:         models.PoolTxDeposit,
			Reference:    "r1",
			Amount:       decimal.NewFromInt(30),
			BalanceAfter: decimal.NewFromInt(30),
		})
	})
	suite.Require().NoError(err)

	seen, err := suite.repo.HasTransaction(suite.db, pool.ID, models.PoolTxDeposit, "r1")
	suite.NoError(err)
	suite.True(seen)
	seen, err = suite.repo.HasTransaction(suite.db, pool.ID, models.PoolTxWithdraw, "r1")
	suite.NoError(err)
	suite.False(seen)

	entries, err := suite.repo.Transactions(suite.ctx, pool.ID, 10, 0)
	suite.NoError(err)
	suite.Len(entries, 1)

	stored, err := suite.repo.GetByID(suite.ctx, pool.ID)
	suite.NoError(err)
	suite.True(stored.CurrentBalance.Equal(decimal.NewFromInt(30)))

	list, err := suite.repo.List(suite.ctx, ListFilter{Status: models.PoolStatusActive, Limit: 10})
	suite.NoError(err)
	suite.Len(list, 1)
}

func TestPoolRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(PoolRepositoryTestSuite))
}
