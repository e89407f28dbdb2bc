package fund

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

// FundRepositoryTestSuite provides tests for the fund repository
type FundRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo FundRepository
	ctx  context.Context
}

func (suite *FundRepositoryTestSuite) SetupTest() {
	db, err := database.OpenInMemory(uuid.NewString())
	suite.Require().NoError(err)
	suite.db = db
	suite.repo = NewFundRepository(db)
	suite.ctx = context.Background()
}

func (suite *FundRepositoryTestSuite) TearDownTest() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *FundRepositoryTestSuite) newFund(name string, status models.FundStatus) *models.Fund {
	return &models.Fund{
		Name:        name,
		MaxIssuance: 100,
		QuotaPrice:  decimal.NewFromFloat(12.5),
		Status:      status,
	}
}

func (suite *FundRepositoryTestSuite) TestCreateAndGet() {
	fund := suite.newFund("Alpha", "")
	suite.Require().NoError(suite.repo.Create(suite.ctx, fund))
	suite.NotZero(fund.ID)

	got, err := suite.repo.GetByID(suite.ctx, fund.ID)
	suite.NoError(err)
	suite.Require().NotNil(got)
	suite.Equal(models.FundStatusPending, got.Status)
	suite.True(got.QuotaPrice.Equal(decimal.NewFromFloat(12.5)))
}

func (suite *FundRepositoryTestSuite) TestCreateNil() {
	err := suite.repo.Create(suite.ctx, nil)
	suite.Error(err)
	suite.Contains(err.Error(), "fund cannot be nil")
}

func (suite *FundRepositoryTestSuite) TestGetByIDNotFound() {
	got, err := suite.repo.GetByID(suite.ctx, 999)
	suite.NoError(err)
	suite.Nil(got)

	_, err = suite.repo.GetByID(suite.ctx, 0)
	suite.EqualError(err, "id cannot be zero")
}

func (suite *FundRepositoryTestSuite) TestListFiltersByStatus() {
	suite.Require().NoError(suite.repo.Create(suite.ctx, suite.newFund("A", models.FundStatusApproved)))
	suite.Require().NoError(suite.repo.Create(suite.ctx, suite.newFund("B", models.FundStatusPending)))
	suite.Require().NoError(suite.repo.Create(suite.ctx, suite.newFund("C", models.FundStatusApproved)))

	approved, err := suite.repo.List(suite.ctx, ListFilter{Status: models.FundStatusApproved, Limit: 10})
	suite.NoError(err)
	suite.Len(approved, 2)
	suite.Equal("C", approved[0].Name)

	page, err := suite.repo.List(suite.ctx, ListFilter{Limit: 1, Offset: 1})
	suite.NoError(err)
	suite.Len(page, 1)
	suite.Equal("B", page[0].Name)
}

func (suite *FundRepositoryTestSuite) TestUpdateStatus() {
	fund := suite.newFund("A", models.FundStatusPending)
	suite.Require().NoError(suite.repo.Create(suite.ctx, fund))

	suite.NoError(suite.repo.UpdateStatus(suite.ctx, fund.ID, models.FundStatusApproved))
	got, _ := suite.repo.GetByID(suite.ctx, fund.ID)
	suite.Equal(models.FundStatusApproved, got.Status)

	suite.ErrorIs(suite.repo.UpdateStatus(suite.ctx, 999, models.FundStatusClosed), gorm.ErrRecordNotFound)
}

func (suite *FundRepositoryTestSuite) TestIncrementIssued() {
	fund := suite.newFund("A", models.FundStatusApproved)
	suite.Require().NoError(suite.repo.Create(suite.ctx, fund))

	err := suite.db.Transaction(func(tx *gorm.DB) error {
		return suite.repo.IncrementIssued(tx, fund.ID, 7)
	})
	suite.NoError(err)

	got, _ := suite.repo.GetByID(suite.ctx, fund.ID)
	suite.Equal(int64(7), got.TotalIssued)
}

func TestFundRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(FundRepositoryTestSuite))
}
