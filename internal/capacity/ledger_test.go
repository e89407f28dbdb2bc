package capacity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/database"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type LedgerTestSuite struct {
	suite.Suite
	db     *gorm.DB
	ledger Ledger
	ctx    context.Context
}

func (suite *LedgerTestSuite) SetupTest() {
	db, err := database.OpenInMemory(uuid.NewString())
	suite.Require().NoError(err)
	suite.db = db
	suite.ledger = NewLedger(db)
	suite.ctx = context.Background()
}

func (suite *LedgerTestSuite) TearDownTest() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *LedgerTestSuite) createFund(max int64, status models.FundStatus) *models.Fund {
	fund := &models.Fund{
		Name:        "Fund " + uuid.NewString()[:8],
		MaxIssuance: max,
		QuotaPrice:  decimal.NewFromInt(10),
		Status:      status,
	}
	suite.Require().NoError(suite.db.Create(fund).Error)
	return fund
}

func (suite *LedgerTestSuite) reserve(fundID uint, qty int64) error {
	return suite.db.Transaction(func(tx *gorm.DB) error {
		return suite.ledger.Reserve(suite.ctx, tx, fundID, qty)
	})
}

func (suite *LedgerTestSuite) TestReserveSequence() {
	fund := suite.createFund(100, models.FundStatusApproved)

	suite.NoError(suite.reserve(fund.ID, 60))
	available, err := suite.ledger.Available(suite.ctx, fund.ID)
	suite.NoError(err)
	suite.Equal(int64(40), available)

	err = suite.reserve(fund.ID, 50)
	var capErr *InsufficientCapacityError
	suite.Require().True(errors.As(err, &capErr))
	suite.Equal(int64(50), capErr.Requested)
	suite.Equal(int64(40), capErr.Available)

	suite.NoError(suite.reserve(fund.ID, 40))
	available, err = suite.ledger.Available(suite.ctx, fund.ID)
	suite.NoError(err)
	suite.Zero(available)
}

func (suite *LedgerTestSuite) TestReserveConcurrentRace() {
	fund := suite.createFund(100, models.FundStatusApproved)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = suite.reserve(fund.ID, 60)
		}(i)
	}
	wg.Wait()

	successes, rejections := 0, 0
	for _, err := range errs {
		var capErr *InsufficientCapacityError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &capErr):
			rejections++
		default:
			suite.Failf("unexpected error", "%v", err)
		}
	}
	suite.Equal(1, successes)
	suite.Equal(1, rejections)

	var reloaded models.Fund
	suite.Require().NoError(suite.db.First(&reloaded, fund.ID).Error)
	suite.Equal(int64(60), reloaded.CommittedQuantity)
}

func (suite *LedgerTestSuite) TestReserveRejectsUnapprovedFund() {
	for _, status := range []models.FundStatus{models.FundStatusPending, models.FundStatusRejected, models.FundStatusClosed} {
		fund := suite.createFund(100, status)
		suite.ErrorIs(suite.reserve(fund.ID, 1), ErrFundNotAcceptingOrders, status)
	}
}

func (suite *LedgerTestSuite) TestReserveUnknownFund() {
	suite.ErrorIs(suite.reserve(999, 1), ErrFundNotFound)
}

func (suite *LedgerTestSuite) TestReserveInvalidQuantity() {
	fund := suite.createFund(100, models.FundStatusApproved)
	var verr *apierror.ValidationError
	suite.True(errors.As(suite.reserve(fund.ID, 0), &verr))
	suite.Contains(verr.Fields, "quantity")
}

func (suite *LedgerTestSuite) TestReserveRolledBackWithTransaction() {
	fund := suite.createFund(100, models.FundStatusApproved)

	err := suite.db.Transaction(func(tx *gorm.DB) error {
		suite.Require().NoError(suite.ledger.Reserve(suite.ctx, tx, fund.ID, 70))
		return errors.New("order insert failed")
	})
	suite.Error(err)

	available, err := suite.ledger.Available(suite.ctx, fund.ID)
	suite.NoError(err)
	suite.Equal(int64(100), available)
}

func (suite *LedgerTestSuite) TestRelease() {
	fund := suite.createFund(100, models.FundStatusApproved)
	suite.Require().NoError(suite.reserve(fund.ID, 30))

	suite.NoError(suite.ledger.Release(suite.ctx, nil, fund.ID, 20))
	available, _ := suite.ledger.Available(suite.ctx, fund.ID)
	suite.Equal(int64(90), available)

	suite.NoError(suite.ledger.Release(suite.ctx, nil, fund.ID, 50))
	available, _ = suite.ledger.Available(suite.ctx, fund.ID)
	suite.Equal(int64(100), available)

	suite.ErrorIs(suite.ledger.Release(suite.ctx, nil, 999, 1), ErrFundNotFound)
}

func (suite *LedgerTestSuite) TestRecount() {
	fund := suite.createFund(100, models.FundStatusApproved)
	orders := []models.Order{
		{OrderID: uuid.NewString(), FundID: fund.ID, InvestorID: "a", Quantity: 10, PaymentStatus: models.PaymentStatusPending},
		{OrderID: uuid.NewString(), FundID: fund.ID, InvestorID: "a", Quantity: 15, PaymentStatus: models.PaymentStatusCompleted, ApprovalStatus: models.ApprovalStatusApproved},
		{OrderID: uuid.NewString(), FundID: fund.ID, InvestorID: "b", Quantity: 40, PaymentStatus: models.PaymentStatusFailed},
	}
	suite.Require().NoError(suite.db.Create(&orders).Error)

	committed, err := suite.ledger.Recount(suite.ctx, fund.ID)
	suite.NoError(err)
	suite.Equal(int64(25), committed)

	available, _ := suite.ledger.Available(suite.ctx, fund.ID)
	suite.Equal(int64(75), available)

	_, err = suite.ledger.Recount(suite.ctx, 999)
	suite.ErrorIs(err, ErrFundNotFound)
}

func (suite *LedgerTestSuite) TestInsufficientCapacityErrorDetails() {
	err := &InsufficientCapacityError{FundID: 3, Requested: 50, Available: 40}
	suite.Equal("capacity: fund 3 has 40 quotas available, 50 requested", err.Error())
	suite.Equal(apierror.Conflict, err.Kind())
	suite.Equal(int64(40), err.Details()["available"])
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}
