package fund

import (
	"context"
	"errors"
	"testing"

	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type MockFundRepository struct {
	mock.Mock
}

func (m *MockFundRepository) Create(ctx context.Context, fund *models.Fund) error {
	args := m.Called(ctx, fund)
	return args.Error(0)
}

func (m *MockFundRepository) GetByID(ctx context.Context, id uint) (*models.Fund, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fund), args.Error(1)
}

func (m *MockFundRepository) List(ctx context.Context, filter ListFilter) ([]*models.Fund, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*models.Fund), args.Error(1)
}

func (m *MockFundRepository) UpdateStatus(ctx context.Context, id uint, status models.FundStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockFundRepository) IncrementIssued(tx *gorm.DB, id uint, quantity int64) error {
	args := m.Called(tx, id, quantity)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Reserve(ctx context.Context, tx *gorm.DB, fundID uint, quantity int64) error {
	return m.Called(ctx, tx, fundID, quantity).Error(0)
}

func (m *MockLedger) Release(ctx context.Context, tx *gorm.DB, fundID uint, quantity int64) error {
	return m.Called(ctx, tx, fundID, quantity).Error(0)
}

func (m *MockLedger) Available(ctx context.Context, fundID uint) (int64, error) {
	args := m.Called(ctx, fundID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) Recount(ctx context.Context, fundID uint) (int64, error) {
	args := m.Called(ctx, fundID)
	return args.Get(0).(int64), args.Error(1)
}

var (
	manager  = auth.Actor{ID: "mgr-1", Role: models.RoleManager}
	investor = auth.Actor{ID: "inv-1", Role: models.RoleInvestor}
)

func TestCreateFund(t *testing.T) {
	repo := new(MockFundRepository)
	svc := NewService(repo, new(MockLedger))
	ctx := context.Background()

	repo.On("Create", ctx, mock.MatchedBy(func(f *models.Fund) bool {
		return f.Name == "Alpha" && f.TokenSymbol == "ALP" && f.ManagerID == "mgr-1" &&
			f.SettlementDestination == "0x52908400098527886E0F7030069857D2E4169EE7"
	})).Return(nil)

	fund, err := svc.CreateFund(ctx, manager, CreateFundInput{
		Name:                  " Alpha ",
		TokenSymbol:           "alp",
		MaxIssuance:           100,
		QuotaPrice:            decimal.NewFromInt(10),
		SettlementDestination: "0x52908400098527886e0f7030069857d2e4169ee7",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", fund.Name)
	repo.AssertExpectations(t)
}

func TestCreateFund_Validation(t *testing.T) {
	svc := NewService(new(MockFundRepository), new(MockLedger))

	_, err := svc.CreateFund(context.Background(), manager, CreateFundInput{
		SettlementDestination: "nowhere",
		Status:                "OPEN",
	})
	var verr *apierror.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "max_issuance")
	assert.Contains(t, verr.Fields, "quota_price")
	assert.Contains(t, verr.Fields, "settlement_destination")
	assert.Contains(t, verr.Fields, "status")
}

func TestCreateFund_RequiresManager(t *testing.T) {
	repo := new(MockFundRepository)
	svc := NewService(repo, new(MockLedger))

	_, err := svc.CreateFund(context.Background(), investor, CreateFundInput{Name: "Alpha", MaxIssuance: 1, QuotaPrice: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGetFund(t *testing.T) {
	repo := new(MockFundRepository)
	svc := NewService(repo, new(MockLedger))
	ctx := context.Background()

	repo.On("GetByID", ctx, uint(1)).Return(&models.Fund{ID: 1}, nil)
	repo.On("GetByID", ctx, uint(2)).Return(nil, nil)

	fund, err := svc.GetFund(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), fund.ID)

	_, err = svc.GetFund(ctx, 2)
	assert.ErrorIs(t, err, ErrFundNotFound)

	_, err = svc.GetFund(ctx, 0)
	assert.ErrorIs(t, err, ErrFundNotFound)
}

func TestListFunds_Defaults(t *testing.T) {
	repo := new(MockFundRepository)
	svc := NewService(repo, new(MockLedger))
	ctx := context.Background()

	repo.On("List", ctx, ListFilter{Status: models.FundStatusApproved, Limit: 20, Offset: 0}).Return([]*models.Fund{{ID: 1}}, nil)

	funds, err := svc.ListFunds(ctx, ListFilter{Status: models.FundStatusApproved, Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Len(t, funds, 1)

	_, err = svc.ListFunds(ctx, ListFilter{Status: "OPEN"})
	var verr *apierror.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestUpdateStatus(t *testing.T) {
	repo := new(MockFundRepository)
	svc := NewService(repo, new(MockLedger))
	ctx := context.Background()

	repo.On("UpdateStatus", ctx, uint(1), models.FundStatusApproved).Return(nil)
	repo.On("GetByID", ctx, uint(1)).Return(&models.Fund{ID: 1, Status: models.FundStatusApproved}, nil)
	repo.On("UpdateStatus", ctx, uint(9), models.FundStatusClosed).Return(gorm.ErrRecordNotFound)

	fund, err := svc.UpdateStatus(ctx, manager, 1, models.FundStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.FundStatusApproved, fund.Status)

	_, err = svc.UpdateStatus(ctx, manager, 9, models.FundStatusClosed)
	assert.ErrorIs(t, err, ErrFundNotFound)

	_, err = svc.UpdateStatus(ctx, investor, 1, models.FundStatusApproved)
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestRecount(t *testing.T) {
	ledger := new(MockLedger)
	svc := NewService(new(MockFundRepository), ledger)
	ctx := context.Background()

	ledger.On("Recount", ctx, uint(4)).Return(int64(25), nil)

	committed, err := svc.Recount(ctx, manager, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(25), committed)

	_, err = svc.Recount(ctx, investor, 4)
	assert.ErrorIs(t, err, auth.ErrForbidden)
}
