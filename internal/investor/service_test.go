package investor

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/database"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type InvestorServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	repo    InvestorRepository
	service *service
	ctx     context.Context
	now     time.Time
	fund    *models.Fund
}

func (suite *InvestorServiceTestSuite) SetupTest() {
	db, err := database.OpenInMemory(uuid.NewString())
	suite.Require().NoError(err)
	suite.db = db
	suite.repo = NewInvestorRepository(db)
	suite.now = time.Unix(1_700_000_000, 0)
	suite.service = &service{repo: suite.repo, now: func() time.Time { return suite.now }}
	suite.ctx = context.Background()

	suite.fund = &models.Fund{Name: "Alpha", MaxIssuance: 100, QuotaPrice: decimal.NewFromInt(10), Status: models.FundStatusApproved}
	suite.Require().NoError(db.Create(suite.fund).Error)
}

func (suite *InvestorServiceTestSuite) TearDownTest() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *InvestorServiceTestSuite) signProof(investorID string, ts int64) (string, string) {
	key, err := crypto.GenerateKey()
	suite.Require().NoError(err)
	msg := auth.WalletProofMessage(investorID, ts)
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
	sig, err := crypto.Sign(hash.Bytes(), key)
	suite.Require().NoError(err)
	sig[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func (suite *InvestorServiceTestSuite) addOrder(investorID string, amount int64, payment models.PaymentStatus, approval models.ApprovalStatus) {
	order := &models.Order{
		OrderID:        uuid.NewString(),
		FundID:         suite.fund.ID,
		InvestorID:     investorID,
		Quantity:       1,
		UnitPrice:      decimal.NewFromInt(amount),
		TotalAmount:    decimal.NewFromInt(amount),
		PaymentStatus:  payment,
		ApprovalStatus: approval,
	}
	suite.Require().NoError(suite.db.Create(order).Error)
}

func (suite *InvestorServiceTestSuite) TestProfileCreatesOnFirstSight() {
	actor := auth.Actor{ID: "inv-1", Role: models.RoleInvestor}

	inv, err := suite.service.Profile(suite.ctx, actor)
	suite.NoError(err)
	suite.Equal("inv-1", inv.InvestorID)
	suite.Equal([]string{models.RoleInvestor}, []string(inv.Roles))

	again, err := suite.service.Profile(suite.ctx, actor)
	suite.NoError(err)
	suite.Equal(inv.ID, again.ID)

	_, err = suite.service.Profile(suite.ctx, auth.Actor{})
	suite.ErrorIs(err, auth.ErrUnauthenticated)
}

func (suite *InvestorServiceTestSuite) TestRegisterWallet() {
	actor := auth.Actor{ID: "inv-1", Role: models.RoleInvestor}
	address, sig := suite.signProof("inv-1", suite.now.Unix())

	inv, err := suite.service.RegisterWallet(suite.ctx, actor, RegisterWalletInput{
		Address:   address,
		Signature: sig,
		Timestamp: suite.now.Unix(),
	})
	suite.Require().NoError(err)
	suite.Equal(address, inv.WalletAddress)

	wallet, err := suite.service.WalletAddress(suite.ctx, "inv-1")
	suite.NoError(err)
	suite.Equal(address, wallet)
}

func (suite *InvestorServiceTestSuite) TestRegisterWalletRejectsForeignProof() {
	actor := auth.Actor{ID: "inv-1", Role: models.RoleInvestor}
	address, sig := suite.signProof("inv-2", suite.now.Unix())

	_, err := suite.service.RegisterWallet(suite.ctx, actor, RegisterWalletInput{
		Address:   address,
		Signature: sig,
		Timestamp: suite.now.Unix(),
	})
	suite.ErrorIs(err, ErrInvalidWalletProof)

	_, err = suite.service.WalletAddress(suite.ctx, "inv-1")
	suite.ErrorIs(err, ErrWalletNotRegistered)
}

func (suite *InvestorServiceTestSuite) TestRegisterWalletRejectsStaleProof() {
	actor := auth.Actor{ID: "inv-1", Role: models.RoleInvestor}
	ts := suite.now.Add(-time.Hour).Unix()
	address, sig := suite.signProof("inv-1", ts)

	_, err := suite.service.RegisterWallet(suite.ctx, actor, RegisterWalletInput{Address: address, Signature: sig, Timestamp: ts})
	suite.ErrorIs(err, ErrInvalidWalletProof)
}

func (suite *InvestorServiceTestSuite) TestRegisterWalletValidatesAddress() {
	actor := auth.Actor{ID: "inv-1", Role: models.RoleInvestor}
	_, err := suite.service.RegisterWallet(suite.ctx, actor, RegisterWalletInput{Address: "not-an-address"})
	suite.Error(err)
	suite.Contains(err.Error(), "address")
}

func (suite *InvestorServiceTestSuite) TestRecomputeTotals() {
	suite.addOrder("inv-1", 100, models.PaymentStatusCompleted, models.ApprovalStatusPending)
	suite.addOrder("inv-1", 250, models.PaymentStatusCompleted, models.ApprovalStatusApproved)
	suite.addOrder("inv-1", 40, models.PaymentStatusCompleted, models.ApprovalStatusRejected)
	suite.addOrder("inv-1", 70, models.PaymentStatusPending, models.ApprovalStatusNone)
	suite.addOrder("inv-1", 90, models.PaymentStatusFailed, models.ApprovalStatusNone)
	suite.addOrder("inv-2", 500, models.PaymentStatusCompleted, models.ApprovalStatusApproved)

	suite.Require().NoError(suite.service.RecomputeTotals(suite.ctx, "inv-1"))
	// repeated runs converge on the same figures
	suite.Require().NoError(suite.service.RecomputeTotals(suite.ctx, "inv-1"))

	inv, err := suite.repo.GetByInvestorID(suite.ctx, "inv-1")
	suite.Require().NoError(err)
	suite.Require().NotNil(inv)
	suite.True(inv.TotalInvested.Equal(decimal.NewFromInt(350)), inv.TotalInvested.String())
	suite.Equal(int64(2), inv.CompletedOrders)
	suite.NotNil(inv.RecomputedAt)
}

func TestInvestorServiceTestSuite(t *testing.T) {
	suite.Run(t, new(InvestorServiceTestSuite))
}
