package investor

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvestorNotFound    = apierror.New(apierror.NotFound, "INVESTOR_NOT_FOUND", "investor: not found")
	ErrWalletNotRegistered = apierror.New(apierror.Unprocessable, "WALLET_NOT_REGISTERED", "investor: no wallet address registered")
	ErrInvalidWalletProof  = apierror.New(apierror.Forbidden, "INVALID_WALLET_PROOF", "investor: wallet ownership proof rejected")
)

// Registry supplies the destination address for transfers to an investor
type Registry interface {
	WalletAddress(ctx context.Context, investorID string) (string, error)
}

// Recomputer refreshes an investor's aggregate completed-investment figures
type Recomputer interface {
	RecomputeTotals(ctx context.Context, investorID string) error
}

// RegisterWalletInput is a signed claim of wallet ownership
type RegisterWalletInput struct {
	Address   string
	Signature string
	Timestamp int64
}

// Service defines investor profile operations
type Service interface {
	Registry
	Recomputer
	Profile(ctx context.Context, actor auth.Actor) (*models.Investor, error)
	RegisterWallet(ctx context.Context, actor auth.Actor, input RegisterWalletInput) (*models.Investor, error)
}

type service struct {
	repo InvestorRepository
	now  func() time.Time
}

// NewService creates a new investor service
func NewService(repo InvestorRepository) Service {
	return &service{repo: repo, now: time.Now}
}

func (s *service) Profile(ctx context.Context, actor auth.Actor) (*models.Investor, error) {
	if actor.ID == "" {
		return nil, auth.ErrUnauthenticated
	}
	return s.repo.Ensure(ctx, actor.ID, actor.Role)
}

func (s *service) RegisterWallet(ctx context.Context, actor auth.Actor, input RegisterWalletInput) (*models.Investor, error) {
	if actor.ID == "" {
		return nil, auth.ErrUnauthenticated
	}
	if !common.IsHexAddress(input.Address) {
		return nil, apierror.NewValidation("address", "must be a valid address")
	}

	if err := auth.VerifyWalletProof(actor.ID, input.Address, input.Signature, input.Timestamp, s.now()); err != nil {
		logrus.WithFields(logrus.Fields{
			"investor_id": actor.ID,
			"address":     input.Address,
		}).WithError(err).Warn("Wallet proof rejected")
		return nil, ErrInvalidWalletProof
	}

	if _, err := s.repo.Ensure(ctx, actor.ID, actor.Role); err != nil {
		return nil, err
	}
	address := common.HexToAddress(input.Address).Hex()
	if err := s.repo.UpdateWallet(ctx, actor.ID, address); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"investor_id": actor.ID,
		"address":     address,
	}).Info("Wallet registered")
	return s.repo.GetByInvestorID(ctx, actor.ID)
}

// WalletAddress returns the checksummed wallet of investorID
func (s *service) WalletAddress(ctx context.Context, investorID string) (string, error) {
	inv, err := s.repo.GetByInvestorID(ctx, investorID)
	if err != nil {
		return "", err
	}
	if inv == nil || strings.TrimSpace(inv.WalletAddress) == "" {
		return "", ErrWalletNotRegistered
	}
	return inv.WalletAddress, nil
}

// RecomputeTotals sums every paid, non-refunded order of the investor.
// Safe to repeat: the aggregate is derived from orders, never incremented.
func (s *service) RecomputeTotals(ctx context.Context, investorID string) error {
	amounts, err := s.repo.CompletedAmounts(ctx, investorID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return s.repo.UpdateTotals(ctx, investorID, total, int64(len(amounts)), s.now().UTC())
}
