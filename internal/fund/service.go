package fund

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/capacity"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrFundNotFound is shared with the capacity ledger so callers match one sentinel
var ErrFundNotFound = capacity.ErrFundNotFound

// CreateFundInput carries the master data of a new fund
type CreateFundInput struct {
	Name                  string
	TokenSymbol           string
	TokenAddress          string
	MaxIssuance           int64
	QuotaPrice            decimal.Decimal
	SettlementDestination string
	Status                models.FundStatus
}

// Directory is the read side of the fund master data consulted by order creation
type Directory interface {
	GetFund(ctx context.Context, id uint) (*models.Fund, error)
}

// Service defines fund directory operations
type Service interface {
	CreateFund(ctx context.Context, actor auth.Actor, input CreateFundInput) (*models.Fund, error)
	GetFund(ctx context.Context, id uint) (*models.Fund, error)
	ListFunds(ctx context.Context, filter ListFilter) ([]*models.Fund, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, id uint, status models.FundStatus) (*models.Fund, error)
	Recount(ctx context.Context, actor auth.Actor, id uint) (int64, error)
	IncrementIssued(tx *gorm.DB, id uint, quantity int64) error
}

type service struct {
	repo   FundRepository
	ledger capacity.Ledger
}

// NewService creates a new fund service
func NewService(repo FundRepository, ledger capacity.Ledger) Service {
	return &service{repo: repo, ledger: ledger}
}

func (s *service) CreateFund(ctx context.Context, actor auth.Actor, input CreateFundInput) (*models.Fund, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if strings.TrimSpace(input.Name) == "" {
		fields["name"] = "is required"
	}
	if input.MaxIssuance <= 0 {
		fields["max_issuance"] = "must be greater than 0"
	}
	if !input.QuotaPrice.IsPositive() {
		fields["quota_price"] = "must be greater than 0"
	}
	if input.SettlementDestination != "" && !common.IsHexAddress(input.SettlementDestination) {
		fields["settlement_destination"] = "must be a valid address"
	}
	if input.TokenAddress != "" && !common.IsHexAddress(input.TokenAddress) {
		fields["token_address"] = "must be a valid address"
	}
	if input.Status != "" && !input.Status.Valid() {
		fields["status"] = "is invalid"
	}
	if len(fields) > 0 {
		return nil, &apierror.ValidationError{Fields: fields}
	}

	fund := &models.Fund{
		Name:                  strings.TrimSpace(input.Name),
		TokenSymbol:           strings.ToUpper(strings.TrimSpace(input.TokenSymbol)),
		TokenAddress:          normalizeAddress(input.TokenAddress),
		MaxIssuance:           input.MaxIssuance,
		QuotaPrice:            input.QuotaPrice,
		Status:                input.Status,
		SettlementDestination: normalizeAddress(input.SettlementDestination),
		ManagerID:             actor.ID,
	}
	if err := s.repo.Create(ctx, fund); err != nil {
		return nil, err
	}
	return fund, nil
}

func (s *service) GetFund(ctx context.Context, id uint) (*models.Fund, error) {
	if id == 0 {
		return nil, ErrFundNotFound
	}
	fund, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, ErrFundNotFound
	}
	return fund, nil
}

func (s *service) ListFunds(ctx context.Context, filter ListFilter) ([]*models.Fund, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apierror.NewValidation("status", "is invalid")
	}
	return s.repo.List(ctx, filter)
}

func (s *service) UpdateStatus(ctx context.Context, actor auth.Actor, id uint, status models.FundStatus) (*models.Fund, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apierror.NewValidation("status", "is invalid")
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFundNotFound
		}
		return nil, err
	}
	return s.GetFund(ctx, id)
}

func (s *service) Recount(ctx context.Context, actor auth.Actor, id uint) (int64, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return 0, err
	}
	return s.ledger.Recount(ctx, id)
}

func (s *service) IncrementIssued(tx *gorm.DB, id uint, quantity int64) error {
	return s.repo.IncrementIssued(tx, id, quantity)
}

func normalizeAddress(addr string) string {
	if addr == "" {
		return ""
	}
	return common.HexToAddress(addr).Hex()
}
