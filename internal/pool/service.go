package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/fund"
	"github.com/irfndi/SimpleFund/internal/lock"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/irfndi/SimpleFund/internal/outbox"
	"github.com/irfndi/SimpleFund/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrPoolNotFound        = apierror.New(apierror.NotFound, "POOL_NOT_FOUND", "pool: not found")
	ErrPoolExists          = apierror.New(apierror.Conflict, "POOL_EXISTS", "pool: fund already has a pool")
	ErrPoolInactive        = apierror.New(apierror.Conflict, "POOL_INACTIVE", "pool: pool is inactive")
	ErrInsufficientBalance = apierror.New(apierror.Unprocessable, "INSUFFICIENT_BALANCE", "pool: amount exceeds current balance")
	ErrDuplicateReference  = apierror.New(apierror.Conflict, "DUPLICATE_REFERENCE", "pool: reference already recorded")
	ErrNoCustodyAddress    = apierror.New(apierror.Unprocessable, "NO_CUSTODY_ADDRESS", "pool: fund has no settlement destination")
)

// CreditInput records money received for a completed order
type CreditInput struct {
	FundID    uint
	Amount    decimal.Decimal
	Reference string
	OrderID   uint
}

// Creditor is the narrow view of the pool ledger used by order completion
type Creditor interface {
	Credit(ctx context.Context, input CreditInput) (*models.Pool, error)
}

// Service defines pool ledger operations
type Service interface {
	Creditor
	CreatePool(ctx context.Context, actor auth.Actor, fundID uint, apy decimal.Decimal) (*models.Pool, error)
	GetPool(ctx context.Context, id uint) (*models.Pool, error)
	GetPoolByFund(ctx context.Context, fundID uint) (*models.Pool, error)
	ListPools(ctx context.Context, filter ListFilter) ([]*models.Pool, error)
	Transactions(ctx context.Context, actor auth.Actor, poolID uint, limit, offset int) ([]models.PoolTransaction, error)
	BuildDeposit(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal) (settlement.TransferInstruction, error)
	BuildWithdrawal(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal, destination string) (settlement.TransferInstruction, error)
	Deposit(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal, reference string) (*models.Pool, error)
	Withdraw(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal, reference string) (*models.Pool, error)
	MarkYield(ctx context.Context, actor auth.Actor, poolID uint, currentBalance decimal.Decimal, apy *decimal.Decimal) (*models.Pool, error)
	Deactivate(ctx context.Context, actor auth.Actor, poolID uint) (*models.Pool, error)
}

type service struct {
	db       *gorm.DB
	repo     PoolRepository
	funds    fund.Directory
	locker   lock.Locker
	recorder *outbox.Recorder
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewService creates a new pool service
func NewService(db *gorm.DB, repo PoolRepository, funds fund.Directory, locker lock.Locker, recorder *outbox.Recorder) Service {
	return &service{
		db:       db,
		repo:     repo,
		funds:    funds,
		locker:   locker,
		recorder: recorder,
		metrics:  metrics.GetCollector(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// poolChange is the pool.updated payload
type poolChange struct {
	PoolID         uint                       `json:"pool_id"`
	FundID         uint                       `json:"fund_id"`
	Kind           models.PoolTransactionKind `json:"kind,omitempty"`
	Amount         decimal.Decimal            `json:"amount"`
	CurrentBalance decimal.Decimal            `json:"current_balance"`
	Status         models.PoolStatus          `json:"status"`
}

func (s *service) CreatePool(ctx context.Context, actor auth.Actor, fundID uint, apy decimal.Decimal) (*models.Pool, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	if apy.IsNegative() {
		return nil, apierror.NewValidation("apy", "must not be negative")
	}
	if _, err := s.funds.GetFund(ctx, fundID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByFundID(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPoolExists
	}

	pool := &models.Pool{
		FundID:             fundID,
		TotalDeposited:     decimal.Zero,
		TotalWithdrawn:     decimal.Zero,
		PrincipalWithdrawn: decimal.Zero,
		CurrentBalance:     decimal.Zero,
		YieldEarned:        decimal.Zero,
		APY:                apy,
		Status:             models.PoolStatusActive,
	}
	if err := s.repo.Create(ctx, pool); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrPoolExists
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"pool_id": pool.ID, "fund_id": fundID, "actor": actor.ID}).Info("Pool created")
	return pool, nil
}

func (s *service) GetPool(ctx context.Context, id uint) (*models.Pool, error) {
	if id == 0 {
		return nil, ErrPoolNotFound
	}
	pool, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (s *service) GetPoolByFund(ctx context.Context, fundID uint) (*models.Pool, error) {
	if fundID == 0 {
		return nil, ErrPoolNotFound
	}
	pool, err := s.repo.GetByFundID(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (s *service) ListPools(ctx context.Context, filter ListFilter) ([]*models.Pool, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

func (s *service) Transactions(ctx context.Context, actor auth.Actor, poolID uint, limit, offset int) ([]models.PoolTransaction, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	if _, err := s.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.Transactions(ctx, poolID, limit, offset)
}

// BuildDeposit returns the transfer a manager signs to move funds into the pool's custody address
func (s *service) BuildDeposit(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal) (settlement.TransferInstruction, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return settlement.TransferInstruction{}, err
	}
	pool, err := s.activePool(ctx, poolID)
	if err != nil {
		return settlement.TransferInstruction{}, err
	}
	f, err := s.funds.GetFund(ctx, pool.FundID)
	if err != nil {
		return settlement.TransferInstruction{}, err
	}
	if f.SettlementDestination == "" {
		return settlement.TransferInstruction{}, ErrNoCustodyAddress
	}
	return settlement.BuildInstruction(settlement.KindPoolDeposit, f.SettlementDestination, amount,
		settlement.CorrelationTag(settlement.PrefixDeposit, uuid.NewString()))
}

// BuildWithdrawal returns the transfer out of custody. The balance check here is advisory;
// Withdraw re-checks under the pool lock.
func (s *service) BuildWithdrawal(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal, destination string) (settlement.TransferInstruction, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return settlement.TransferInstruction{}, err
	}
	pool, err := s.activePool(ctx, poolID)
	if err != nil {
		return settlement.TransferInstruction{}, err
	}
	if amount.GreaterThan(pool.CurrentBalance) {
		return settlement.TransferInstruction{}, ErrInsufficientBalance
	}
	return settlement.BuildInstruction(settlement.KindPoolWithdrawal, destination, amount,
		settlement.CorrelationTag(settlement.PrefixWithdrawal, uuid.NewString()))
}

// Credit adds order proceeds to the fund's pool. A reference already credited is a no-op,
// so the call is safe to repeat. Credits are accepted on inactive pools because the money
// has already been received.
func (s *service) Credit(ctx context.Context, input CreditInput) (*models.Pool, error) {
	if !input.Amount.IsPositive() {
		return nil, settlement.ErrInvalidAmount
	}
	if input.Reference == "" {
		return nil, apierror.NewValidation("reference", "is required")
	}
	pool, err := s.GetPoolByFund(ctx, input.FundID)
	if err != nil {
		return nil, err
	}

	var orderID *uint
	if input.OrderID != 0 {
		id := input.OrderID
		orderID = &id
	}

	return s.mutate(ctx, pool.ID, models.PoolTxCredit, func(tx *gorm.DB, p *models.Pool) (*models.PoolTransaction, error) {
		seen, err := s.repo.HasTransaction(tx, p.ID, models.PoolTxCredit, input.Reference)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, nil
		}
		p.TotalDeposited = p.TotalDeposited.Add(input.Amount)
		p.CurrentBalance = p.CurrentBalance.Add(input.Amount)
		return &models.PoolTransaction{
			Kind:      models.PoolTxCredit,
			Reference: input.Reference,
			Amount:    input.Amount,
			OrderID:   orderID,
		}, nil
	})
}

func (s *service) Deposit(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal, reference string) (*models.Pool, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, settlement.ErrInvalidAmount
	}
	ref, err := settlement.ConfirmReference(reference)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, poolID, models.PoolTxDeposit, func(tx *gorm.DB, p *models.Pool) (*models.PoolTransaction, error) {
		if p.Status != models.PoolStatusActive {
			return nil, ErrPoolInactive
		}
		if err := s.ensureUnused(tx, p.ID, models.PoolTxDeposit, ref); err != nil {
			return nil, err
		}
		p.TotalDeposited = p.TotalDeposited.Add(amount)
		p.CurrentBalance = p.CurrentBalance.Add(amount)
		return &models.PoolTransaction{Kind: models.PoolTxDeposit, Reference: ref, Amount: amount, ActorID: actor.ID}, nil
	})
}

// Withdraw takes amount out of the pool, consuming unrealized yield before principal
func (s *service) Withdraw(ctx context.Context, actor auth.Actor, poolID uint, amount decimal.Decimal, reference string) (*models.Pool, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, settlement.ErrInvalidAmount
	}
	ref, err := settlement.ConfirmReference(reference)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, poolID, models.PoolTxWithdraw, func(tx *gorm.DB, p *models.Pool) (*models.PoolTransaction, error) {
		if p.Status != models.PoolStatusActive {
			return nil, ErrPoolInactive
		}
		if amount.GreaterThan(p.CurrentBalance) {
			return nil, ErrInsufficientBalance
		}
		if err := s.ensureUnused(tx, p.ID, models.PoolTxWithdraw, ref); err != nil {
			return nil, err
		}

		realized := applyWithdrawal(p, amount)
		return &models.PoolTransaction{
			Kind:          models.PoolTxWithdraw,
			Reference:     ref,
			Amount:        amount,
			YieldRealized: realized,
			ActorID:       actor.ID,
		}, nil
	})
}

// applyWithdrawal updates the pool totals for a withdrawal and returns the yield portion
func applyWithdrawal(p *models.Pool, amount decimal.Decimal) decimal.Decimal {
	realized := decimal.Max(decimal.Zero, p.UnrealizedYield())
	realized = decimal.Min(amount, realized)

	p.YieldEarned = p.YieldEarned.Add(realized)
	p.PrincipalWithdrawn = p.PrincipalWithdrawn.Add(amount.Sub(realized))
	p.TotalWithdrawn = p.TotalWithdrawn.Add(amount)
	p.CurrentBalance = p.CurrentBalance.Sub(amount)
	return realized
}

// MarkYield records an externally observed balance. The difference to the previous
// balance is booked as a YIELD entry and may be negative.
func (s *service) MarkYield(ctx context.Context, actor auth.Actor, poolID uint, currentBalance decimal.Decimal, apy *decimal.Decimal) (*models.Pool, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	if currentBalance.IsNegative() {
		return nil, apierror.NewValidation("current_balance", "must not be negative")
	}
	if apy != nil && apy.IsNegative() {
		return nil, apierror.NewValidation("apy", "must not be negative")
	}

	return s.mutate(ctx, poolID, models.PoolTxYield, func(tx *gorm.DB, p *models.Pool) (*models.PoolTransaction, error) {
		if p.Status != models.PoolStatusActive {
			return nil, ErrPoolInactive
		}
		now := s.now()
		delta := currentBalance.Sub(p.CurrentBalance)
		p.CurrentBalance = currentBalance
		if apy != nil {
			p.APY = *apy
		}
		p.LastYieldUpdate = &now
		return &models.PoolTransaction{
			Kind:      models.PoolTxYield,
			Reference: "yield-" + strconv.FormatInt(now.UnixNano(), 10),
			Amount:    delta,
			ActorID:   actor.ID,
		}, nil
	})
}

func (s *service) Deactivate(ctx context.Context, actor auth.Actor, poolID uint) (*models.Pool, error) {
	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}

	var (
		result  *models.Pool
		eventID uint
	)
	err := s.withPoolLock(ctx, poolID, func(tx *gorm.DB, p *models.Pool) error {
		if p.Status == models.PoolStatusInactive {
			result = p
			return nil
		}
		p.Status = models.PoolStatusInactive
		p.UpdatedAt = s.now()
		if err := s.repo.SaveBalances(tx, p); err != nil {
			return err
		}
		id, err := s.record(tx, p, "", decimal.Zero)
		if err != nil {
			return err
		}
		eventID, result = id, p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Flush(ctx, eventID)

	logrus.WithFields(logrus.Fields{"pool_id": poolID, "actor": actor.ID}).Info("Pool deactivated")
	return result, nil
}

// mutation applies a change to the locked pool. Returning a nil entry leaves the pool unchanged.
type mutation func(tx *gorm.DB, pool *models.Pool) (*models.PoolTransaction, error)

// mutate serializes fn against every other mutation of the same pool, then persists the
// new balances, the ledger entry and a pool.updated event in one transaction
func (s *service) mutate(ctx context.Context, poolID uint, kind models.PoolTransactionKind, fn mutation) (*models.Pool, error) {
	var (
		result  *models.Pool
		entry   *models.PoolTransaction
		eventID uint
	)
	err := s.withPoolLock(ctx, poolID, func(tx *gorm.DB, p *models.Pool) error {
		var err error
		entry, err = fn(tx, p)
		if err != nil {
			return err
		}
		result = p
		if entry == nil {
			return nil
		}

		p.UpdatedAt = s.now()
		if err := s.repo.SaveBalances(tx, p); err != nil {
			return fmt.Errorf("failed to save pool balances: %w", err)
		}
		entry.PoolID = p.ID
		entry.BalanceAfter = p.CurrentBalance
		if err := s.repo.AddTransaction(tx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateReference
			}
			return fmt.Errorf("failed to record pool transaction: %w", err)
		}
		eventID, err = s.record(tx, p, kind, entry.Amount)
		return err
	})
	s.metrics.RecordPoolOperation(string(kind), err)
	if err != nil {
		return nil, err
	}

	if entry != nil {
		balance, _ := result.CurrentBalance.Float64()
		s.metrics.RecordPoolBalance(result.ID, balance)
		logrus.WithFields(logrus.Fields{
			"pool_id":   result.ID,
			"kind":      kind,
			"amount":    entry.Amount.String(),
			"balance":   result.CurrentBalance.String(),
			"reference": entry.Reference,
		}).Info("Pool ledger updated")
		s.recorder.Flush(ctx, eventID)
	}
	return result, nil
}

func (s *service) withPoolLock(ctx context.Context, poolID uint, fn func(tx *gorm.DB, pool *models.Pool) error) error {
	if poolID == 0 {
		return ErrPoolNotFound
	}
	release, err := s.locker.Lock(ctx, lockKey(poolID))
	if err != nil {
		return apierror.New(apierror.Unavailable, "POOL_BUSY", "pool: "+err.Error())
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := s.repo.LockForUpdate(tx, poolID)
		if err != nil {
			return err
		}
		if pool == nil {
			return ErrPoolNotFound
		}
		return fn(tx, pool)
	})
}

func (s *service) record(tx *gorm.DB, p *models.Pool, kind models.PoolTransactionKind, amount decimal.Decimal) (uint, error) {
	return s.recorder.Record(tx, events.PoolUpdated, strconv.FormatUint(uint64(p.ID), 10), poolChange{
		PoolID:         p.ID,
		FundID:         p.FundID,
		Kind:           kind,
		Amount:         amount,
		CurrentBalance: p.CurrentBalance,
		Status:         p.Status,
	})
}

func (s *service) ensureUnused(tx *gorm.DB, poolID uint, kind models.PoolTransactionKind, reference string) error {
	seen, err := s.repo.HasTransaction(tx, poolID, kind, reference)
	if err != nil {
		return err
	}
	if seen {
		return ErrDuplicateReference
	}
	return nil
}

func (s *service) activePool(ctx context.Context, poolID uint) (*models.Pool, error) {
	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status != models.PoolStatusActive {
		return nil, ErrPoolInactive
	}
	return pool, nil
}

func lockKey(poolID uint) string {
	return "pool:" + strconv.FormatUint(uint64(poolID), 10)
}
