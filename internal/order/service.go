package order

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/capacity"
	"github.com/irfndi/SimpleFund/internal/database"
	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/fund"
	"github.com/irfndi/SimpleFund/internal/investor"
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
	ErrOrderNotFound        = apierror.New(apierror.NotFound, "ORDER_NOT_FOUND", "order: not found")
	ErrInvalidState         = apierror.New(apierror.Conflict, "INVALID_ORDER_STATE", "order: operation not allowed in the current state")
	ErrFundHasNoDestination = apierror.New(apierror.Unprocessable, "FUND_HAS_NO_DESTINATION", "order: fund has no settlement destination")
	ErrReferenceInUse       = apierror.New(apierror.Conflict, "REFERENCE_IN_USE", "order: payment reference already used by another order")
	ErrPaymentNotVerified   = apierror.New(apierror.Conflict, "PAYMENT_NOT_VERIFIED", "order: payment reference has not been verified")
)

// AlreadyConfirmedError is returned when COMPLETE is repeated with the reference already recorded.
// It matches ErrInvalidState.
type AlreadyConfirmedError struct {
	OrderID   string
	Reference string
}

func (e *AlreadyConfirmedError) Error() string {
	return fmt.Sprintf("order: %s already confirmed with %s", e.OrderID, e.Reference)
}

func (e *AlreadyConfirmedError) Is(target error) bool { return target == ErrInvalidState }
func (e *AlreadyConfirmedError) Kind() apierror.Kind  { return apierror.Conflict }
func (e *AlreadyConfirmedError) Code() string         { return "ORDER_ALREADY_CONFIRMED" }

func (e *AlreadyConfirmedError) Details() map[string]interface{} {
	return map[string]interface{}{"order_id": e.OrderID, "reference": e.Reference}
}

// FundStore is the fund data the order state machine reads and updates
type FundStore interface {
	fund.Directory
	IncrementIssued(tx *gorm.DB, id uint, quantity int64) error
}

// CreateOrderInput carries a purchase request
type CreateOrderInput struct {
	FundID   uint
	Quantity int64
}

// Placement is a created order with the payment the investor must make
type Placement struct {
	Order       *models.Order                  `json:"order"`
	Instruction settlement.TransferInstruction `json:"instruction"`
}

// Decision is the result of an approve or reject call. Instruction is set on the
// first call, when no reference was supplied and the order was not changed.
type Decision struct {
	Order       *models.Order                   `json:"order"`
	Instruction *settlement.TransferInstruction `json:"instruction,omitempty"`
}

// Options tune the state machine
type Options struct {
	RequireVerifiedPayment bool
}

// Service defines the order lifecycle
type Service interface {
	CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*Placement, error)
	CompleteOrder(ctx context.Context, actor auth.Actor, orderID, reference string) (*models.Order, error)
	CancelOrder(ctx context.Context, actor auth.Actor, orderID string) (*models.Order, error)
	GetOrder(ctx context.Context, actor auth.Actor, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, actor auth.Actor, filter ListFilter) ([]*models.Order, error)
	PaymentInstruction(ctx context.Context, actor auth.Actor, orderID string) (settlement.TransferInstruction, error)
	Approve(ctx context.Context, actor auth.Actor, orderID, reference string) (*Decision, error)
	Reject(ctx context.Context, actor auth.Actor, orderID, reference string) (*Decision, error)
}

type service struct {
	db       *gorm.DB
	repo     OrderRepository
	funds    FundStore
	ledger   capacity.Ledger
	wallets  investor.Registry
	locker   lock.Locker
	recorder *outbox.Recorder
	opts     Options
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewService creates a new order service
func NewService(db *gorm.DB, repo OrderRepository, funds FundStore, ledger capacity.Ledger, wallets investor.Registry,
	locker lock.Locker, recorder *outbox.Recorder, opts Options) Service {
	return &service{
		db:       db,
		repo:     repo,
		funds:    funds,
		ledger:   ledger,
		wallets:  wallets,
		locker:   locker,
		recorder: recorder,
		opts:     opts,
		metrics:  metrics.GetCollector(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// orderEvent is the payload of every order.* outbox event
type orderEvent struct {
	ID                 uint                      `json:"id"`
	OrderID            string                    `json:"order_id"`
	FundID             uint                      `json:"fund_id"`
	InvestorID         string                    `json:"investor_id"`
	Quantity           int64                     `json:"quantity"`
	TotalAmount        decimal.Decimal           `json:"total_amount"`
	PaymentStatus      models.PaymentStatus      `json:"payment_status"`
	ApprovalStatus     models.ApprovalStatus     `json:"approval_status,omitempty"`
	VerificationStatus models.VerificationStatus `json:"verification_status,omitempty"`
	Reference          string                    `json:"reference,omitempty"`
}

func newOrderEvent(o *models.Order, reference string) orderEvent {
	return orderEvent{
		ID:                 o.ID,
		OrderID:            o.OrderID,
		FundID:             o.FundID,
		InvestorID:         o.InvestorID,
		Quantity:           o.Quantity,
		TotalAmount:        o.TotalAmount,
		PaymentStatus:      o.PaymentStatus,
		ApprovalStatus:     o.ApprovalStatus,
		VerificationStatus: o.VerificationStatus,
		Reference:          reference,
	}
}

func (s *service) CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (placement *Placement, err error) {
	defer func() { s.metrics.RecordOrderTransition("create", err) }()

	if err := actor.Require(models.RoleInvestor); err != nil {
		return nil, err
	}
	if input.Quantity <= 0 {
		return nil, apierror.NewValidation("quantity", "must be greater than 0")
	}

	f, err := s.funds.GetFund(ctx, input.FundID)
	if err != nil {
		return nil, err
	}
	if f.Status != models.FundStatusApproved {
		return nil, capacity.ErrFundNotAcceptingOrders
	}
	if f.SettlementDestination == "" {
		return nil, ErrFundHasNoDestination
	}

	order := &models.Order{
		OrderID:            uuid.NewString(),
		FundID:             f.ID,
		InvestorID:         actor.ID,
		Quantity:           input.Quantity,
		UnitPrice:          f.QuotaPrice,
		TotalAmount:        f.QuotaPrice.Mul(decimal.NewFromInt(input.Quantity)),
		PaymentStatus:      models.PaymentStatusPending,
		ApprovalStatus:     models.ApprovalStatusNone,
		VerificationStatus: models.VerificationUnverified,
	}
	order.CorrelationTag = settlement.CorrelationTag(settlement.PrefixPayment, order.OrderID)

	instruction, err := settlement.BuildInstruction(settlement.KindPayment, f.SettlementDestination, order.TotalAmount, order.CorrelationTag)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Lock(ctx, "fund:"+strconv.FormatUint(uint64(f.ID), 10))
	if err != nil {
		return nil, apierror.New(apierror.Unavailable, "FUND_BUSY", "order: "+err.Error())
	}
	defer release()

	var eventID uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.Reserve(ctx, tx, f.ID, order.Quantity); err != nil {
			return err
		}
		if err := s.repo.Create(tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		var err error
		eventID, err = s.recorder.Record(tx, events.OrderCreated, order.OrderID, newOrderEvent(order, ""))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Flush(ctx, eventID)

	logrus.WithFields(logrus.Fields{
		"order_id":    order.OrderID,
		"fund_id":     order.FundID,
		"investor_id": order.InvestorID,
		"quantity":    order.Quantity,
	}).Info("Order created")

	return &Placement{Order: order, Instruction: instruction}, nil
}

// CompleteOrder records the investor's payment reference. The reference is not verified here;
// the pool credit and investor totals follow through the outbox.
func (s *service) CompleteOrder(ctx context.Context, actor auth.Actor, orderID, reference string) (result *models.Order, err error) {
	defer func() { s.metrics.RecordOrderTransition("complete", err) }()

	if err := actor.Require(models.RoleInvestor); err != nil {
		return nil, err
	}
	ref, err := settlement.ConfirmReference(reference)
	if err != nil {
		return nil, err
	}

	var eventID uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.InvestorID != actor.ID {
			return auth.ErrForbidden
		}
		if order.PaymentStatus == models.PaymentStatusCompleted && order.PaymentReference == ref {
			return &AlreadyConfirmedError{OrderID: order.OrderID, Reference: ref}
		}
		if order.PaymentStatus != models.PaymentStatusPending {
			return ErrInvalidState
		}

		inUse, err := s.repo.ReferenceInUse(tx, ref, order.ID)
		if err != nil {
			return err
		}
		if inUse {
			return ErrReferenceInUse
		}

		now := s.now()
		if err := s.transition(tx, order, State{Payment: models.PaymentStatusPending}, map[string]interface{}{
			"payment_status":      models.PaymentStatusCompleted,
			"approval_status":     models.ApprovalStatusPending,
			"payment_reference":   ref,
			"verification_status": models.VerificationUnverified,
			"completed_at":        now,
			"updated_at":          now,
		}); err != nil {
			return err
		}
		order.PaymentStatus = models.PaymentStatusCompleted
		order.ApprovalStatus = models.ApprovalStatusPending
		order.PaymentReference = ref
		order.VerificationStatus = models.VerificationUnverified
		order.CompletedAt = &now
		order.UpdatedAt = now

		eventID, err = s.recorder.Record(tx, events.OrderCompleted, order.OrderID, newOrderEvent(order, ref))
		result = order
		return err
	})
	if err != nil {
		return nil, err
	}

	// side effects are best-effort; failures stay in the outbox for the worker
	s.recorder.Flush(ctx, eventID)

	logrus.WithFields(logrus.Fields{"order_id": result.OrderID, "reference": ref}).Info("Order payment completed")
	return result, nil
}

func (s *service) CancelOrder(ctx context.Context, actor auth.Actor, orderID string) (result *models.Order, err error) {
	defer func() { s.metrics.RecordOrderTransition("cancel", err) }()

	if err := actor.Require(models.RoleInvestor, models.RoleManager); err != nil {
		return nil, err
	}

	var eventID uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.InvestorID != actor.ID && !actor.IsManager() {
			return auth.ErrForbidden
		}
		if order.PaymentStatus != models.PaymentStatusPending {
			return ErrInvalidState
		}

		now := s.now()
		if err := s.transition(tx, order, State{Payment: models.PaymentStatusPending}, map[string]interface{}{
			"payment_status": models.PaymentStatusFailed,
			"updated_at":     now,
		}); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, order.FundID, order.Quantity); err != nil {
			return err
		}
		order.PaymentStatus = models.PaymentStatusFailed
		order.UpdatedAt = now

		eventID, err = s.recorder.Record(tx, events.OrderCancelled, order.OrderID, newOrderEvent(order, ""))
		result = order
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Flush(ctx, eventID)

	logrus.WithFields(logrus.Fields{"order_id": result.OrderID, "actor": actor.ID}).Info("Order cancelled")
	return result, nil
}

func (s *service) GetOrder(ctx context.Context, actor auth.Actor, orderID string) (*models.Order, error) {
	if err := actor.Require(models.RoleInvestor, models.RoleManager); err != nil {
		return nil, err
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.InvestorID != actor.ID && !actor.IsManager() {
		return nil, auth.ErrForbidden
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, actor auth.Actor, filter ListFilter) ([]*models.Order, error) {
	if err := actor.Require(models.RoleInvestor, models.RoleManager); err != nil {
		return nil, err
	}
	if !actor.IsManager() {
		filter.InvestorID = actor.ID
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

func (s *service) PaymentInstruction(ctx context.Context, actor auth.Actor, orderID string) (settlement.TransferInstruction, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return settlement.TransferInstruction{}, err
	}
	if order.InvestorID != actor.ID {
		return settlement.TransferInstruction{}, auth.ErrForbidden
	}
	if order.PaymentStatus != models.PaymentStatusPending {
		return settlement.TransferInstruction{}, ErrInvalidState
	}
	f, err := s.funds.GetFund(ctx, order.FundID)
	if err != nil {
		return settlement.TransferInstruction{}, err
	}
	if f.SettlementDestination == "" {
		return settlement.TransferInstruction{}, ErrFundHasNoDestination
	}
	return settlement.BuildInstruction(settlement.KindPayment, f.SettlementDestination, order.TotalAmount, order.CorrelationTag)
}

// Approve returns the token transfer instruction when reference is empty, otherwise it
// records the transfer and finalizes the order as APPROVED
func (s *service) Approve(ctx context.Context, actor auth.Actor, orderID, reference string) (decision *Decision, err error) {
	defer func() { s.metrics.RecordOrderTransition("approve", err) }()

	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	order, err := s.awaitingDecision(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.opts.RequireVerifiedPayment && order.VerificationStatus != models.VerificationVerified {
		return nil, ErrPaymentNotVerified
	}

	if reference == "" {
		f, err := s.funds.GetFund(ctx, order.FundID)
		if err != nil {
			return nil, err
		}
		wallet, err := s.wallets.WalletAddress(ctx, order.InvestorID)
		if err != nil {
			return nil, err
		}
		instruction, err := settlement.BuildInstruction(settlement.KindTokenTransfer, wallet,
			decimal.NewFromInt(order.Quantity), settlement.CorrelationTag(settlement.PrefixToken, order.OrderID))
		if err != nil {
			return nil, err
		}
		instruction = instruction.ForAsset(f.TokenAddress)
		return &Decision{Order: order, Instruction: &instruction}, nil
	}

	ref, err := settlement.ConfirmReference(reference)
	if err != nil {
		return nil, err
	}
	updated, err := s.decide(ctx, actor, orderID, models.ApprovalStatusApproved, "token_transfer_reference", ref,
		func(tx *gorm.DB, o *models.Order) error {
			if s.opts.RequireVerifiedPayment && o.VerificationStatus != models.VerificationVerified {
				return ErrPaymentNotVerified
			}
			o.TokenTransferReference = ref
			return s.funds.IncrementIssued(tx, o.FundID, o.Quantity)
		})
	if err != nil {
		return nil, err
	}
	return &Decision{Order: updated}, nil
}

// Reject returns the refund instruction when reference is empty, otherwise it records
// the refund and finalizes the order as REJECTED
func (s *service) Reject(ctx context.Context, actor auth.Actor, orderID, reference string) (decision *Decision, err error) {
	defer func() { s.metrics.RecordOrderTransition("reject", err) }()

	if err := actor.Require(models.RoleManager); err != nil {
		return nil, err
	}
	order, err := s.awaitingDecision(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if reference == "" {
		wallet, err := s.wallets.WalletAddress(ctx, order.InvestorID)
		if err != nil {
			return nil, err
		}
		instruction, err := settlement.BuildInstruction(settlement.KindRefund, wallet, order.TotalAmount,
			settlement.CorrelationTag(settlement.PrefixRefund, order.OrderID))
		if err != nil {
			return nil, err
		}
		return &Decision{Order: order, Instruction: &instruction}, nil
	}

	ref, err := settlement.ConfirmReference(reference)
	if err != nil {
		return nil, err
	}
	updated, err := s.decide(ctx, actor, orderID, models.ApprovalStatusRejected, "refund_reference", ref,
		func(tx *gorm.DB, o *models.Order) error {
			o.RefundReference = ref
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &Decision{Order: updated}, nil
}

// decide moves a PENDING_APPROVAL order to outcome. Of several concurrent callers exactly one succeeds.
func (s *service) decide(ctx context.Context, actor auth.Actor, orderID string, outcome models.ApprovalStatus,
	referenceColumn, reference string, apply func(tx *gorm.DB, o *models.Order) error) (*models.Order, error) {
	var (
		result  *models.Order
		eventID uint
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !awaitingDecision(order) {
			return ErrInvalidState
		}

		now := s.now()
		if err := s.transition(tx, order, State{Payment: models.PaymentStatusCompleted, Approval: models.ApprovalStatusPending},
			map[string]interface{}{
				"approval_status": outcome,
				referenceColumn:   reference,
				"decided_at":      now,
				"decided_by":      actor.ID,
				"updated_at":      now,
			}); err != nil {
			return err
		}
		if err := apply(tx, order); err != nil {
			return err
		}
		order.ApprovalStatus = outcome
		order.DecidedAt = &now
		order.DecidedBy = actor.ID
		order.UpdatedAt = now

		eventType := events.OrderApproved
		if outcome == models.ApprovalStatusRejected {
			eventType = events.OrderRejected
		}
		eventID, err = s.recorder.Record(tx, eventType, order.OrderID, newOrderEvent(order, reference))
		result = order
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Flush(ctx, eventID)

	logrus.WithFields(logrus.Fields{
		"order_id":  result.OrderID,
		"outcome":   outcome,
		"reference": reference,
		"actor":     actor.ID,
	}).Info("Order decided")
	return result, nil
}

func (s *service) awaitingDecision(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !awaitingDecision(order) {
		return nil, ErrInvalidState
	}
	return order, nil
}

func awaitingDecision(o *models.Order) bool {
	return o.PaymentStatus == models.PaymentStatusCompleted && o.ApprovalStatus == models.ApprovalStatusPending
}

// transition applies a conditional update and maps a lost race to ErrInvalidState
func (s *service) transition(tx *gorm.DB, order *models.Order, from State, updates map[string]interface{}) error {
	ok, err := s.repo.Transition(tx, order.ID, from, updates)
	if database.IsUniqueViolation(err) {
		// a concurrent completion recorded the same reference first
		return ErrReferenceInUse
	}
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
	}
	if !ok {
		return ErrInvalidState
	}
	return nil
}

func (s *service) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, ErrOrderNotFound
	}
	order, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *service) lockOrder(tx *gorm.DB, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, ErrOrderNotFound
	}
	order, err := s.repo.LockByOrderID(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
