package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Role names carried by identity tokens and stored on investors
const (
	RoleInvestor = "INVESTOR"
	RoleManager  = "MANAGER"
	RoleAdmin    = "ADMIN"
)

// ValidRole reports whether role, in any case, is a known role
func ValidRole(role string) bool {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case RoleInvestor, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Investor is the local projection of an externally registered user
type Investor struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	InvestorID      string          `json:"investor_id" gorm:"uniqueIndex;not null;size:64"`
	WalletAddress   string          `json:"wallet_address" gorm:"size:42;index"`
	Roles           pq.StringArray  `json:"roles" gorm:"type:text[]"`
	TotalInvested   decimal.Decimal `json:"total_invested" gorm:"type:decimal(36,18)"`
	CompletedOrders int64           `json:"completed_orders"`
	RecomputedAt    *time.Time      `json:"recomputed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName returns the table name for Investor model
func (Investor) TableName() string {
	return "investors"
}

// BeforeCreate hook to set default values
func (i *Investor) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(i.InvestorID) == "" {
		return gorm.ErrInvalidData
	}
	if i.Roles == nil {
		i.Roles = pq.StringArray{RoleInvestor}
	}
	return nil
}

// FundStatus is the master-data approval state of a fund
type FundStatus string

const (
	FundStatusPending  FundStatus = "PENDING"
	FundStatusApproved FundStatus = "APPROVED"
	FundStatusRejected FundStatus = "REJECTED"
	FundStatusClosed   FundStatus = "CLOSED"
)

// Valid reports whether s is a known fund status
func (s FundStatus) Valid() bool {
	switch s {
	case FundStatusPending, FundStatusApproved, FundStatusRejected, FundStatusClosed:
		return true
	}
	return false
}

// Fund represents an investment vehicle with a fixed quota capacity
type Fund struct {
	ID                    uint            `json:"id" gorm:"primaryKey"`
	Name                  string          `json:"name" gorm:"not null;size:100"`
	TokenSymbol           string          `json:"token_symbol" gorm:"size:20;index"`
	TokenAddress          string          `json:"token_address" gorm:"size:42"`
	MaxIssuance           int64           `json:"max_issuance" gorm:"not null"`
	TotalIssued           int64           `json:"total_issued" gorm:"not null;default:0"`
	CommittedQuantity     int64           `json:"committed_quantity" gorm:"not null;default:0"` // PENDING + COMPLETED order quantity
	QuotaPrice            decimal.Decimal `json:"quota_price" gorm:"type:decimal(36,18);not null"`
	Status                FundStatus      `json:"status" gorm:"not null;size:20;index;default:'PENDING'"`
	SettlementDestination string          `json:"settlement_destination" gorm:"size:42"`
	ManagerID             string          `json:"manager_id" gorm:"size:64;index"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// TableName returns the table name for Fund model
func (Fund) TableName() string {
	return "funds"
}

// BeforeCreate hook to validate fund data
func (f *Fund) BeforeCreate(tx *gorm.DB) error {
	if f.Name == "" || f.MaxIssuance <= 0 {
		return gorm.ErrInvalidData
	}
	if !f.QuotaPrice.IsPositive() {
		return gorm.ErrInvalidData
	}
	if f.Status == "" {
		f.Status = FundStatusPending
	}
	return nil
}

// Available returns the remaining reservable quota count
func (f *Fund) Available() int64 {
	if f.CommittedQuantity >= f.MaxIssuance {
		return 0
	}
	return f.MaxIssuance - f.CommittedQuantity
}

// PaymentStatus is the investor-payment axis of an order
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// ApprovalStatus is the manager-decision axis of an order, empty until payment completes
type ApprovalStatus string

const (
	ApprovalStatusNone     ApprovalStatus = ""
	ApprovalStatusPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// VerificationStatus tracks asynchronous checks of the client-reported payment reference
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationMismatch   VerificationStatus = "MISMATCH"
)

// Order is a single purchase of quotas by an investor
type Order struct {
	ID                     uint               `json:"id" gorm:"primaryKey"`
	OrderID                string             `json:"order_id" gorm:"uniqueIndex;not null;size:36"`
	FundID                 uint               `json:"fund_id" gorm:"not null;index"`
	InvestorID             string             `json:"investor_id" gorm:"not null;size:64;index"`
	Quantity               int64              `json:"quantity" gorm:"not null"`
	UnitPrice              decimal.Decimal    `json:"unit_price" gorm:"type:decimal(36,18);not null"`
	TotalAmount            decimal.Decimal    `json:"total_amount" gorm:"type:decimal(36,18);not null"`
	PaymentStatus          PaymentStatus      `json:"payment_status" gorm:"not null;size:20;index"`
	ApprovalStatus         ApprovalStatus     `json:"approval_status,omitempty" gorm:"size:20;index"`
	CorrelationTag         string             `json:"correlation_tag" gorm:"size:28"`
	PaymentReference       string             `json:"payment_reference,omitempty" gorm:"size:66"`
	RefundReference        string             `json:"refund_reference,omitempty" gorm:"size:66"`
	TokenTransferReference string             `json:"token_transfer_reference,omitempty" gorm:"size:66"`
	VerificationStatus     VerificationStatus `json:"verification_status,omitempty" gorm:"size:20;index"`
	VerificationNote       string             `json:"verification_note,omitempty" gorm:"size:255"`
	CompletedAt            *time.Time         `json:"completed_at,omitempty"`
	DecidedAt              *time.Time         `json:"decided_at,omitempty"`
	DecidedBy              string             `json:"decided_by,omitempty" gorm:"size:64"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`

	Fund *Fund `json:"fund,omitempty" gorm:"foreignKey:FundID"`
}

// TableName returns the table name for Order model
func (Order) TableName() string {
	return "orders"
}

// BeforeCreate hook to validate order data
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.OrderID == "" || o.FundID == 0 || o.InvestorID == "" {
		return gorm.ErrInvalidData
	}
	if o.Quantity <= 0 {
		return gorm.ErrInvalidData
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentStatusPending
	}
	return nil
}

// HoldsCapacity reports whether the order counts against the fund's committed quantity
func (o *Order) HoldsCapacity() bool {
	return o.PaymentStatus == PaymentStatusPending || o.PaymentStatus == PaymentStatusCompleted
}

// Terminal reports whether no further transition is possible
func (o *Order) Terminal() bool {
	return o.PaymentStatus == PaymentStatusFailed ||
		o.ApprovalStatus == ApprovalStatusApproved ||
		o.ApprovalStatus == ApprovalStatusRejected
}

// PoolStatus represents the lifecycle state of a pool
type PoolStatus string

const (
	PoolStatusActive   PoolStatus = "ACTIVE"
	PoolStatusInactive PoolStatus = "INACTIVE"
)

// Pool is the per-fund custody balance ledger
type Pool struct {
	ID                 uint            `json:"id" gorm:"primaryKey"`
	FundID             uint            `json:"fund_id" gorm:"uniqueIndex;not null"`
	TotalDeposited     decimal.Decimal `json:"total_deposited" gorm:"type:decimal(36,18);not null"`
	TotalWithdrawn     decimal.Decimal `json:"total_withdrawn" gorm:"type:decimal(36,18);not null"`
	PrincipalWithdrawn decimal.Decimal `json:"principal_withdrawn" gorm:"type:decimal(36,18);not null"`
	CurrentBalance     decimal.Decimal `json:"current_balance" gorm:"type:decimal(36,18);not null"`
	YieldEarned        decimal.Decimal `json:"yield_earned" gorm:"type:decimal(36,18);not null"`
	APY                decimal.Decimal `json:"apy" gorm:"type:decimal(10,6)"`
	Status             PoolStatus      `json:"status" gorm:"not null;size:20;default:'ACTIVE'"`
	LastYieldUpdate    *time.Time      `json:"last_yield_update,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Fund *Fund `json:"fund,omitempty" gorm:"foreignKey:FundID"`
}

// TableName returns the table name for Pool model
func (Pool) TableName() string {
	return "pools"
}

// BeforeCreate hook to validate pool data
func (p *Pool) BeforeCreate(tx *gorm.DB) error {
	if p.FundID == 0 {
		return gorm.ErrInvalidData
	}
	if p.Status == "" {
		p.Status = PoolStatusActive
	}
	return nil
}

// UnrealizedYield is the balance above the principal still held by the pool
func (p *Pool) UnrealizedYield() decimal.Decimal {
	return p.CurrentBalance.Sub(p.TotalDeposited.Sub(p.PrincipalWithdrawn))
}

// PoolTransactionKind identifies the ledger operation that produced an entry
type PoolTransactionKind string

const (
	PoolTxCredit   PoolTransactionKind = "CREDIT"
	PoolTxDeposit  PoolTransactionKind = "DEPOSIT"
	PoolTxWithdraw PoolTransactionKind = "WITHDRAW"
	PoolTxYield    PoolTransactionKind = "YIELD"
)

// PoolTransaction is an append-only ledger entry for a pool mutation
type PoolTransaction struct {
	ID            uint                `json:"id" gorm:"primaryKey"`
	PoolID        uint                `json:"pool_id" gorm:"not null;uniqueIndex:idx_pool_tx_ref,priority:1"`
	Kind          PoolTransactionKind `json:"kind" gorm:"not null;size:20;uniqueIndex:idx_pool_tx_ref,priority:2"`
	Reference     string              `json:"reference" gorm:"not null;size:80;uniqueIndex:idx_pool_tx_ref,priority:3"`
	Amount        decimal.Decimal     `json:"amount" gorm:"type:decimal(36,18);not null"`
	YieldRealized decimal.Decimal     `json:"yield_realized" gorm:"type:decimal(36,18)"`
	BalanceAfter  decimal.Decimal     `json:"balance_after" gorm:"type:decimal(36,18);not null"`
	OrderID       *uint               `json:"order_id,omitempty" gorm:"index"`
	ActorID       string              `json:"actor_id,omitempty" gorm:"size:64"`
	CreatedAt     time.Time           `json:"created_at"`
}

// TableName returns the table name for PoolTransaction model
func (PoolTransaction) TableName() string {
	return "pool_transactions"
}

// OutboxStatus is the delivery state of an outbox event
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxDone    OutboxStatus = "DONE"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxEvent is a side effect recorded in the same transaction as the state change that caused it
type OutboxEvent struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	EventType     string       `json:"event_type" gorm:"not null;size:64;index"`
	AggregateID   string       `json:"aggregate_id" gorm:"not null;size:64;index"`
	Payload       string       `json:"payload" gorm:"type:text;not null"`
	Status        OutboxStatus `json:"status" gorm:"not null;size:20;index:idx_outbox_due,priority:1"`
	Attempts      int          `json:"attempts" gorm:"not null;default:0"`
	LastError     string       `json:"last_error,omitempty" gorm:"type:text"`
	NextAttemptAt time.Time    `json:"next_attempt_at" gorm:"index:idx_outbox_due,priority:2"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TableName returns the table name for OutboxEvent model
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// BeforeCreate hook to set default values
func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.EventType == "" {
		return gorm.ErrInvalidData
	}
	if e.Status == "" {
		e.Status = OutboxPending
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = time.Now().UTC()
	}
	return nil
}

// All lists every model managed by AutoMigrate
func All() []interface{} {
	return []interface{}{
		&Investor{},
		&Fund{},
		&Order{},
		&Pool{},
		&PoolTransaction{},
		&OutboxEvent{},
	}
}
