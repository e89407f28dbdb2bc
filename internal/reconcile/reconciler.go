package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/fund"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/irfndi/SimpleFund/internal/order"
	"github.com/irfndi/SimpleFund/internal/outbox"
	"github.com/irfndi/SimpleFund/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Summary counts the outcomes of one reconciliation pass
type Summary struct {
	Checked  int `json:"checked"`
	Verified int `json:"verified"`
	Mismatch int `json:"mismatch"`
	Pending  int `json:"pending"`
	Errors   int `json:"errors"`
}

// Reconciler checks client-reported payment references against the settlement network
type Reconciler struct {
	db       *gorm.DB
	orders   order.OrderRepository
	funds    fund.Directory
	verifier settlement.Verifier
	recorder *outbox.Recorder
	batch    int
	grace    time.Duration
	now      func() time.Time
	metrics  *metrics.Collector
}

// NewReconciler creates a reconciler. References that stay NOT_FOUND for longer than
// cfg.ReconcileGrace after completion are marked MISMATCH.
func NewReconciler(db *gorm.DB, orders order.OrderRepository, funds fund.Directory, verifier settlement.Verifier,
	recorder *outbox.Recorder, cfg config.WorkerConfig) *Reconciler {
	r := &Reconciler{
		db:       db,
		orders:   orders,
		funds:    funds,
		verifier: verifier,
		recorder: recorder,
		batch:    cfg.ReconcileBatch,
		grace:    cfg.ReconcileGrace,
		now:      func() time.Time { return time.Now().UTC() },
		metrics:  metrics.GetCollector(),
	}
	if r.batch <= 0 {
		r.batch = 25
	}
	if r.grace <= 0 {
		r.grace = 30 * time.Minute
	}
	return r
}

// Run verifies one batch of unverified completed orders
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	orders, err := r.orders.Unverified(ctx, r.batch)
	if err != nil {
		return summary, fmt.Errorf("failed to load unverified orders: %w", err)
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		summary.Checked++

		status, note, err := r.check(ctx, o)
		logger := logrus.WithFields(logrus.Fields{
			"order_id":  o.OrderID,
			"reference": o.PaymentReference,
		})
		if err != nil {
			summary.Errors++
			logger.WithError(err).Warn("Payment verification failed, will retry")
			continue
		}

		switch status {
		case models.VerificationVerified:
			summary.Verified++
		case models.VerificationMismatch:
			summary.Mismatch++
		default:
			summary.Pending++
			continue
		}

		if err := r.record(ctx, o, status, note); err != nil {
			summary.Errors++
			logger.WithError(err).Error("Failed to record verification result")
			continue
		}
		logger.WithField("status", status).Info("Payment reference reconciled")
	}

	return summary, nil
}

// check maps a network verification to the order's verification status.
// An empty status means the order stays UNVERIFIED for a later pass.
func (r *Reconciler) check(ctx context.Context, o *models.Order) (models.VerificationStatus, string, error) {
	f, err := r.funds.GetFund(ctx, o.FundID)
	if err != nil {
		return "", "", err
	}
	expect := settlement.TransferInstruction{
		Kind:           settlement.KindPayment,
		Destination:    f.SettlementDestination,
		Amount:         o.TotalAmount,
		CorrelationTag: o.CorrelationTag,
	}
	if expect.Amount.LessThanOrEqual(decimal.Zero) || expect.Destination == "" {
		return models.VerificationMismatch, "order has no payable settlement", nil
	}

	result, err := r.verifier.Verify(ctx, o.PaymentReference, expect)
	if err != nil {
		return "", "", err
	}
	r.metrics.RecordVerification(string(result.Result))

	switch result.Result {
	case settlement.ResultConfirmed:
		return models.VerificationVerified, "", nil
	case settlement.ResultMismatch:
		return models.VerificationMismatch, result.Note, nil
	case settlement.ResultNotFound:
		if o.CompletedAt != nil && r.now().Sub(o.CompletedAt.UTC()) > r.grace {
			return models.VerificationMismatch, "reference not found on network", nil
		}
	}
	return "", "", nil
}

func (r *Reconciler) record(ctx context.Context, o *models.Order, status models.VerificationStatus, note string) error {
	var eventID uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := r.orders.SetVerification(tx, o.ID, status, note)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		eventID, err = r.recorder.Record(tx, events.OrderVerified, o.OrderID, map[string]interface{}{
			"id":                  o.ID,
			"order_id":            o.OrderID,
			"fund_id":             o.FundID,
			"investor_id":         o.InvestorID,
			"reference":           o.PaymentReference,
			"verification_status": status,
			"note":                note,
		})
		return err
	})
	if err != nil {
		return err
	}
	r.recorder.Flush(ctx, eventID)
	return nil
}
