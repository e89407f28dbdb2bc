package order

import (
	"context"
	"errors"

	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/investor"
	"github.com/irfndi/SimpleFund/internal/models"
	"github.com/irfndi/SimpleFund/internal/outbox"
	"github.com/irfndi/SimpleFund/internal/pool"
	"github.com/sirupsen/logrus"
)

// RegisterEffects wires the side effects of order events into the dispatcher.
// Every handler is idempotent because a failed delivery reruns all of them.
func RegisterEffects(d *outbox.Dispatcher, pools pool.Creditor, investors investor.Recomputer) {
	d.RegisterHandler(events.OrderCompleted, func(ctx context.Context, e models.OutboxEvent) error {
		var payload orderEvent
		if err := outbox.Decode(e, &payload); err != nil {
			return err
		}

		_, err := pools.Credit(ctx, pool.CreditInput{
			FundID:    payload.FundID,
			Amount:    payload.TotalAmount,
			Reference: payload.OrderID,
			OrderID:   payload.ID,
		})
		switch {
		case errors.Is(err, pool.ErrPoolNotFound):
			logrus.WithFields(logrus.Fields{
				"order_id": payload.OrderID,
				"fund_id":  payload.FundID,
			}).Warn("Fund has no pool, order proceeds not credited")
		case err != nil:
			return err
		}

		return investors.RecomputeTotals(ctx, payload.InvestorID)
	})

	d.RegisterHandler(events.OrderRejected, func(ctx context.Context, e models.OutboxEvent) error {
		var payload orderEvent
		if err := outbox.Decode(e, &payload); err != nil {
			return err
		}
		return investors.RecomputeTotals(ctx, payload.InvestorID)
	})
}
