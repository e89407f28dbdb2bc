package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/irfndi/SimpleFund/internal/app"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/logging"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/irfndi/SimpleFund/internal/reconcile"
	"github.com/irfndi/SimpleFund/internal/settlement"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err = c.AddFunc(cfg.Worker.OutboxSchedule, func() {
		n, err := application.Dispatcher.DispatchPending(ctx)
		if err != nil {
			logrus.WithError(err).Error("Outbox dispatch failed")
			return
		}
		if n > 0 {
			logrus.WithField("delivered", n).Info("Outbox batch dispatched")
		}
		if pending, err := application.Outbox.CountPending(ctx); err == nil {
			metrics.GetCollector().OutboxBacklog.Set(float64(pending))
		}
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to schedule outbox dispatch")
	}

	if cfg.Chain.RPCURL != "" {
		verifier, closeVerifier, err := settlement.DialEthVerifier(ctx, cfg.Chain.RPCURL, cfg.Chain.AssetDecimals, cfg.Chain.TokenDecimals)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to settlement network")
		}
		defer closeVerifier()

		reconciler := reconcile.NewReconciler(application.DB, application.Orders, application.Funds, verifier,
			application.Recorder, cfg.Worker)
		_, err = c.AddFunc(cfg.Worker.ReconcileSchedule, func() {
			summary, err := reconciler.Run(ctx)
			if err != nil {
				logrus.WithError(err).Error("Reconciliation pass failed")
				return
			}
			if summary.Checked > 0 {
				logrus.WithFields(logrus.Fields{
					"checked":  summary.Checked,
					"verified": summary.Verified,
					"mismatch": summary.Mismatch,
					"pending":  summary.Pending,
					"errors":   summary.Errors,
				}).Info("Reconciliation pass finished")
			}
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to schedule reconciliation")
		}
	} else {
		logrus.Warn("CHAIN_RPC_URL not set, payment references will stay unverified")
	}

	c.Start()
	logrus.WithField("jobs", len(c.Entries())).Info("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down worker...")

	// Let running jobs finish before the connections close
	<-c.Stop().Done()
	cancel()

	logrus.Info("Worker exited")
}
