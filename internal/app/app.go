package app

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/SimpleFund/internal/capacity"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/database"
	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/fund"
	"github.com/irfndi/SimpleFund/internal/investor"
	"github.com/irfndi/SimpleFund/internal/lock"
	"github.com/irfndi/SimpleFund/internal/order"
	"github.com/irfndi/SimpleFund/internal/outbox"
	"github.com/irfndi/SimpleFund/internal/pool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds the services shared by the API and worker processes
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Locker     lock.Locker
	Publisher  *events.MultiPublisher
	Outbox     outbox.OutboxRepository
	Dispatcher *outbox.Dispatcher
	Recorder   *outbox.Recorder
	Orders     order.OrderRepository

	Ledger    capacity.Ledger
	Funds     fund.Service
	Investors investor.Service
	Pools     pool.Service
	Ordering  order.Service

	closers []func() error
}

// New connects the configured backends and builds the service graph. Extra
// publishers, such as the WebSocket hub, receive every dispatched event.
func New(ctx context.Context, cfg *config.Config, extra ...events.Publisher) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	a.Locker = a.newLocker(ctx)
	a.Publisher = events.NewMultiPublisher(append(a.brokers(), extra...)...)

	a.Outbox = outbox.NewOutboxRepository(db)
	a.Dispatcher = outbox.NewDispatcher(a.Outbox, a.Publisher, cfg.Worker)
	a.Recorder = outbox.NewRecorder(a.Outbox, a.Dispatcher)

	a.Ledger = capacity.NewLedger(db)
	a.Funds = fund.NewService(fund.NewFundRepository(db), a.Ledger)
	a.Investors = investor.NewService(investor.NewInvestorRepository(db))
	a.Pools = pool.NewService(db, pool.NewPoolRepository(db), a.Funds, a.Locker, a.Recorder)
	a.Orders = order.NewOrderRepository(db)
	a.Ordering = order.NewService(db, a.Orders, a.Funds, a.Ledger, a.Investors, a.Locker, a.Recorder,
		order.Options{RequireVerifiedPayment: cfg.RequireVerifiedPayment})

	order.RegisterEffects(a.Dispatcher, a.Pools, a.Investors)

	return a, nil
}

func (a *App) newLocker(ctx context.Context) lock.Locker {
	if !a.Config.Redis.Enabled() {
		logrus.Info("Redis not configured, using in-process locks")
		return lock.NewLocalLocker(64)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Warn("Failed to connect to Redis, using in-process locks")
		rdb.Close()
		return lock.NewLocalLocker(64)
	}

	a.closers = append(a.closers, rdb.Close)
	logrus.WithField("addr", a.Config.Redis.Addr).Info("Using Redis locks")
	return lock.NewRedisLocker(rdb, "simplefund:lock:", a.Config.Redis.LockTTL)
}

func (a *App) brokers() []events.Publisher {
	var publishers []events.Publisher
	ev := a.Config.Events

	if ev.RabbitMQURL != "" {
		amqpPub, err := events.DialAMQP(ev.RabbitMQURL, ev.RabbitMQQueue, 5, 2*time.Second)
		if err != nil {
			logrus.WithError(err).Warn("RabbitMQ unavailable, events will not be queued")
		} else {
			publishers = append(publishers, amqpPub)
			a.closers = append(a.closers, amqpPub.Close)
		}
	}

	if len(ev.KafkaBrokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(ev.KafkaBrokers, ev.KafkaTopic)
		publishers = append(publishers, kafkaPub)
		a.closers = append(a.closers, kafkaPub.Close)
		logrus.WithField("topic", ev.KafkaTopic).Info("Publishing events to Kafka")
	}

	return publishers
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close: %w", err)
		}
	}
	a.closers = nil
	return firstErr
}
