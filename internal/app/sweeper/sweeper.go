// Package sweeper собирает приложение, которое периодически завершает истёкшие тарифы
// и публикует уведомления об их окончании.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/coin-billing/internal/config"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/lock"
	"github.com/magabrotheeeer/coin-billing/internal/pricing"
	"github.com/magabrotheeeer/coin-billing/internal/rabbitmq"
	"github.com/magabrotheeeer/coin-billing/internal/services/ledger"
	"github.com/magabrotheeeer/coin-billing/internal/services/subscription"
	"github.com/magabrotheeeer/coin-billing/internal/services/wallet"
	"github.com/magabrotheeeer/coin-billing/internal/storage/repository"
)

// App представляет приложение прохода по истёкшим тарифам.
type App struct {
	sweeper *subscription.Sweeper
	db      *repository.Storage
	locker  *lock.Locker
	conn    *amqp.Connection
	ch      *amqp.Channel
	logger  *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		if err := db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создаёт приложение. Redis и RabbitMQ необязательны: без Redis проход идёт
// без блокировки, без RabbitMQ уведомления не отправляются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{logger: logger}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	app.db = db
	if err := waitForDB(ctx, db); err != nil {
		app.close()
		return nil, err
	}

	prices, err := pricing.Load(cfg.PricingPath)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to load price table: %w", err)
	}

	wallets := wallet.NewService(db, ledger.NewRecorder(db, logger), logger)
	manager := subscription.NewManager(db, wallets, prices, logger).WithBatchSize(cfg.SweepBatchSize)

	if cfg.RabbitMQURL != "" {
		app.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		app.ch, err = rabbitmq.SetupChannel(app.conn, 1, rabbitmq.BillingQueues(cfg.PaymentsQueue, cfg.NotificationsExchange))
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		manager.WithNotifier(rabbitmq.NewNotifier(app.ch, cfg.NotificationsExchange))
	} else {
		logger.Warn("rabbitmq url is empty, plan expiry notifications disabled")
	}

	var locker subscription.Locker
	if cfg.AddressRedis != "" {
		app.locker, err = lock.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		locker = app.locker
	} else {
		logger.Warn("redis address is empty, sweeping without a lock")
	}

	app.sweeper = subscription.NewSweeper(manager, locker, cfg.SweepInterval, cfg.SweepLockTTL, logger)
	return app, nil
}

// Run выполняет проходы до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	return a.sweeper.Run(ctx)
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", sl.Err(err))
		}
	}
}
