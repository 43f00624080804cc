// Package scheduler собирает приложение планировщика уведомлений.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	premiumaccess "github.com/magabrotheeeer/premium-access/internal/app/premium-access"
	"github.com/magabrotheeeer/premium-access/internal/config"
	"github.com/magabrotheeeer/premium-access/internal/entitlement"
	"github.com/magabrotheeeer/premium-access/internal/lib/rabbitmq"
	schedulerservice "github.com/magabrotheeeer/premium-access/internal/services/scheduler"
	"github.com/magabrotheeeer/premium-access/internal/storage"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	store            storage.Store
	conn             *amqp.Connection
	ch               *amqp.Channel
	cfg              *config.Config
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	queues := rabbitmq.GetNotificationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	store, err := premiumaccess.NewStore(cfg, logger)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	eval := entitlement.New(entitlement.Durations{
		Trial:      cfg.TrialDuration,
		FreePeriod: cfg.FreePeriodDuration,
	})
	publisher := rabbitmq.NewChannelPublisher(ch)
	schedulerService := schedulerservice.New(store, eval, publisher, logger)

	return &App{
		schedulerService: schedulerService,
		store:            store,
		conn:             conn,
		ch:               ch,
		cfg:              cfg,
		logger:           logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает периодические обходы.
func (a *App) Run(ctx context.Context) error {
	go a.schedulerService.FreePeriodEndingNotices(ctx, a.cfg.SweepInterval)
	go a.schedulerService.SubscriptionEndingNotices(ctx, a.cfg.SweepInterval)
	go a.schedulerService.UpsellReminders(ctx, a.cfg.UpsellEvery)

	<-ctx.Done()

	a.logger.Info("shutting down scheduler service")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", slog.Any("err", err))
	}

	return nil
}
