// Package sender собирает приложение воркера-отправителя уведомлений.
package sender

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/premium-access/internal/config"
	"github.com/magabrotheeeer/premium-access/internal/lib/rabbitmq"
	senderservice "github.com/magabrotheeeer/premium-access/internal/services/sender"
)

// App представляет приложение отправителя.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

// New создает новый экземпляр приложения отправителя.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	queues := rabbitmq.GetNotificationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		conn.Close()
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	senderService := senderservice.New(bot, logger)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// Run запускает потребителей очередей уведомлений.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, "notifications.freeperiod", a.senderService.SendFreePeriodEndingNotice)
	if err != nil {
		a.logger.Error("failed to start freeperiod consumer", slog.Any("err", err))
		return err
	}

	err = rabbitmq.ConsumerMessage(ctx, a.ch, "notifications.subscription", a.senderService.SendSubscriptionEndingNotice)
	if err != nil {
		a.logger.Error("failed to start subscription consumer", slog.Any("err", err))
		return err
	}

	err = rabbitmq.ConsumerMessage(ctx, a.ch, "notifications.upsell", a.senderService.SendUpsellReminder)
	if err != nil {
		a.logger.Error("failed to start upsell consumer", slog.Any("err", err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	return nil
}
