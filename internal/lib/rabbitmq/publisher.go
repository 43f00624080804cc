package rabbitmq

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ChannelPublisher публикует уведомления в обменник уведомлений
// через открытый канал.
type ChannelPublisher struct {
	ch *amqp.Channel
}

// NewChannelPublisher создает ChannelPublisher поверх канала.
func NewChannelPublisher(ch *amqp.Channel) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

// Publish публикует сообщение с ключом маршрутизации в обменник уведомлений.
func (p *ChannelPublisher) Publish(routingKey string, message any) error {
	return PublishMessage(p.ch, Exchange, routingKey, message)
}
