package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/coin-billing/internal/models"
)

// Publisher — канал, в который можно публиковать.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ в формате JSON.
func PublishMessage(ch Publisher, exchange string, routingkey string, message any) error {
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

// Notifier публикует уведомления об окончании тарифа.
type Notifier struct {
	ch       Publisher
	exchange string
}

// NewNotifier создаёт Notifier для обменника exchange.
func NewNotifier(ch Publisher, exchange string) *Notifier {
	return &Notifier{ch: ch, exchange: exchange}
}

// PlanExpired публикует уведомление с ключом RoutingPlanExpired.
func (n *Notifier) PlanExpired(ctx context.Context, notice models.PlanExpiredNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return PublishMessage(n.ch, n.exchange, RoutingPlanExpired, notice)
}
