package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-notifier/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQOutcomePublisher публикует исходы отправки в fanout exchange.
type RabbitMQOutcomePublisher struct {
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQOutcomePublisher создает издателя исходов отправки.
// Предполагается, что соединение уже установлено и стабильно;
// обработка переподключений - забота внешнего кода.
func NewRabbitMQOutcomePublisher(conn *amqp.Connection, exchange string, logger *zap.Logger) (*RabbitMQOutcomePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Durable fanout exchange: переживает перезапуск брокера,
	// подписчики (аналитика, алертинг) добавляются независимо.
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	logger.Info("Exchange для исходов отправки объявлен", zap.String("exchange", exchange))

	return &RabbitMQOutcomePublisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger.Named("outcome_publisher"),
	}, nil
}

// PublishDispatchOutcome публикует событие об исходе отправки.
func (p *RabbitMQOutcomePublisher) PublishDispatchOutcome(ctx context.Context, outcome models.DispatchOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch outcome: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		"",         // routing key (не используется для fanout)
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
			MessageId:   outcome.DeliveryID.String(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch outcome: %w", err)
	}

	p.logger.Debug("Исход отправки опубликован",
		zap.String("delivery_id", outcome.DeliveryID.String()),
		zap.String("status", outcome.Status),
	)
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQOutcomePublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
