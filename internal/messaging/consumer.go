package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-notifier/internal/models"
	"order-notifier/internal/service"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// processTimeout - таймаут на обработку одного сообщения, включая вызов провайдера.
const processTimeout = 30 * time.Second

type Consumer struct {
	conn        *amqp.Connection
	logger      *zap.Logger
	queueName   string
	concurrency int
	processor   *Processor
	stopChannel chan struct{}
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, logger *zap.Logger, queueName string, concurrency int, processor *Processor) (*Consumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		conn:        conn,
		logger:      logger.Named("consumer"),
		queueName:   queueName,
		concurrency: concurrency,
		processor:   processor,
		stopChannel: make(chan struct{}),
	}, nil
}

func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}
	c.logger.Info("Очередь успешно объявлена/найдена", zap.String("queue", q.Name))

	// Ограничиваем количество сообщений в обработке числом воркеров
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"order-notifier-consumer", // consumer tag
		false,                     // auto-ack = false
		false,                     // exclusive
		false,                     // no-local
		false,                     // no-wait
		nil,                       // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание сообщений...", zap.Int("concurrency", c.concurrency))

	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			logger := c.logger.With(zap.Int("worker_id", workerID))
			logger.Info("Воркер запущен")
			for {
				select {
				case <-ctx.Done():
					logger.Info("Воркер останавливается из-за отмены контекста")
					return
				case <-c.stopChannel:
					logger.Info("Воркер останавливается из-за сигнала stopChannel")
					return
				case d, ok := <-msgs:
					if !ok {
						logger.Info("Канал сообщений закрыт, воркер завершает работу")
						return
					}
					c.processor.ProcessMessage(ctx, d)
				}
			}
		}(i)
	}

	<-c.stopChannel
	c.logger.Info("Получен сигнал остановки, отменяем контекст воркеров...")
	c.cancelFunc()
	c.wg.Wait()
	c.logger.Info("Все воркеры консьюмера остановлены")
	return nil
}

func (c *Consumer) Stop() {
	c.logger.Info("Инициирована остановка консьюмера...")
	close(c.stopChannel)
}

// Processor обрабатывает входящие сообщения о вставке заказов.
type Processor struct {
	logger     *zap.Logger
	dispatcher service.Dispatcher
}

func NewProcessor(logger *zap.Logger, dispatcher service.Dispatcher) *Processor {
	return &Processor{
		logger:     logger.Named("processor"),
		dispatcher: dispatcher,
	}
}

// ProcessMessage разбирает сообщение и отправляет уведомление. Семантика
// одной попытки сохраняется: при любой ошибке сообщение отклоняется без
// повторной постановки в очередь (nack, requeue=false).
func (p *Processor) ProcessMessage(ctx context.Context, d amqp.Delivery) {
	p.logger.Debug("Обработка сообщения", zap.Uint64("delivery_tag", d.DeliveryTag))

	var msg OrderEventMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		p.logger.Error("Ошибка десериализации JSON",
			zap.Error(err),
			zap.ByteString("body", d.Body),
			zap.Uint64("delivery_tag", d.DeliveryTag))
		if ackErr := d.Nack(false, false); ackErr != nil {
			p.logger.Error("Ошибка Nack сообщения после ошибки JSON", zap.Error(ackErr), zap.Uint64("delivery_tag", d.DeliveryTag))
		}
		return
	}

	if msg.Record == nil {
		p.logger.Error("В сообщении отсутствует поле record", zap.Uint64("delivery_tag", d.DeliveryTag))
		if ackErr := d.Nack(false, false); ackErr != nil {
			p.logger.Error("Ошибка Nack сообщения без record", zap.Error(ackErr), zap.Uint64("delivery_tag", d.DeliveryTag))
		}
		return
	}

	event := models.OrderEvent{
		EventID: msg.EventID,
		Record:  *msg.Record,
	}

	processCtx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	_, err := p.dispatcher.DispatchOrder(processCtx, event)
	if err != nil {
		// Дубликат - штатная ситуация при повторной доставке брокером
		if errors.Is(err, models.ErrDuplicateEvent) {
			p.logger.Info("Событие-дубликат подтверждено без отправки",
				zap.String("event_id", event.EventID),
				zap.Uint64("delivery_tag", d.DeliveryTag))
			if ackErr := d.Ack(false); ackErr != nil {
				p.logger.Error("Ошибка Ack сообщения-дубликата", zap.Error(ackErr), zap.Uint64("delivery_tag", d.DeliveryTag))
			}
			return
		}

		p.logger.Error("Ошибка обработки события заказа",
			zap.Error(err),
			zap.String("user_id", event.Record.UserID),
			zap.Uint64("delivery_tag", d.DeliveryTag))
		if ackErr := d.Nack(false, false); ackErr != nil {
			p.logger.Error("Ошибка Nack сообщения после ошибки обработки", zap.Error(ackErr), zap.Uint64("delivery_tag", d.DeliveryTag))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		p.logger.Error("Ошибка Ack сообщения после успешной обработки", zap.Error(ackErr), zap.Uint64("delivery_tag", d.DeliveryTag))
		return
	}
	p.logger.Info("Сообщение успешно обработано и подтверждено (Ack)", zap.Uint64("delivery_tag", d.DeliveryTag))
}
