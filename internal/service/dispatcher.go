package service

import (
	"context"
	"fmt"
	"time"

	"order-notifier/internal/metrics"
	"order-notifier/internal/models"
	"order-notifier/internal/provider"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher определяет интерфейс сервиса отправки уведомлений для транспортов
// (HTTP-обработчик и консьюмер очереди).
type Dispatcher interface {
	DispatchOrder(ctx context.Context, event models.OrderEvent) (*provider.NotificationResponse, error)
	RecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryLog, error)
}

// DeliveryLogRepository - журнал попыток доставки.
type DeliveryLogRepository interface {
	Create(ctx context.Context, entry *models.DeliveryLog) error
	ListRecent(ctx context.Context, limit int) ([]models.DeliveryLog, error)
}

// DedupStore отмечает обработанные event_id.
// MarkSeen возвращает true, если событие видим впервые.
type DedupStore interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
}

// OutcomePublisher публикует события об исходах отправки.
type OutcomePublisher interface {
	PublishDispatchOutcome(ctx context.Context, outcome models.DispatchOutcome) error
}

type dispatchService struct {
	client       provider.Client
	deliveryLogs DeliveryLogRepository
	dedup        DedupStore
	outcomes     OutcomePublisher
	logger       *zap.Logger
}

// NewDispatchService создает сервис отправки уведомлений.
// deliveryLogs, dedup и outcomes опциональны (nil отключает соответствующий шаг):
// сама отправка от них не зависит.
func NewDispatchService(
	client provider.Client,
	deliveryLogs DeliveryLogRepository,
	dedup DedupStore,
	outcomes OutcomePublisher,
	logger *zap.Logger,
) *dispatchService {
	return &dispatchService{
		client:       client,
		deliveryLogs: deliveryLogs,
		dedup:        dedup,
		outcomes:     outcomes,
		logger:       logger.Named("dispatch_service"),
	}
}

var _ Dispatcher = (*dispatchService)(nil)

// DispatchOrder превращает одно событие "создан заказ" в ровно один запрос
// create-notification к провайдеру. Одна попытка, без ретраев: любая ошибка
// терминальна для события.
func (s *dispatchService) DispatchOrder(ctx context.Context, event models.OrderEvent) (*provider.NotificationResponse, error) {
	log := s.logger.With(
		zap.String("user_id", event.Record.UserID),
		zap.String("event_id", event.EventID),
	)
	log.Info("Получен запрос на отправку уведомления")

	if err := validateRecord(event.Record); err != nil {
		metrics.NotificationsFailed.Inc()
		log.Warn("Запись заказа не прошла валидацию", zap.Error(err))
		return nil, err
	}

	// Дедупликация только для событий с event_id. Вебхук его не присылает,
	// такие события отправляются всегда.
	if event.EventID != "" && s.dedup != nil {
		first, err := s.dedup.MarkSeen(ctx, event.EventID)
		if err != nil {
			// Недоступность хранилища дедупликации не блокирует отправку
			log.Warn("Ошибка проверки дубликата, событие будет отправлено", zap.Error(err))
		} else if !first {
			metrics.EventsDeduplicated.Inc()
			log.Info("Событие уже обработано, отправка пропущена")
			s.record(ctx, event, buildOrderMessage(event.Record), models.DeliveryStatusDuplicate, nil, nil)
			return nil, models.ErrDuplicateEvent
		}
	}

	message := buildOrderMessage(event.Record)
	req := provider.NotificationRequest{
		// Ровно один получатель - user_id записи-триггера
		IncludeExternalUserIDs: []string{event.Record.UserID},
		Contents:               map[string]string{"en": message},
	}

	resp, err := s.client.CreateNotification(ctx, req)
	if err != nil {
		metrics.NotificationsFailed.Inc()
		log.Error("Провайдер отклонил уведомление", zap.Error(err))
		s.record(ctx, event, message, models.DeliveryStatusFailed, nil, err)
		return nil, fmt.Errorf("ошибка отправки уведомления: %w", err)
	}

	metrics.NotificationsDispatched.Inc()
	log.Info("Уведомление отправлено",
		zap.String("provider_notification_id", resp.ID),
		zap.Int("recipients", resp.Recipients),
	)
	s.record(ctx, event, message, models.DeliveryStatusSent, resp, nil)
	return resp, nil
}

func (s *dispatchService) RecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryLog, error) {
	if s.deliveryLogs == nil {
		return []models.DeliveryLog{}, nil
	}
	return s.deliveryLogs.ListRecent(ctx, limit)
}

func validateRecord(rec models.OrderRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("%w: пустой user_id", models.ErrInvalidRecord)
	}
	if !rec.Price.Present() {
		return fmt.Errorf("%w: отсутствует или нечисловая price", models.ErrInvalidRecord)
	}
	return nil
}

func buildOrderMessage(rec models.OrderRecord) string {
	return fmt.Sprintf("You just spent $%s!", rec.Price.String())
}

// record пишет запись в журнал и публикует исход. Оба шага best-effort:
// их ошибки логируются, но не влияют на результат отправки.
func (s *dispatchService) record(
	ctx context.Context,
	event models.OrderEvent,
	message string,
	status string,
	resp *provider.NotificationResponse,
	dispatchErr error,
) {
	entry := &models.DeliveryLog{
		ID:        uuid.New(),
		UserID:    event.Record.UserID,
		Price:     event.Record.Price.String(),
		Message:   message,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if event.EventID != "" {
		eventID := event.EventID
		entry.EventID = &eventID
	}
	if resp != nil && resp.ID != "" {
		providerID := resp.ID
		entry.ProviderNotificationID = &providerID
	}
	if dispatchErr != nil {
		errText := dispatchErr.Error()
		entry.ProviderError = &errText
	}

	if s.deliveryLogs != nil {
		if err := s.deliveryLogs.Create(ctx, entry); err != nil {
			s.logger.Error("Не удалось записать журнал доставки", zap.Error(err), zap.String("delivery_id", entry.ID.String()))
		}
	}

	if s.outcomes != nil {
		outcome := models.DispatchOutcome{
			DeliveryID: entry.ID,
			EventID:    event.EventID,
			UserID:     event.Record.UserID,
			Status:     status,
			OccurredAt: entry.CreatedAt,
		}
		if entry.ProviderNotificationID != nil {
			outcome.ProviderNotificationID = *entry.ProviderNotificationID
		}
		if entry.ProviderError != nil {
			outcome.Error = *entry.ProviderError
		}
		if err := s.outcomes.PublishDispatchOutcome(ctx, outcome); err != nil {
			s.logger.Error("Не удалось опубликовать исход отправки", zap.Error(err), zap.String("delivery_id", entry.ID.String()))
		}
	}
}
