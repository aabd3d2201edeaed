package messaging

import "order-notifier/internal/models"

// OrderEventMessage - структура сообщения о вставке заказа из очереди.
// Формат совпадает с телом входящего вебхука, но события из очереди
// обычно несут event_id для дедупликации.
type OrderEventMessage struct {
	EventID string              `json:"event_id,omitempty"`
	Record  *models.OrderRecord `json:"record"`
}
