package handler

import "order-notifier/internal/models"

// orderWebhookRequest - тело входящего вебхука "создана строка orders".
// Record - указатель, чтобы отличать отсутствующее поле record от пустого.
type orderWebhookRequest struct {
	EventID string              `json:"event_id,omitempty"`
	Record  *models.OrderRecord `json:"record"`
}
