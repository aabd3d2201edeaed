package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы записи журнала доставки.
const (
	DeliveryStatusSent      = "sent"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusDuplicate = "duplicate"
)

// DeliveryLog - одна попытка отправки уведомления (аудит, best-effort).
type DeliveryLog struct {
	ID                     uuid.UUID `json:"id" db:"id"`
	EventID                *string   `json:"event_id,omitempty" db:"event_id"`
	UserID                 string    `json:"user_id" db:"user_id"`
	Price                  string    `json:"price" db:"price"`
	Message                string    `json:"message" db:"message"`
	Status                 string    `json:"status" db:"status"`
	ProviderNotificationID *string   `json:"provider_notification_id,omitempty" db:"provider_notification_id"`
	ProviderError          *string   `json:"provider_error,omitempty" db:"provider_error"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
}

// DispatchOutcome - событие об исходе отправки, публикуемое в exchange
// для внешних потребителей (аналитика, алертинг).
type DispatchOutcome struct {
	DeliveryID             uuid.UUID `json:"delivery_id"`
	EventID                string    `json:"event_id,omitempty"`
	UserID                 string    `json:"user_id"`
	Status                 string    `json:"status"`
	ProviderNotificationID string    `json:"provider_notification_id,omitempty"`
	Error                  string    `json:"error,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}
