package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счетчики исходов отправки. HTTP-метрики (latency, статусы) снимает
// gin-prometheus middleware, здесь только доменные счетчики.
var (
	NotificationsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_notifier_notifications_dispatched_total",
		Help: "Количество успешно отправленных провайдеру уведомлений.",
	})

	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_notifier_notifications_failed_total",
		Help: "Количество неуспешных попыток отправки (валидация или провайдер).",
	})

	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_notifier_events_deduplicated_total",
		Help: "Количество событий, пропущенных как дубликаты.",
	})
)
