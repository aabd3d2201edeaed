package handler

import (
	"errors"
	"net/http"
	"strconv"

	"order-notifier/internal/models"
	"order-notifier/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultDeliveriesLimit = 50
	maxDeliveriesLimit     = 200
)

type WebhookHandler struct {
	dispatcher service.Dispatcher
	logger     *zap.Logger
}

func NewWebhookHandler(dispatcher service.Dispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     logger.Named("webhook_handler"),
	}
}

// RegisterRoutes регистрирует маршруты. authMiddleware проверяет общий секрет,
// rateLimitMiddleware ограничивает частоту входящих вебхуков по IP.
func (h *WebhookHandler) RegisterRoutes(router *gin.Engine, authMiddleware, rateLimitMiddleware gin.HandlerFunc) {
	webhooks := router.Group("/webhooks")
	webhooks.Use(authMiddleware)
	if rateLimitMiddleware != nil {
		webhooks.Use(rateLimitMiddleware)
	}
	{
		webhooks.POST("/orders", h.handleOrderInserted)
	}

	internalGroup := router.Group("/internal")
	internalGroup.Use(authMiddleware)
	{
		internalGroup.GET("/deliveries", h.listDeliveries)
	}
}

// handleOrderInserted превращает вебхук о вставке строки orders в одно
// уведомление провайдеру. Контракт ответа: 200 + {"onesignalResponse": ...}
// при успехе, 400 + plain text при любой ошибке (разбор, валидация, провайдер).
func (h *WebhookHandler) handleOrderInserted(c *gin.Context) {
	var req orderWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Не удалось разобрать тело вебхука", zap.Error(err))
		c.String(http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if req.Record == nil {
		h.logger.Warn("В теле вебхука отсутствует поле record")
		c.String(http.StatusBadRequest, "missing record")
		return
	}

	event := models.OrderEvent{
		EventID: req.EventID,
		Record:  *req.Record,
	}

	resp, err := h.dispatcher.DispatchOrder(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEvent) {
			// Повторная доставка вебхука - не ошибка для отправителя
			c.JSON(http.StatusOK, gin.H{"onesignalResponse": nil, "deduplicated": true})
			return
		}
		h.logger.Error("Отправка уведомления не удалась",
			zap.Error(err),
			zap.String("user_id", event.Record.UserID),
		)
		c.String(http.StatusBadRequest, "failed to dispatch notification")
		return
	}

	c.JSON(http.StatusOK, gin.H{"onesignalResponse": resp.Raw})
}

// listDeliveries возвращает последние записи журнала доставки (внутренний эндпоинт).
func (h *WebhookHandler) listDeliveries(c *gin.Context) {
	limit := defaultDeliveriesLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > maxDeliveriesLimit {
		limit = maxDeliveriesLimit
	}

	deliveries, err := h.dispatcher.RecentDeliveries(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Не удалось получить журнал доставки", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}
