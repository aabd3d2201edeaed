package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"order-notifier/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationRequest - тело запроса create-notification к OneSignal.
// Инвариант сервиса: IncludeExternalUserIDs всегда содержит ровно один
// идентификатор (user_id записи-триггера), батчинга нет.
type NotificationRequest struct {
	AppID                  string            `json:"app_id"`
	IncludeExternalUserIDs []string          `json:"include_external_user_ids"`
	Contents               map[string]string `json:"contents"`
	Headings               map[string]string `json:"headings,omitempty"`
	Data                   map[string]string `json:"data,omitempty"`
}

// NotificationResponse - ответ провайдера. Raw хранит тело ответа целиком,
// чтобы HTTP-обработчик мог вернуть его клиенту без пересборки.
type NotificationResponse struct {
	ID         string          `json:"id"`
	Recipients int             `json:"recipients"`
	Errors     json.RawMessage `json:"errors,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// Client определяет операции провайдера push-уведомлений, которые нужны сервису.
type Client interface {
	CreateNotification(ctx context.Context, req NotificationRequest) (*NotificationResponse, error)
	// VerifyCredentials проверяет доступность приложения провайдера
	// (используется на старте, ошибки не фатальны).
	VerifyCredentials(ctx context.Context) error
}

// HTTPClient интерфейс для *http.Client для мокирования.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxResponseBody = 1 << 20 // Ответы провайдера маленькие, больше мегабайта не читаем

type oneSignalClient struct {
	client      HTTPClient
	baseURL     string
	appID       string
	restAPIKey  string
	userAuthKey string
	logger      *zap.Logger
}

// NewOneSignalClient создает REST-клиент OneSignal. Если учетные данные не
// заданы, возвращается заглушка (как и для ненастроенных платформ в пушах).
func NewOneSignalClient(client HTTPClient, cfg config.OneSignalConfig, logger *zap.Logger) Client {
	if !cfg.Configured() {
		logger.Warn("Учетные данные OneSignal не заданы, используется заглушка клиента")
		return NewStubClient(logger)
	}
	if cfg.UserAuthKey == "" {
		logger.Warn("ONESIGNAL_USER_AUTH_KEY не задан, проверка учетных данных на старте будет пропущена")
	}
	logger.Info("Инициализация OneSignal клиента",
		zap.String("api_url", cfg.APIURL),
		zap.String("app_id", cfg.AppID),
	)
	return &oneSignalClient{
		client:      client,
		baseURL:     cfg.APIURL,
		appID:       cfg.AppID,
		restAPIKey:  cfg.RestAPIKey,
		userAuthKey: cfg.UserAuthKey,
		logger:      logger.Named("onesignal_client"),
	}
}

func (c *oneSignalClient) CreateNotification(ctx context.Context, req NotificationRequest) (*NotificationResponse, error) {
	if req.AppID == "" {
		req.AppID = c.appID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса к OneSignal: %w", err)
	}

	targetURL := c.baseURL + "/api/v1/notifications"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к OneSignal: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Basic "+c.restAPIKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.logger.Error("Ошибка выполнения запроса к OneSignal", zap.Error(err), zap.Duration("duration", duration))
		return nil, fmt.Errorf("ошибка запроса к OneSignal: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа OneSignal: %w", err)
	}

	c.logger.Debug("Ответ от OneSignal получен",
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Error("OneSignal вернул неожиданный статус",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return nil, fmt.Errorf("onesignal вернул статус %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed NotificationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("ошибка декодирования ответа OneSignal: %w", err)
	}
	parsed.Raw = json.RawMessage(respBody)

	// 200 с полем errors - не HTTP-ошибка, но стоит заметить в логах
	// (например, у пользователя нет подписанных устройств).
	if len(parsed.Errors) > 0 {
		c.logger.Warn("OneSignal принял запрос, но вернул ошибки доставки",
			zap.ByteString("errors", parsed.Errors),
		)
	}

	return &parsed, nil
}

func (c *oneSignalClient) VerifyCredentials(ctx context.Context) error {
	if c.userAuthKey == "" {
		return nil
	}

	targetURL := fmt.Sprintf("%s/api/v1/apps/%s", c.baseURL, c.appID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса проверки учетных данных: %w", err)
	}
	httpReq.Header.Set("Authorization", "Basic "+c.userAuthKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ошибка запроса проверки учетных данных: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("проверка учетных данных OneSignal: статус %d", resp.StatusCode)
	}

	c.logger.Info("Учетные данные OneSignal подтверждены")
	return nil
}

// --- Заглушка клиента ---

type stubClient struct {
	logger *zap.Logger
}

// NewStubClient возвращает клиента-заглушку: ничего не отправляет,
// имитирует успешный ответ провайдера.
func NewStubClient(logger *zap.Logger) Client {
	return &stubClient{logger: logger.Named("stub_onesignal_client")}
}

func (s *stubClient) CreateNotification(ctx context.Context, req NotificationRequest) (*NotificationResponse, error) {
	s.logger.Info("ЗАГЛУШКА: Отправка уведомления",
		zap.Strings("external_user_ids", req.IncludeExternalUserIDs),
		zap.Any("contents", req.Contents),
	)
	id := "stub-" + uuid.NewString()
	raw := fmt.Sprintf(`{"id":%q,"recipients":1}`, id)
	return &NotificationResponse{
		ID:         id,
		Recipients: 1,
		Raw:        json.RawMessage(raw),
	}, nil
}

func (s *stubClient) VerifyCredentials(ctx context.Context) error {
	return nil
}
