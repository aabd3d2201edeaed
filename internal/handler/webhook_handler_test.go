package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"order-notifier/internal/handler"
	"order-notifier/internal/models"
	"order-notifier/internal/provider"
	"order-notifier/internal/service"
	"order-notifier/internal/service/mocks"
	"order-notifier/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(dispatcher service.Dispatcher, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := handler.NewWebhookHandler(dispatcher, zap.NewNop())
	h.RegisterRoutes(router, middleware.WebhookAuth(secret, zap.NewNop()), nil)
	return router
}

func postOrders(router *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleOrderInserted(t *testing.T) {
	t.Run("Well-formed payload returns wrapped provider response", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		mockDispatcher.On("DispatchOrder", mock.Anything, mock.MatchedBy(func(event models.OrderEvent) bool {
			return event.Record.UserID == "abc123" && event.Record.Price.String() == "100"
		})).Return(&provider.NotificationResponse{
			ID:         "notif-1",
			Recipients: 1,
			Raw:        json.RawMessage(`{"id":"notif-1","recipients":1}`),
		}, nil).Once()

		router := newTestRouter(mockDispatcher, "")
		w := postOrders(router, `{"record":{"user_id":"abc123","price":100}}`, nil)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.JSONEq(t, `{"id":"notif-1","recipients":1}`, string(body["onesignalResponse"]))
		mockDispatcher.AssertExpectations(t)
	})

	t.Run("Missing record returns 400 without dispatch", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		router := newTestRouter(mockDispatcher, "")

		w := postOrders(router, `{"user_id":"abc123","price":100}`, nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		mockDispatcher.AssertNotCalled(t, "DispatchOrder", mock.Anything, mock.Anything)
	})

	t.Run("Non-numeric price returns 400 without dispatch", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		router := newTestRouter(mockDispatcher, "")

		w := postOrders(router, `{"record":{"user_id":"abc123","price":"a lot"}}`, nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		mockDispatcher.AssertNotCalled(t, "DispatchOrder", mock.Anything, mock.Anything)
	})

	t.Run("Malformed JSON returns 400", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		router := newTestRouter(mockDispatcher, "")

		w := postOrders(router, `{"record":`, nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		mockDispatcher.AssertNotCalled(t, "DispatchOrder", mock.Anything, mock.Anything)
	})

	t.Run("Dispatch failure maps to 400, not 5xx", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		mockDispatcher.On("DispatchOrder", mock.Anything, mock.Anything).
			Return(nil, errors.New("onesignal вернул статус 500")).Once()

		router := newTestRouter(mockDispatcher, "")
		w := postOrders(router, `{"record":{"user_id":"abc123","price":100}}`, nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("Duplicate event returns 200 with deduplicated flag", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		mockDispatcher.On("DispatchOrder", mock.Anything, mock.Anything).
			Return(nil, models.ErrDuplicateEvent).Once()

		router := newTestRouter(mockDispatcher, "")
		w := postOrders(router, `{"event_id":"evt-1","record":{"user_id":"abc123","price":100}}`, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"deduplicated":true`)
	})

	t.Run("Webhook secret is enforced", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		router := newTestRouter(mockDispatcher, "super-secret")

		w := postOrders(router, `{"record":{"user_id":"abc123","price":100}}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = postOrders(router, `{"record":{"user_id":"abc123","price":100}}`, map[string]string{
			middleware.WebhookSecretHeader: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockDispatcher.AssertNotCalled(t, "DispatchOrder", mock.Anything, mock.Anything)

		mockDispatcher.On("DispatchOrder", mock.Anything, mock.Anything).Return(&provider.NotificationResponse{
			ID:  "notif-1",
			Raw: json.RawMessage(`{"id":"notif-1"}`),
		}, nil).Once()
		w = postOrders(router, `{"record":{"user_id":"abc123","price":100}}`, map[string]string{
			middleware.WebhookSecretHeader: "super-secret",
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// countingDispatcher считает отправки по user_id (для проверки независимости
// параллельных запросов).
type countingDispatcher struct {
	mu   sync.Mutex
	seen map[string]int
}

func (d *countingDispatcher) DispatchOrder(ctx context.Context, event models.OrderEvent) (*provider.NotificationResponse, error) {
	d.mu.Lock()
	d.seen[event.Record.UserID]++
	d.mu.Unlock()
	return &provider.NotificationResponse{
		ID:  "notif-" + event.Record.UserID,
		Raw: json.RawMessage(fmt.Sprintf(`{"id":"notif-%s"}`, event.Record.UserID)),
	}, nil
}

func (d *countingDispatcher) RecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryLog, error) {
	return []models.DeliveryLog{}, nil
}

func TestHandleOrderInserted_ConcurrentRequests(t *testing.T) {
	dispatcher := &countingDispatcher{seen: make(map[string]int)}
	router := newTestRouter(dispatcher, "")

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"record":{"user_id":"user-%d","price":%d}}`, i, i+1)
			w := postOrders(router, body, nil)
			assert.Equal(t, http.StatusOK, w.Code)
		}(i)
	}
	wg.Wait()

	require.Len(t, dispatcher.seen, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, dispatcher.seen[fmt.Sprintf("user-%d", i)])
	}
}

func TestListDeliveries(t *testing.T) {
	t.Run("Returns recent deliveries", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		mockDispatcher.On("RecentDeliveries", mock.Anything, 50).
			Return([]models.DeliveryLog{{UserID: "abc123", Status: models.DeliveryStatusSent}}, nil).Once()

		router := newTestRouter(mockDispatcher, "")
		req := httptest.NewRequest(http.MethodGet, "/internal/deliveries", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user_id":"abc123"`)
		mockDispatcher.AssertExpectations(t)
	})

	t.Run("Invalid limit rejected", func(t *testing.T) {
		mockDispatcher := new(mocks.Dispatcher)
		router := newTestRouter(mockDispatcher, "")

		req := httptest.NewRequest(http.MethodGet, "/internal/deliveries?limit=abc", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
