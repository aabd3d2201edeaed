package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"order-notifier/internal/models"
	"order-notifier/internal/provider"
	"order-notifier/internal/service"
	"order-notifier/internal/service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okResponse(id string) *provider.NotificationResponse {
	return &provider.NotificationResponse{
		ID:         id,
		Recipients: 1,
		Raw:        json.RawMessage(fmt.Sprintf(`{"id":%q,"recipients":1}`, id)),
	}
}

func orderEvent(eventID, userID string, price float64) models.OrderEvent {
	return models.OrderEvent{
		EventID: eventID,
		Record: models.OrderRecord{
			UserID: userID,
			Price:  models.NewPrice(price),
		},
	}
}

func TestDispatchOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful dispatch", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		mockLogs := new(mocks.DeliveryLogRepository)
		mockDedup := new(mocks.DedupStore)
		mockOutcomes := new(mocks.OutcomePublisher)
		svc := service.NewDispatchService(mockClient, mockLogs, mockDedup, mockOutcomes, zap.NewNop())

		mockClient.On("CreateNotification", mock.Anything, mock.MatchedBy(func(req provider.NotificationRequest) bool {
			// Текст и единственный получатель
			return req.Contents["en"] == "You just spent $100!" &&
				len(req.IncludeExternalUserIDs) == 1 &&
				req.IncludeExternalUserIDs[0] == "abc123"
		})).Return(okResponse("notif-1"), nil).Once()
		mockLogs.On("Create", mock.Anything, mock.MatchedBy(func(entry *models.DeliveryLog) bool {
			return entry.Status == models.DeliveryStatusSent &&
				entry.UserID == "abc123" &&
				entry.Message == "You just spent $100!" &&
				entry.ProviderNotificationID != nil && *entry.ProviderNotificationID == "notif-1"
		})).Return(nil).Once()
		mockOutcomes.On("PublishDispatchOutcome", mock.Anything, mock.MatchedBy(func(o models.DispatchOutcome) bool {
			return o.Status == models.DeliveryStatusSent && o.UserID == "abc123"
		})).Return(nil).Once()

		resp, err := svc.DispatchOrder(ctx, models.OrderEvent{
			Record: models.OrderRecord{UserID: "abc123", Price: models.NewPrice(100)},
		})

		require.NoError(t, err)
		assert.Equal(t, "notif-1", resp.ID)
		mockClient.AssertExpectations(t)
		mockLogs.AssertExpectations(t)
		mockOutcomes.AssertExpectations(t)
		// Без event_id дедупликация не трогается
		mockDedup.AssertNotCalled(t, "MarkSeen", mock.Anything, mock.Anything)
	})

	t.Run("Empty user_id rejected before provider call", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		svc := service.NewDispatchService(mockClient, nil, nil, nil, zap.NewNop())

		_, err := svc.DispatchOrder(ctx, models.OrderEvent{
			Record: models.OrderRecord{UserID: "", Price: models.NewPrice(10)},
		})

		require.ErrorIs(t, err, models.ErrInvalidRecord)
		mockClient.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
	})

	t.Run("Absent price rejected before provider call", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		svc := service.NewDispatchService(mockClient, nil, nil, nil, zap.NewNop())

		_, err := svc.DispatchOrder(ctx, models.OrderEvent{
			Record: models.OrderRecord{UserID: "abc123"}, // Price не задана
		})

		require.ErrorIs(t, err, models.ErrInvalidRecord)
		mockClient.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
	})

	t.Run("Provider error is terminal and logged as failed", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		mockLogs := new(mocks.DeliveryLogRepository)
		svc := service.NewDispatchService(mockClient, mockLogs, nil, nil, zap.NewNop())

		providerErr := errors.New("onesignal вернул статус 400")
		mockClient.On("CreateNotification", mock.Anything, mock.Anything).Return(nil, providerErr).Once()
		mockLogs.On("Create", mock.Anything, mock.MatchedBy(func(entry *models.DeliveryLog) bool {
			return entry.Status == models.DeliveryStatusFailed && entry.ProviderError != nil
		})).Return(nil).Once()

		resp, err := svc.DispatchOrder(ctx, orderEvent("", "abc123", 50))

		require.Error(t, err)
		assert.Nil(t, resp)
		mockClient.AssertExpectations(t)
		mockLogs.AssertExpectations(t)
	})

	t.Run("Duplicate event skips provider", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		mockDedup := new(mocks.DedupStore)
		svc := service.NewDispatchService(mockClient, nil, mockDedup, nil, zap.NewNop())

		mockDedup.On("MarkSeen", mock.Anything, "evt-1").Return(false, nil).Once()

		_, err := svc.DispatchOrder(ctx, orderEvent("evt-1", "abc123", 100))

		require.ErrorIs(t, err, models.ErrDuplicateEvent)
		mockClient.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
		mockDedup.AssertExpectations(t)
	})

	t.Run("Dedup store failure does not block dispatch", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		mockDedup := new(mocks.DedupStore)
		svc := service.NewDispatchService(mockClient, nil, mockDedup, nil, zap.NewNop())

		mockDedup.On("MarkSeen", mock.Anything, "evt-2").Return(false, errors.New("redis down")).Once()
		mockClient.On("CreateNotification", mock.Anything, mock.Anything).Return(okResponse("notif-2"), nil).Once()

		resp, err := svc.DispatchOrder(ctx, orderEvent("evt-2", "abc123", 100))

		require.NoError(t, err)
		assert.Equal(t, "notif-2", resp.ID)
		mockClient.AssertExpectations(t)
	})

	t.Run("Delivery log failure does not fail dispatch", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		mockLogs := new(mocks.DeliveryLogRepository)
		svc := service.NewDispatchService(mockClient, mockLogs, nil, nil, zap.NewNop())

		mockClient.On("CreateNotification", mock.Anything, mock.Anything).Return(okResponse("notif-3"), nil).Once()
		mockLogs.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		resp, err := svc.DispatchOrder(ctx, orderEvent("", "abc123", 100))

		require.NoError(t, err)
		assert.Equal(t, "notif-3", resp.ID)
	})

	t.Run("Fractional price keeps decimals in message", func(t *testing.T) {
		mockClient := new(mocks.NotificationClient)
		svc := service.NewDispatchService(mockClient, nil, nil, nil, zap.NewNop())

		mockClient.On("CreateNotification", mock.Anything, mock.MatchedBy(func(req provider.NotificationRequest) bool {
			return req.Contents["en"] == "You just spent $99.95!"
		})).Return(okResponse("notif-4"), nil).Once()

		_, err := svc.DispatchOrder(ctx, orderEvent("", "abc123", 99.95))
		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})
}

// recordingClient - потокобезопасный клиент для проверки независимости
// параллельных отправок.
type recordingClient struct {
	mu       sync.Mutex
	requests []provider.NotificationRequest
}

func (c *recordingClient) CreateNotification(ctx context.Context, req provider.NotificationRequest) (*provider.NotificationResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return okResponse("notif-" + req.IncludeExternalUserIDs[0]), nil
}

func (c *recordingClient) VerifyCredentials(ctx context.Context) error { return nil }

func TestDispatchOrder_ConcurrentEventsAreIndependent(t *testing.T) {
	client := &recordingClient{}
	svc := service.NewDispatchService(client, nil, nil, nil, zap.NewNop())

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i)
			resp, err := svc.DispatchOrder(context.Background(), orderEvent("", userID, float64(i+1)))
			assert.NoError(t, err)
			assert.Equal(t, "notif-"+userID, resp.ID)
		}(i)
	}
	wg.Wait()

	require.Len(t, client.requests, n)
	seen := make(map[string]int)
	for _, req := range client.requests {
		require.Len(t, req.IncludeExternalUserIDs, 1)
		seen[req.IncludeExternalUserIDs[0]]++
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, seen[fmt.Sprintf("user-%d", i)], "каждый пользователь получает ровно одно уведомление")
	}
}
