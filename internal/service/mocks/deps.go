package mocks

import (
	"context"

	"order-notifier/internal/models"
	"order-notifier/internal/provider"

	"github.com/stretchr/testify/mock"
)

// Mock provider.Client
type NotificationClient struct {
	mock.Mock
}

func (m *NotificationClient) CreateNotification(ctx context.Context, req provider.NotificationRequest) (*provider.NotificationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.NotificationResponse), args.Error(1)
}

func (m *NotificationClient) VerifyCredentials(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Mock service.DeliveryLogRepository
type DeliveryLogRepository struct {
	mock.Mock
}

func (m *DeliveryLogRepository) Create(ctx context.Context, entry *models.DeliveryLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *DeliveryLogRepository) ListRecent(ctx context.Context, limit int) ([]models.DeliveryLog, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DeliveryLog), args.Error(1)
}

// Mock service.DedupStore
type DedupStore struct {
	mock.Mock
}

func (m *DedupStore) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

// Mock service.OutcomePublisher
type OutcomePublisher struct {
	mock.Mock
}

func (m *OutcomePublisher) PublishDispatchOutcome(ctx context.Context, outcome models.DispatchOutcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}

// Mock service.Dispatcher
type Dispatcher struct {
	mock.Mock
}

func (m *Dispatcher) DispatchOrder(ctx context.Context, event models.OrderEvent) (*provider.NotificationResponse, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.NotificationResponse), args.Error(1)
}

func (m *Dispatcher) RecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryLog, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DeliveryLog), args.Error(1)
}
