package repository

import (
	"context"
	"fmt"
	"time"

	"order-notifier/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultDedupTTL - сколько помним обработанные event_id. Повтор доставки
// вебхука/сообщения позже этого окна снова приведет к отправке.
const DefaultDedupTTL = 24 * time.Hour

const dedupKeyPrefix = "order_notifier:seen_event:"

type redisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Compile-time check
var _ service.DedupStore = (*redisDedupStore)(nil)

// NewRedisDedupStore создает хранилище дедупликации событий на Redis.
func NewRedisDedupStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *redisDedupStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &redisDedupStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisDedupStore"),
	}
}

// MarkSeen атомарно отмечает event_id обработанным (SETNX + TTL).
// Возвращает true, если событие видим впервые.
func (s *redisDedupStore) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	key := dedupKeyPrefix + eventID
	first, err := s.client.SetNX(ctx, key, 1, s.ttl).Result()
	if err != nil {
		s.logger.Error("Error marking event as seen", zap.Error(err), zap.String("event_id", eventID))
		return false, fmt.Errorf("failed to mark event %s as seen: %w", eventID, err)
	}
	return first, nil
}
