package repository

import (
	"context"
	"errors"
	"fmt"

	"order-notifier/internal/models"
	"order-notifier/internal/service"

	"github.com/georgysavva/scany/v2/pgxscan"
	pgxV5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier абстрагирует пул подключений или транзакцию pgx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgxV5.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgxV5.Row
}

const (
	insertDeliveryLogQuery = `
        INSERT INTO delivery_logs (id, event_id, user_id, price, message, status, provider_notification_id, provider_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	listRecentDeliveriesQuery = `
        SELECT id, event_id, user_id, price, message, status, provider_notification_id, provider_error, created_at
        FROM delivery_logs
        ORDER BY created_at DESC
        LIMIT $1
    `
)

type pgDeliveryLogRepository struct {
	db     Querier
	logger *zap.Logger
}

// Compile-time check
var _ service.DeliveryLogRepository = (*pgDeliveryLogRepository)(nil)

// NewPgDeliveryLogRepository создает репозиторий журнала доставки поверх PostgreSQL.
func NewPgDeliveryLogRepository(db Querier, logger *zap.Logger) *pgDeliveryLogRepository {
	return &pgDeliveryLogRepository{
		db:     db,
		logger: logger.Named("PgDeliveryLogRepo"),
	}
}

func (r *pgDeliveryLogRepository) Create(ctx context.Context, entry *models.DeliveryLog) error {
	_, err := r.db.Exec(ctx, insertDeliveryLogQuery,
		entry.ID,
		entry.EventID,
		entry.UserID,
		entry.Price,
		entry.Message,
		entry.Status,
		entry.ProviderNotificationID,
		entry.ProviderError,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Error inserting delivery log", zap.Error(err), zap.String("delivery_id", entry.ID.String()))
		return fmt.Errorf("failed to insert delivery log %s: %w", entry.ID, err)
	}
	return nil
}

func (r *pgDeliveryLogRepository) ListRecent(ctx context.Context, limit int) ([]models.DeliveryLog, error) {
	var entries []models.DeliveryLog
	err := pgxscan.Select(ctx, r.db, &entries, listRecentDeliveriesQuery, limit)
	if err != nil {
		if errors.Is(err, pgxV5.ErrNoRows) {
			return []models.DeliveryLog{}, nil
		}
		r.logger.Error("Error listing delivery logs", zap.Error(err))
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	if entries == nil {
		entries = []models.DeliveryLog{}
	}
	return entries, nil
}
