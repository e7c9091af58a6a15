package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// DeliveryRepository logs outbound email and calendar deliveries so retries skip what already went out.
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository constructs a DeliveryRepository.
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// WasSent reports whether a delivery with key on channel already succeeded.
func (r *DeliveryRepository) WasSent(ctx context.Context, key string, channel models.NotificationChannel) (bool, error) {
	var status models.DeliveryStatus
	err := r.db.GetContext(ctx, &status, `SELECT status FROM notification_deliveries WHERE dedupe_key = $1 AND channel = $2`, key, channel)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("find delivery: %w", err)
	}
	return status == models.DeliveryStatusSent, nil
}

// RecordAttempt upserts the delivery row for (dedupe key, channel), counting the attempt.
func (r *DeliveryRepository) RecordAttempt(ctx context.Context, d *models.NotificationDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.UpdatedAt = now
	if d.Status == models.DeliveryStatusSent && d.DeliveredAt == nil {
		d.DeliveredAt = &now
	}
	const query = `INSERT INTO notification_deliveries (id, dedupe_key, user_id, channel, status, attempts, last_error, external_id, updated_at, delivered_at)
        VALUES (:id, :dedupe_key, :user_id, :channel, :status, 1, :last_error, :external_id, :updated_at, :delivered_at)
        ON CONFLICT (dedupe_key, channel) DO UPDATE SET
            status = EXCLUDED.status,
            attempts = notification_deliveries.attempts + 1,
            last_error = EXCLUDED.last_error,
            external_id = COALESCE(EXCLUDED.external_id, notification_deliveries.external_id),
            updated_at = EXCLUDED.updated_at,
            delivered_at = COALESCE(notification_deliveries.delivered_at, EXCLUDED.delivered_at)`
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}
