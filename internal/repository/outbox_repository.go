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

const outboxColumns = `id, event_type, aggregate_id, payload, status, attempts, last_error, next_attempt_at, created_at, processed_at`

// OutboxRepository stores events written alongside state changes and tracks their dispatch.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func insertOutbox(ctx context.Context, ext sqlx.ExtContext, evt *models.OutboxEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = now
	}
	if evt.NextAttemptAt.IsZero() {
		evt.NextAttemptAt = now
	}
	if evt.Status == "" {
		evt.Status = models.OutboxStatusPending
	}
	const query = `INSERT INTO outbox_events (id, event_type, aggregate_id, payload, status, attempts, next_attempt_at, created_at)
        VALUES (:id, :event_type, :aggregate_id, :payload, :status, :attempts, :next_attempt_at, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, evt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit pending events whose next attempt is due. Leased rows move to
// PROCESSING with next_attempt_at pushed out by lease so a crashed worker's rows become due again.
func (r *OutboxRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `UPDATE outbox_events SET status = 'PROCESSING', next_attempt_at = $2
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE status IN ('PENDING', 'PROCESSING') AND next_attempt_at <= $1
            ORDER BY next_attempt_at ASC
            LIMIT ` + fmt.Sprint(limit) + `
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + outboxColumns
	now := time.Now().UTC()
	events := []models.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &events, query, now, now.Add(lease)); err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	return events, nil
}

// ClaimByID leases one event for immediate processing. sql.ErrNoRows means it is already done,
// failed or leased by another worker.
func (r *OutboxRepository) ClaimByID(ctx context.Context, id string, lease time.Duration) (*models.OutboxEvent, error) {
	query := `UPDATE outbox_events SET status = 'PROCESSING', next_attempt_at = $2
        WHERE id = $1 AND (status = 'PENDING' OR (status = 'PROCESSING' AND next_attempt_at <= now()))
        RETURNING ` + outboxColumns
	var evt models.OutboxEvent
	if err := r.db.GetContext(ctx, &evt, query, id, time.Now().UTC().Add(lease)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("claim outbox event: %w", err)
	}
	return &evt, nil
}

// MarkDone records successful dispatch.
func (r *OutboxRepository) MarkDone(ctx context.Context, id string) error {
	const query = `UPDATE outbox_events SET status = 'DONE', attempts = attempts + 1, last_error = NULL, processed_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark outbox done: %w", err)
	}
	return nil
}

// MarkRetry records a failed attempt and schedules the next one.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, cause error, next time.Time) error {
	const query = `UPDATE outbox_events SET status = 'PENDING', attempts = attempts + 1, last_error = $2, next_attempt_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, errText(cause), next); err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return nil
}

// MarkFailed parks an event after its final attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	const query = `UPDATE outbox_events SET status = 'FAILED', attempts = attempts + 1, last_error = $2, processed_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, errText(cause)); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// CountPending returns the number of events not yet dispatched.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM outbox_events WHERE status IN ('PENDING', 'PROCESSING')`); err != nil {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return total, nil
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return &msg
}
