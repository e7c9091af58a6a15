package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

type outboxStore interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxEvent, error)
	ClaimByID(ctx context.Context, id string, lease time.Duration) (*models.OutboxEvent, error)
	MarkDone(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, cause error, next time.Time) error
	MarkFailed(ctx context.Context, id string, cause error) error
	CountPending(ctx context.Context) (int, error)
}

type outboxHandler interface {
	Handle(ctx context.Context, evt *models.OutboxEvent) error
}

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
}

// OutboxRelayConfig tunes outbox dispatch.
type OutboxRelayConfig struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	BatchSize     int
	// Lease is how long a claimed event stays invisible to other workers.
	Lease time.Duration
}

// OutboxRelay moves committed outbox events to the dispatcher. Fresh events are published
// straight onto the worker queue; a periodic Tick re-enqueues anything due, which covers events
// whose publish was lost, retries after failures and leases abandoned by a crashed worker.
type OutboxRelay struct {
	store   outboxStore
	handler outboxHandler
	queue   jobEnqueuer
	metrics *MetricsService
	cfg     OutboxRelayConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewOutboxRelay constructs a relay. The queue may be attached later with SetQueue.
func NewOutboxRelay(store outboxStore, handler outboxHandler, metrics *MetricsService, cfg OutboxRelayConfig, logger *zap.Logger) *OutboxRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &OutboxRelay{store: store, handler: handler, metrics: metrics, cfg: cfg, logger: logger, now: time.Now}
}

// SetQueue attaches the worker queue whose handler is Process.
func (r *OutboxRelay) SetQueue(queue jobEnqueuer) {
	r.queue = queue
}

// Publish hands a committed event to the workers. Failures are left for the next Tick.
func (r *OutboxRelay) Publish(_ context.Context, evt *models.OutboxEvent) {
	if r.queue == nil || evt == nil {
		return
	}
	if err := r.queue.TryEnqueue(jobs.Job{ID: evt.ID, Type: evt.EventType}); err != nil {
		r.logger.Warn("outbox publish deferred to relay", zap.String("event_id", evt.ID), zap.Error(err))
	}
}

// Process is the queue handler. A job without payload is claimed by id; a job carrying an
// event was already claimed by Tick. Only bookkeeping failures are returned.
func (r *OutboxRelay) Process(ctx context.Context, job jobs.Job) error {
	evt, ok := job.Payload.(*models.OutboxEvent)
	if !ok {
		claimed, err := r.store.ClaimByID(ctx, job.ID, r.cfg.Lease)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("claim outbox event %s: %w", job.ID, err)
		}
		evt = claimed
	}
	return r.dispatch(ctx, evt)
}

func (r *OutboxRelay) dispatch(ctx context.Context, evt *models.OutboxEvent) error {
	handleErr := r.handler.Handle(ctx, evt)
	if handleErr == nil {
		if err := r.store.MarkDone(ctx, evt.ID); err != nil {
			return fmt.Errorf("mark outbox event %s done: %w", evt.ID, err)
		}
		return nil
	}

	attempts := evt.Attempts + 1
	if attempts >= r.cfg.MaxAttempts {
		r.logger.Error("outbox event exhausted its attempts",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.EventType),
			zap.Int("attempts", attempts),
			zap.Error(handleErr),
		)
		r.metrics.RecordOutboxFailure()
		if err := r.store.MarkFailed(ctx, evt.ID, handleErr); err != nil {
			return fmt.Errorf("mark outbox event %s failed: %w", evt.ID, err)
		}
		return nil
	}

	next := r.now().UTC().Add(r.backoff(attempts))
	r.logger.Warn("outbox event failed, will retry",
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.EventType),
		zap.Int("attempt", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(handleErr),
	)
	if err := r.store.MarkRetry(ctx, evt.ID, handleErr, next); err != nil {
		return fmt.Errorf("mark outbox event %s for retry: %w", evt.ID, err)
	}
	return nil
}

// backoff doubles RetryDelay per attempt, capped at MaxRetryDelay.
func (r *OutboxRelay) backoff(attempt int) time.Duration {
	delay := r.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.MaxRetryDelay {
			return r.cfg.MaxRetryDelay
		}
	}
	return delay
}

// Tick claims due events and enqueues them. It is registered on the scheduler.
func (r *OutboxRelay) Tick(ctx context.Context) error {
	events, err := r.store.ClaimDue(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return fmt.Errorf("claim due outbox events: %w", err)
	}
	enqueued := 0
	for i := range events {
		evt := events[i]
		if r.queue == nil {
			if err := r.dispatch(ctx, &evt); err != nil {
				r.logger.Error("outbox dispatch bookkeeping failed", zap.String("event_id", evt.ID), zap.Error(err))
			}
			continue
		}
		if err := r.queue.TryEnqueue(jobs.Job{ID: evt.ID, Type: evt.EventType, Payload: &evt}); err != nil {
			// The remaining leases expire and the rows come due again.
			r.logger.Warn("outbox queue saturated", zap.Int("claimed", len(events)), zap.Int("enqueued", enqueued), zap.Error(err))
			break
		}
		enqueued++
	}

	pending, err := r.store.CountPending(ctx)
	if err != nil {
		r.logger.Warn("failed to count pending outbox events", zap.Error(err))
	} else {
		r.metrics.SetOutboxPending(pending)
	}
	if len(events) > 0 {
		r.logger.Info("outbox relay tick", zap.Int("claimed", len(events)), zap.Int("enqueued", enqueued), zap.Int("pending", pending))
	}
	return nil
}

// OnExhausted reports jobs whose bookkeeping kept failing. Their lease expires and Tick retries them.
func (r *OutboxRelay) OnExhausted(_ context.Context, job jobs.Job, err error) {
	r.logger.Error("outbox job abandoned until lease expiry", zap.String("event_id", job.ID), zap.Error(err))
}
