package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lms-api/internal/models"
)

// eventPublisher hands a committed outbox event to the dispatcher for immediate processing.
// Publishing is best effort; the relay picks up anything that was not published.
type eventPublisher interface {
	Publish(ctx context.Context, evt *models.OutboxEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *models.OutboxEvent) {}

func newOutboxEvent(eventType, aggregateID string, payload interface{}) (*models.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	now := time.Now().UTC()
	return &models.OutboxEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		Payload:       body,
		Status:        models.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

func enrollmentEvent(eventType string, e models.Enrollment, notifySubscribers, bulk bool) (*models.OutboxEvent, error) {
	return newOutboxEvent(eventType, e.ID, models.EnrollmentEventPayload{
		EnrollmentID:     e.ID,
		UserID:           e.UserID,
		RoundID:          e.RoundID,
		NotifySubscriber: notifySubscribers,
		Bulk:             bulk,
	})
}
