package models

import (
	"encoding/json"
	"time"
)

// Outbox event types.
const (
	EventEnrollmentCreated   = "enrollment.created"
	EventEnrollmentCompleted = "enrollment.completed"
	EventUserCreated         = "user.created"
)

// OutboxStatus tracks dispatch progress of an outbox event.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusDone       OutboxStatus = "DONE"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxEvent is written in the same transaction as the state change it announces.
type OutboxEvent struct {
	ID            string          `db:"id" json:"id"`
	EventType     string          `db:"event_type" json:"event_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        OutboxStatus    `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time       `db:"next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// EnrollmentEventPayload is the body of enrollment.* events.
type EnrollmentEventPayload struct {
	EnrollmentID     string `json:"enrollment_id"`
	UserID           string `json:"user_id"`
	RoundID          string `json:"round_id"`
	NotifySubscriber bool   `json:"notify_subscribers"`
	Bulk             bool   `json:"bulk,omitempty"`
}

// UserEventPayload is the body of user.* events.
type UserEventPayload struct {
	UserID string `json:"user_id"`
}
