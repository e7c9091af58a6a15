package models

import (
	"encoding/json"
	"time"
)

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationEnrolled         NotificationType = "ENROLLED"
	NotificationReminder         NotificationType = "REMINDER"
	NotificationCourseCompleted  NotificationType = "COURSE_COMPLETED"
	NotificationCertificateReady NotificationType = "CERTIFICATE_READY"
)

// NotificationChannel is the medium a notification or delivery uses.
type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "EMAIL"
	ChannelInApp    NotificationChannel = "IN_APP"
	ChannelCalendar NotificationChannel = "CALENDAR"
)

// Notification is a per-user inbox item.
type Notification struct {
	ID        string              `db:"id" json:"id"`
	UserID    string              `db:"user_id" json:"user_id"`
	Type      NotificationType    `db:"type" json:"type"`
	Title     string              `db:"title" json:"title"`
	Message   string              `db:"message" json:"message"`
	Data      json.RawMessage     `db:"data" json:"data,omitempty"`
	Channel   NotificationChannel `db:"channel" json:"channel"`
	IsRead    bool                `db:"is_read" json:"is_read"`
	DedupeKey *string             `db:"dedupe_key" json:"-"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
	ReadAt    *time.Time          `db:"read_at" json:"read_at,omitempty"`
}

// NotificationQuery selects a page of a user's inbox.
type NotificationQuery struct {
	UserID     string
	Limit      int
	Offset     int
	UnreadOnly bool
}

// NotificationPage is a page of notifications and the user's total unread count.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
}

// AdminNotification joins a notification with its recipient for the admin feed.
type AdminNotification struct {
	Notification
	RecipientEmail string `db:"recipient_email" json:"recipient_email"`
	RecipientName  string `db:"recipient_name" json:"recipient_name"`
}

// EnrollmentNotificationData is the payload carried by ENROLLED notifications.
type EnrollmentNotificationData struct {
	EnrollmentID string    `json:"enrollment_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	UserEmail    string    `json:"user_email"`
	RoundID      string    `json:"round_id"`
	RoundName    string    `json:"round_name"`
	CourseID     string    `json:"course_id"`
	CourseTitle  string    `json:"course_title"`
	StartDate    time.Time `json:"start_date"`
}

// Notification topics users can subscribe to.
const (
	TopicEnrollmentCreated   = "enrollment.created"
	TopicEnrollmentCompleted = "enrollment.completed"
)

// TopicDefaultAudience lists the roles implicitly subscribed to each topic.
var TopicDefaultAudience = map[string][]UserRole{
	TopicEnrollmentCreated:   {RoleAdministrator},
	TopicEnrollmentCompleted: {},
}

// KnownTopic reports whether topic can be subscribed to.
func KnownTopic(topic string) bool {
	_, ok := TopicDefaultAudience[topic]
	return ok
}

// NotificationSubscription is an explicit opt-in (Enabled) or opt-out of a topic.
type NotificationSubscription struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Topic     string    `db:"topic" json:"topic"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubscriptionView describes a user's effective subscription to a topic.
type SubscriptionView struct {
	Topic    string `json:"topic"`
	Enabled  bool   `json:"enabled"`
	Explicit bool   `json:"explicit"`
}

// Recipient is the minimal identity needed to address a notification.
type Recipient struct {
	ID        string   `db:"id" json:"id"`
	Email     string   `db:"email" json:"email"`
	FirstName string   `db:"first_name" json:"first_name"`
	LastName  string   `db:"last_name" json:"last_name"`
	Role      UserRole `db:"role" json:"role"`
}

// DeliveryStatus is the outcome of one outbound delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "SENT"
	DeliveryStatusFailed DeliveryStatus = "FAILED"
)

// NotificationDelivery logs outbound email and calendar deliveries keyed by dedupe key.
type NotificationDelivery struct {
	ID          string              `db:"id" json:"id"`
	DedupeKey   string              `db:"dedupe_key" json:"dedupe_key"`
	UserID      string              `db:"user_id" json:"user_id"`
	Channel     NotificationChannel `db:"channel" json:"channel"`
	Status      DeliveryStatus      `db:"status" json:"status"`
	Attempts    int                 `db:"attempts" json:"attempts"`
	LastError   *string             `db:"last_error" json:"last_error,omitempty"`
	ExternalID  *string             `db:"external_id" json:"external_id,omitempty"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
	DeliveredAt *time.Time          `db:"delivered_at" json:"delivered_at,omitempty"`
}
