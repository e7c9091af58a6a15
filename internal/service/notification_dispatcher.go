package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/directory"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

const (
	defaultFanoutBatchSize = 500
	calendarDefaultLength  = 8 * time.Hour
)

type enrollmentDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

type notificationWriter interface {
	InsertBatch(ctx context.Context, notifications []models.Notification) (int64, error)
	ResolveTopicRecipients(ctx context.Context, topic string, defaultRoles []models.UserRole, limit int) ([]models.Recipient, error)
}

type deliveryLog interface {
	WasSent(ctx context.Context, key string, channel models.NotificationChannel) (bool, error)
	RecordAttempt(ctx context.Context, d *models.NotificationDelivery) error
}

type calendarClient interface {
	CreateEvent(ctx context.Context, e directory.Event) (string, error)
}

type certificateIssuer interface {
	IssueIfEligible(ctx context.Context, enrollmentID string) (bool, error)
}

type unreadInvalidator interface {
	InvalidateUnread(ctx context.Context, userIDs ...string)
}

// DispatcherConfig tunes notification fan-out.
type DispatcherConfig struct {
	FanoutBatchSize     int
	FanoutMaxRecipients int
	PortalURL           string
}

// DispatcherDeps groups the collaborators of NotificationDispatcher. Calendar, Certificates and
// Inbox are optional.
type DispatcherDeps struct {
	Enrollments   enrollmentDetailReader
	Rounds        roundLookup
	Users         userLookup
	Notifications notificationWriter
	Deliveries    deliveryLog
	Mailer        mailer.Mailer
	Calendar      calendarClient
	Certificates  certificateIssuer
	Inbox         unreadInvalidator
	Metrics       *MetricsService
}

// NotificationDispatcher turns outbox events into in-app notifications, emails and calendar
// invitations. Every write is keyed by event so a retried event never duplicates what already
// went out: in-app rows through their dedupe key and outbound deliveries through the delivery log.
type NotificationDispatcher struct {
	deps     DispatcherDeps
	delivery *deliveryGuard
	cfg      DispatcherConfig
	logger   *zap.Logger
}

// NewNotificationDispatcher constructs a dispatcher.
func NewNotificationDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FanoutBatchSize <= 0 {
		cfg.FanoutBatchSize = defaultFanoutBatchSize
	}
	if cfg.FanoutMaxRecipients < 0 {
		cfg.FanoutMaxRecipients = 0
	}
	return &NotificationDispatcher{
		deps:     deps,
		delivery: newDeliveryGuard(deps.Deliveries, deps.Metrics, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle processes one outbox event. A returned error means the event should be retried.
func (d *NotificationDispatcher) Handle(ctx context.Context, evt *models.OutboxEvent) error {
	switch evt.EventType {
	case models.EventEnrollmentCreated:
		payload, err := decodeEnrollmentPayload(evt)
		if err != nil {
			return err
		}
		return d.enrollmentCreated(ctx, evt.ID, payload)
	case models.EventEnrollmentCompleted:
		payload, err := decodeEnrollmentPayload(evt)
		if err != nil {
			return err
		}
		return d.enrollmentCompleted(ctx, evt.ID, payload)
	case models.EventUserCreated:
		var payload models.UserEventPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", evt.EventType, err)
		}
		return d.userCreated(ctx, evt.ID, payload)
	}
	d.logger.Warn("ignoring unknown outbox event", zap.String("event_id", evt.ID), zap.String("event_type", evt.EventType))
	return nil
}

func decodeEnrollmentPayload(evt *models.OutboxEvent) (models.EnrollmentEventPayload, error) {
	var payload models.EnrollmentEventPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", evt.EventType, err)
	}
	return payload, nil
}

func dedupeKey(eventID, recipientID, kind string) string {
	return eventID + ":" + recipientID + ":" + kind
}

// loadEnrollment returns nil without error when the enrollment no longer exists.
func (d *NotificationDispatcher) loadEnrollment(ctx context.Context, id string) (*models.EnrollmentDetail, *models.Round, error) {
	detail, err := d.deps.Enrollments.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("load enrollment %s: %w", id, err)
	}
	round, err := d.deps.Rounds.FindByID(ctx, detail.RoundID)
	if err != nil {
		return nil, nil, fmt.Errorf("load round %s: %w", detail.RoundID, err)
	}
	return detail, round, nil
}

func (d *NotificationDispatcher) enrollmentCreated(ctx context.Context, eventID string, payload models.EnrollmentEventPayload) error {
	detail, round, err := d.loadEnrollment(ctx, payload.EnrollmentID)
	if err != nil {
		return err
	}
	if detail == nil {
		d.logger.Info("enrollment gone before fan-out", zap.String("event_id", eventID), zap.String("enrollment_id", payload.EnrollmentID))
		return nil
	}

	enrolleeName := detail.UserFirstName + " " + detail.UserLastName
	data, _ := json.Marshal(models.EnrollmentNotificationData{
		EnrollmentID: detail.ID,
		UserID:       detail.UserID,
		UserName:     enrolleeName,
		UserEmail:    detail.UserEmail,
		RoundID:      detail.RoundID,
		RoundName:    detail.RoundName,
		CourseID:     detail.CourseID,
		CourseTitle:  detail.CourseTitle,
		StartDate:    detail.RoundStartDate,
	})

	// Bulk enrollees are told by email only, unless bulk fan-out is switched on, in which case a
	// bulk enrollment notifies exactly like a single one.
	var rows []models.Notification
	if !payload.Bulk || payload.NotifySubscriber {
		rows = append(rows, inApp(dedupeKey(eventID, detail.UserID, "enrollee"), detail.UserID, models.NotificationEnrolled,
			"Enrollment confirmed",
			fmt.Sprintf("You are enrolled in %s (%s), starting %s.", detail.CourseTitle, detail.RoundName, detail.RoundStartDate.Format("2 Jan 2006")),
			data))
	}

	truncated := false
	if payload.NotifySubscriber {
		subscribers, cut, err := d.subscribers(ctx, models.TopicEnrollmentCreated)
		if err != nil {
			return err
		}
		truncated = cut
		for _, r := range subscribers {
			rows = append(rows, inApp(dedupeKey(eventID, r.ID, "subscriber"), r.ID, models.NotificationEnrolled,
				"New enrollment",
				fmt.Sprintf("%s enrolled in %s (%s).", enrolleeName, detail.CourseTitle, detail.RoundName),
				data))
		}
	}

	if len(rows) > 0 {
		if err := d.insertInApp(ctx, eventID, rows); err != nil {
			return err
		}
		d.deps.Metrics.ObserveFanout(len(rows), truncated)
	}

	email := mailer.EnrollmentEmail{
		Name:        detail.UserFirstName,
		CourseTitle: detail.CourseTitle,
		RoundName:   detail.RoundName,
		StartDate:   detail.RoundStartDate,
		Venue:       deref(round.Venue),
		TeamsLink:   deref(round.TeamsLink),
		PortalURL:   d.cfg.PortalURL,
	}
	var errs []error
	if err := d.delivery.email(ctx, d.deps.Mailer, dedupeKey(eventID, detail.UserID, "email"), detail.UserID, func() (mailer.Message, error) {
		return mailer.EnrollmentMessage(detail.UserEmail, email)
	}); err != nil {
		errs = append(errs, err)
	}
	if d.deps.Calendar != nil {
		if err := d.sendInvitation(ctx, dedupeKey(eventID, detail.UserID, "calendar"), detail, round, email); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *NotificationDispatcher) sendInvitation(ctx context.Context, key string, detail *models.EnrollmentDetail, round *models.Round, email mailer.EnrollmentEmail) error {
	return d.delivery.run(ctx, key, detail.UserID, models.ChannelCalendar, func() (string, error) {
		msg, err := mailer.EnrollmentMessage(detail.UserEmail, email)
		if err != nil {
			return "", err
		}
		end := round.EndDate
		if !end.After(round.StartDate) {
			end = round.StartDate.Add(calendarDefaultLength)
		}
		return d.deps.Calendar.CreateEvent(ctx, directory.Event{
			Subject:   detail.CourseTitle + " (" + detail.RoundName + ")",
			HTML:      msg.HTML,
			Start:     round.StartDate,
			End:       end,
			Location:  deref(round.Venue),
			OnlineURL: deref(round.TeamsLink),
			Attendees: []directory.Attendee{{Email: detail.UserEmail, Name: detail.UserFirstName + " " + detail.UserLastName}},
		})
	})
}

func (d *NotificationDispatcher) enrollmentCompleted(ctx context.Context, eventID string, payload models.EnrollmentEventPayload) error {
	detail, _, err := d.loadEnrollment(ctx, payload.EnrollmentID)
	if err != nil {
		return err
	}
	if detail == nil {
		return nil
	}

	completedAt := time.Now().UTC()
	if detail.CompletedAt != nil {
		completedAt = *detail.CompletedAt
	}
	data, _ := json.Marshal(models.EnrollmentNotificationData{
		EnrollmentID: detail.ID,
		UserID:       detail.UserID,
		UserName:     detail.UserFirstName + " " + detail.UserLastName,
		UserEmail:    detail.UserEmail,
		RoundID:      detail.RoundID,
		RoundName:    detail.RoundName,
		CourseID:     detail.CourseID,
		CourseTitle:  detail.CourseTitle,
		StartDate:    detail.RoundStartDate,
	})

	rows := []models.Notification{inApp(dedupeKey(eventID, detail.UserID, "completed"), detail.UserID, models.NotificationCourseCompleted,
		"Course completed",
		fmt.Sprintf("You completed %s (%s).", detail.CourseTitle, detail.RoundName),
		data)}
	truncated := false
	if payload.NotifySubscriber {
		subscribers, cut, err := d.subscribers(ctx, models.TopicEnrollmentCompleted)
		if err != nil {
			return err
		}
		truncated = cut
		for _, r := range subscribers {
			rows = append(rows, inApp(dedupeKey(eventID, r.ID, "subscriber"), r.ID, models.NotificationCourseCompleted,
				"Course completed",
				fmt.Sprintf("%s %s completed %s (%s).", detail.UserFirstName, detail.UserLastName, detail.CourseTitle, detail.RoundName),
				data))
		}
	}
	if len(rows) > 0 {
		if err := d.insertInApp(ctx, eventID, rows); err != nil {
			return err
		}
		d.deps.Metrics.ObserveFanout(len(rows), truncated)
	}

	var errs []error
	if err := d.delivery.email(ctx, d.deps.Mailer, dedupeKey(eventID, detail.UserID, "email"), detail.UserID, func() (mailer.Message, error) {
		return mailer.CompletionMessage(detail.UserEmail, mailer.CompletionEmail{
			Name:        detail.UserFirstName,
			CourseTitle: detail.CourseTitle,
			RoundName:   detail.RoundName,
			CompletedAt: completedAt,
			PortalURL:   d.cfg.PortalURL,
		})
	}); err != nil {
		errs = append(errs, err)
	}

	if d.deps.Certificates != nil {
		issued, err := d.deps.Certificates.IssueIfEligible(ctx, detail.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("issue certificate: %w", err))
		} else if issued {
			d.logger.Info("certificate issued on completion", zap.String("enrollment_id", detail.ID))
		}
	}
	return errors.Join(errs...)
}

func (d *NotificationDispatcher) userCreated(ctx context.Context, eventID string, payload models.UserEventPayload) error {
	user, err := d.deps.Users.FindByID(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load user %s: %w", payload.UserID, err)
	}
	return d.delivery.email(ctx, d.deps.Mailer, dedupeKey(eventID, user.ID, "email"), user.ID, func() (mailer.Message, error) {
		return mailer.WelcomeMessage(user.Email, mailer.WelcomeEmail{Name: user.FirstName, Email: user.Email, PortalURL: d.cfg.PortalURL})
	})
}

// subscribers resolves the audience of topic, truncated to the configured cap.
func (d *NotificationDispatcher) subscribers(ctx context.Context, topic string) ([]models.Recipient, bool, error) {
	limit := 0
	if d.cfg.FanoutMaxRecipients > 0 {
		limit = d.cfg.FanoutMaxRecipients + 1
	}
	recipients, err := d.deps.Notifications.ResolveTopicRecipients(ctx, topic, models.TopicDefaultAudience[topic], limit)
	if err != nil {
		return nil, false, fmt.Errorf("resolve %s recipients: %w", topic, err)
	}
	if d.cfg.FanoutMaxRecipients > 0 && len(recipients) > d.cfg.FanoutMaxRecipients {
		d.logger.Warn("notification audience truncated",
			zap.String("topic", topic),
			zap.Int("max_recipients", d.cfg.FanoutMaxRecipients),
		)
		return recipients[:d.cfg.FanoutMaxRecipients], true, nil
	}
	return recipients, false, nil
}

func (d *NotificationDispatcher) insertInApp(ctx context.Context, eventID string, rows []models.Notification) error {
	var written int64
	userIDs := make([]string, 0, len(rows))
	for start := 0; start < len(rows); start += d.cfg.FanoutBatchSize {
		end := start + d.cfg.FanoutBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := d.deps.Notifications.InsertBatch(ctx, rows[start:end])
		if err != nil {
			return fmt.Errorf("insert notifications for event %s: %w", eventID, err)
		}
		written += n
	}
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
	}
	if d.deps.Inbox != nil {
		d.deps.Inbox.InvalidateUnread(ctx, userIDs...)
	}
	d.logger.Debug("in-app notifications written",
		zap.String("event_id", eventID),
		zap.Int("recipients", len(rows)),
		zap.Int64("written", written),
	)
	return nil
}

func inApp(key, userID string, kind models.NotificationType, title, message string, data []byte) models.Notification {
	return models.Notification{
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Message:   message,
		Data:      data,
		Channel:   models.ChannelInApp,
		DedupeKey: &key,
	}
}

// deliveryGuard runs outbound deliveries at most once per dedupe key and channel.
type deliveryGuard struct {
	log     deliveryLog
	metrics *MetricsService
	logger  *zap.Logger
}

func newDeliveryGuard(log deliveryLog, metrics *MetricsService, logger *zap.Logger) *deliveryGuard {
	return &deliveryGuard{log: log, metrics: metrics, logger: logger}
}

func (g *deliveryGuard) email(ctx context.Context, m mailer.Mailer, key, userID string, build func() (mailer.Message, error)) error {
	return g.run(ctx, key, userID, models.ChannelEmail, func() (string, error) {
		msg, err := build()
		if err != nil {
			return "", fmt.Errorf("render email: %w", err)
		}
		return "", m.Send(ctx, msg)
	})
}

// run skips send when key already went out on channel, otherwise performs it and records the attempt.
func (g *deliveryGuard) run(ctx context.Context, key, userID string, channel models.NotificationChannel, send func() (string, error)) error {
	sent, err := g.log.WasSent(ctx, key, channel)
	if err != nil {
		return fmt.Errorf("check delivery %s: %w", key, err)
	}
	if sent {
		return nil
	}

	externalID, sendErr := send()
	record := &models.NotificationDelivery{
		DedupeKey: key,
		UserID:    userID,
		Channel:   channel,
		Status:    models.DeliveryStatusSent,
	}
	if externalID != "" {
		record.ExternalID = &externalID
	}
	if sendErr != nil {
		msg := sendErr.Error()
		record.Status = models.DeliveryStatusFailed
		record.LastError = &msg
		g.logger.Warn("notification delivery failed",
			zap.String("dedupe_key", key),
			zap.String("channel", string(channel)),
			zap.Error(sendErr),
		)
	}
	g.metrics.RecordDelivery(string(channel), string(record.Status))
	if err := g.log.RecordAttempt(ctx, record); err != nil {
		g.logger.Warn("failed to record delivery", zap.String("dedupe_key", key), zap.Error(err))
	}
	return sendErr
}
