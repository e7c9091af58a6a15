package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

type upcomingSessionLister interface {
	UpcomingSessions(ctx context.Context, from, to time.Time) ([]models.UpcomingSession, error)
}

type seatHolderLister interface {
	ListSeatHolders(ctx context.Context, roundID string) ([]models.Recipient, error)
}

// ReminderServiceConfig tunes session reminders.
type ReminderServiceConfig struct {
	LeadTime  time.Duration
	PortalURL string
}

// ReminderService reminds enrollees of sessions starting soon. Each (session, user) pair is
// reminded once per channel however often the job runs.
type ReminderService struct {
	sessions      upcomingSessionLister
	holders       seatHolderLister
	notifications inAppWriter
	inbox         unreadInvalidator
	mailer        mailer.Mailer
	delivery      *deliveryGuard
	cfg           ReminderServiceConfig
	logger        *zap.Logger
	now           func() time.Time
}

// NewReminderService constructs a ReminderService.
func NewReminderService(sessions upcomingSessionLister, holders seatHolderLister, notifications inAppWriter, inbox unreadInvalidator,
	deliveries deliveryLog, m mailer.Mailer, metrics *MetricsService, cfg ReminderServiceConfig, logger *zap.Logger) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = 24 * time.Hour
	}
	return &ReminderService{
		sessions:      sessions,
		holders:       holders,
		notifications: notifications,
		inbox:         inbox,
		mailer:        m,
		delivery:      newDeliveryGuard(deliveries, metrics, logger),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// SendDue reminds seat holders of every session starting within the lead time.
func (s *ReminderService) SendDue(ctx context.Context) error {
	now := s.now().UTC()
	sessions, err := s.sessions.UpcomingSessions(ctx, now, now.Add(s.cfg.LeadTime))
	if err != nil {
		return fmt.Errorf("load upcoming sessions: %w", err)
	}

	var errs []error
	reminded := 0
	for i := range sessions {
		n, err := s.remind(ctx, &sessions[i])
		reminded += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(sessions) > 0 {
		s.logger.Info("session reminders processed",
			zap.Int("sessions", len(sessions)),
			zap.Int("recipients", reminded),
			zap.Int("failures", len(errs)),
		)
	}
	return errors.Join(errs...)
}

func (s *ReminderService) remind(ctx context.Context, session *models.UpcomingSession) (int, error) {
	recipients, err := s.holders.ListSeatHolders(ctx, session.RoundID)
	if err != nil {
		return 0, fmt.Errorf("load seat holders of round %s: %w", session.RoundID, err)
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	data, _ := json.Marshal(map[string]interface{}{
		"session_id": session.ID,
		"round_id":   session.RoundID,
		"start_time": session.StartTime,
	})
	message := fmt.Sprintf("%s of %s starts %s.", session.Title, session.CourseTitle, session.StartTime.Format("2 Jan 2006 15:04 MST"))
	rows := make([]models.Notification, 0, len(recipients))
	userIDs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		rows = append(rows, inApp(reminderKey(session.ID, r.ID, "in_app"), r.ID, models.NotificationReminder, "Session reminder", message, data))
		userIDs = append(userIDs, r.ID)
	}

	var errs []error
	if _, err := s.notifications.InsertBatch(ctx, rows); err != nil {
		errs = append(errs, fmt.Errorf("insert reminders for session %s: %w", session.ID, err))
	} else if s.inbox != nil {
		s.inbox.InvalidateUnread(ctx, userIDs...)
	}

	for _, r := range recipients {
		recipient := r
		err := s.delivery.email(ctx, s.mailer, reminderKey(session.ID, recipient.ID, "email"), recipient.ID, func() (mailer.Message, error) {
			return mailer.ReminderMessage(recipient.Email, mailer.ReminderEmail{
				Name:         recipient.FirstName,
				SessionTitle: session.Title,
				CourseTitle:  session.CourseTitle,
				RoundName:    session.RoundName,
				StartTime:    session.StartTime,
				Location:     deref(session.Location),
				TeamsLink:    deref(session.TeamsLink),
				PortalURL:    s.cfg.PortalURL,
			})
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return len(recipients), errors.Join(errs...)
}

func reminderKey(sessionID, userID, kind string) string {
	return "reminder:" + sessionID + ":" + userID + ":" + kind
}
