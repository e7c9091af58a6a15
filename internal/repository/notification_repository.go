package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
)

const notificationColumns = `id, user_id, type, title, message, data, channel, is_read, dedupe_key, created_at, read_at`

// NotificationRepository persists in-app notifications and topic subscriptions.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// List returns a newest-first page of the user's notifications.
func (r *NotificationRepository) List(ctx context.Context, q models.NotificationQuery) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if q.UnreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	notifications := []models.Notification{}
	if err := r.db.SelectContext(ctx, &notifications, query, q.UserID, q.Limit, q.Offset); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread returns the user's total number of unread notifications.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}

// MarkRead flags a notification owned by userID as read. Marking an already read
// notification keeps its first read_at. sql.ErrNoRows means no such notification for that user.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	const query = `UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, now()) WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead flags every unread notification of the user and returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE, read_at = now() WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete removes a notification owned by userID. sql.ErrNoRows means no such notification for that user.
func (r *NotificationRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertBatch stores notifications with one multi-row statement. Rows whose dedupe key already
// exists are skipped; the number of rows actually written is returned.
func (r *NotificationRepository) InsertBatch(ctx context.Context, notifications []models.Notification) (int64, error) {
	if len(notifications) == 0 {
		return 0, nil
	}
	const width = 9
	values := make([]string, 0, len(notifications))
	args := make([]interface{}, 0, len(notifications)*width)
	now := time.Now().UTC()
	for i := range notifications {
		n := &notifications[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if n.Channel == "" {
			n.Channel = models.ChannelInApp
		}
		if len(n.Data) == 0 {
			n.Data = []byte("{}")
		}
		base := i * width
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args, n.ID, n.UserID, n.Type, n.Title, n.Message, []byte(n.Data), n.Channel, n.DedupeKey, n.CreatedAt)
	}

	query := `INSERT INTO notifications (id, user_id, type, title, message, data, channel, dedupe_key, created_at) VALUES ` +
		strings.Join(values, ", ") + ` ON CONFLICT (dedupe_key) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert notifications: %w", err)
	}
	inserted, _ := res.RowsAffected()
	return inserted, nil
}

// ListAdminFeed returns the newest notifications across all users with recipient identity.
func (r *NotificationRepository) ListAdminFeed(ctx context.Context, limit, offset int) ([]models.AdminNotification, int, error) {
	const query = `SELECT n.id, n.user_id, n.type, n.title, n.message, n.data, n.channel, n.is_read, n.dedupe_key, n.created_at, n.read_at,
        u.email AS recipient_email, (u.first_name || ' ' || u.last_name) AS recipient_name
        FROM notifications n JOIN users u ON u.id = n.user_id
        ORDER BY n.created_at DESC, n.id DESC LIMIT $1 OFFSET $2`
	feed := []models.AdminNotification{}
	if err := r.db.SelectContext(ctx, &feed, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list admin notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications`); err != nil {
		return nil, 0, fmt.Errorf("count admin notifications: %w", err)
	}
	return feed, total, nil
}

// ListSubscriptions returns the explicit subscription rows of a user.
func (r *NotificationRepository) ListSubscriptions(ctx context.Context, userID string) ([]models.NotificationSubscription, error) {
	subs := []models.NotificationSubscription{}
	const query = `SELECT user_id, topic, enabled, updated_at FROM notification_subscriptions WHERE user_id = $1 ORDER BY topic`
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// UpsertSubscription stores an explicit opt-in or opt-out.
func (r *NotificationRepository) UpsertSubscription(ctx context.Context, sub *models.NotificationSubscription) error {
	sub.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO notification_subscriptions (user_id, topic, enabled, updated_at)
        VALUES (:user_id, :topic, :enabled, :updated_at)
        ON CONFLICT (user_id, topic) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// ResolveTopicRecipients returns the active users receiving topic: members of the default roles
// who have not opted out, plus anyone who opted in. limit <= 0 means no limit.
func (r *NotificationRepository) ResolveTopicRecipients(ctx context.Context, topic string, defaultRoles []models.UserRole, limit int) ([]models.Recipient, error) {
	roles := make([]string, len(defaultRoles))
	for i, role := range defaultRoles {
		roles[i] = string(role)
	}
	query := `SELECT u.id, u.email, u.first_name, u.last_name, u.role
        FROM users u
        LEFT JOIN notification_subscriptions s ON s.user_id = u.id AND s.topic = $1
        WHERE u.active AND ((u.role = ANY($2) AND COALESCE(s.enabled, TRUE)) OR s.enabled IS TRUE)
        ORDER BY u.id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	recipients := []models.Recipient{}
	if err := r.db.SelectContext(ctx, &recipients, query, topic, pq.Array(roles)); err != nil {
		return nil, fmt.Errorf("resolve topic recipients: %w", err)
	}
	return recipients, nil
}
