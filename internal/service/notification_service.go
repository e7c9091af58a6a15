package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
	unreadCacheKeyPrefix     = "notifications:unread:"
	unreadVersionKeyPrefix   = "notifications:unread-version:"
	unreadVersionTTL         = 24 * time.Hour
)

type notificationRepository interface {
	List(ctx context.Context, q models.NotificationQuery) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	ListAdminFeed(ctx context.Context, limit, offset int) ([]models.AdminNotification, int, error)
	ListSubscriptions(ctx context.Context, userID string) ([]models.NotificationSubscription, error)
	UpsertSubscription(ctx context.Context, sub *models.NotificationSubscription) error
}

// NotificationService exposes the per-user inbox and topic subscriptions.
type NotificationService struct {
	repo     notificationRepository
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewNotificationService constructs a NotificationService. A nil cache disables unread caching.
func NewNotificationService(repo notificationRepository, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &NotificationService{repo: repo, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// unreadCacheKey embeds the user's invalidation generation, so a count loaded before an
// invalidation is written under a key no reader uses anymore.
func unreadCacheKey(userID string, version int64) string {
	return unreadCacheKeyPrefix + userID + ":" + strconv.FormatInt(version, 10)
}

func unreadVersionKey(userID string) string {
	return unreadVersionKeyPrefix + userID
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns a newest-first page of the user's notifications together with the user's total
// unread count, which does not depend on the page or the unread filter.
func (s *NotificationService) List(ctx context.Context, q models.NotificationQuery) (*models.NotificationPage, error) {
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)
	items, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	unread, err := s.UnreadCount(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	return &models.NotificationPage{Notifications: items, UnreadCount: unread, Limit: q.Limit, Offset: q.Offset}, nil
}

// UnreadCount returns the user's unread total, served from cache when possible.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	key := unreadCacheKey(userID, s.cache.Version(ctx, unreadVersionKey(userID)))
	_, err := s.cache.Remember(ctx, key, s.cacheTTL, &count, func(ctx context.Context) error {
		n, err := s.repo.CountUnread(ctx, userID)
		count = n
		return err
	})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread notifications")
	}
	return count, nil
}

// MarkRead flags one notification as read. Marking an already read notification succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		return notFoundOr(err, "notification not found", "failed to mark notification read")
	}
	s.InvalidateUnread(ctx, userID)
	return nil
}

// MarkAllRead flags every unread notification of the user and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.InvalidateUnread(ctx, userID)
	return updated, nil
}

// Delete removes a notification owned by the user.
func (s *NotificationService) Delete(ctx context.Context, id, userID string) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return notFoundOr(err, "notification not found", "failed to delete notification")
	}
	s.InvalidateUnread(ctx, userID)
	return nil
}

// AdminFeed returns the newest notifications across all users.
func (s *NotificationService) AdminFeed(ctx context.Context, page, pageSize int) ([]models.AdminNotification, *models.Pagination, error) {
	pagination := models.NewPagination(page, pageSize, 0)
	offset := (pagination.Page - 1) * pagination.PageSize
	feed, total, err := s.repo.ListAdminFeed(ctx, pagination.PageSize, offset)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification feed")
	}
	pagination.TotalCount = total
	return feed, pagination, nil
}

// Subscriptions returns the effective subscription of the user to every known topic.
// Topics without an explicit row fall back to the role-based default audience.
func (s *NotificationService) Subscriptions(ctx context.Context, userID string, role models.UserRole) ([]models.SubscriptionView, error) {
	explicit, err := s.repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscriptions")
	}
	byTopic := make(map[string]bool, len(explicit))
	for _, sub := range explicit {
		byTopic[sub.Topic] = sub.Enabled
	}

	views := make([]models.SubscriptionView, 0, len(models.TopicDefaultAudience))
	for topic, roles := range models.TopicDefaultAudience {
		view := models.SubscriptionView{Topic: topic}
		if enabled, ok := byTopic[topic]; ok {
			view.Enabled = enabled
			view.Explicit = true
		} else {
			for _, r := range roles {
				if r == role {
					view.Enabled = true
					break
				}
			}
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Topic < views[j].Topic })
	return views, nil
}

// UpdateSubscription stores an explicit opt-in or opt-out of topic.
func (s *NotificationService) UpdateSubscription(ctx context.Context, userID, topic string, enabled bool) (*models.SubscriptionView, error) {
	if !models.KnownTopic(topic) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown notification topic")
	}
	sub := &models.NotificationSubscription{UserID: userID, Topic: topic, Enabled: enabled}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subscription")
	}
	s.logger.Info("notification subscription updated", zap.String("user_id", userID), zap.String("topic", topic), zap.Bool("enabled", enabled))
	return &models.SubscriptionView{Topic: topic, Enabled: enabled, Explicit: true}, nil
}

// InvalidateUnread moves the given users to a new unread-count generation.
func (s *NotificationService) InvalidateUnread(ctx context.Context, userIDs ...string) {
	ttl := unreadVersionTTL
	if s.cacheTTL > ttl {
		ttl = 2 * s.cacheTTL
	}
	for _, id := range userIDs {
		s.cache.BumpVersion(ctx, unreadVersionKey(id), ttl)
	}
}
