package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeNotificationRepo struct {
	items       []models.Notification
	subs        map[string]models.NotificationSubscription
	feed        []models.AdminNotification
	countCalls  int
	inserted    [][]models.Notification
	recipients  []models.Recipient
	lastLimit   int
	insertErr   error
	resolveErr  error
	lastQuery   models.NotificationQuery
	lastFeedOff int
	afterCount  func()
}

func (f *fakeNotificationRepo) List(_ context.Context, q models.NotificationQuery) ([]models.Notification, error) {
	f.lastQuery = q
	var out []models.Notification
	for _, n := range f.items {
		if n.UserID != q.UserID || (q.UnreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Offset >= len(out) {
		return []models.Notification{}, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeNotificationRepo) CountUnread(_ context.Context, userID string) (int, error) {
	f.countCalls++
	total := 0
	for _, n := range f.items {
		if n.UserID == userID && !n.IsRead {
			total++
		}
	}
	if hook := f.afterCount; hook != nil {
		f.afterCount = nil
		hook()
	}
	return total, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, id, userID string) error {
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].UserID == userID {
			f.items[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeNotificationRepo) MarkAllRead(_ context.Context, userID string) (int64, error) {
	var n int64
	for i := range f.items {
		if f.items[i].UserID == userID && !f.items[i].IsRead {
			f.items[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (f *fakeNotificationRepo) Delete(_ context.Context, id, userID string) error {
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].UserID == userID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeNotificationRepo) InsertBatch(_ context.Context, batch []models.Notification) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, batch)
	var written int64
	for _, n := range batch {
		duplicate := false
		for _, existing := range f.items {
			if existing.DedupeKey != nil && n.DedupeKey != nil && *existing.DedupeKey == *n.DedupeKey {
				duplicate = true
				break
			}
		}
		if !duplicate {
			f.items = append(f.items, n)
			written++
		}
	}
	return written, nil
}

func (f *fakeNotificationRepo) ListAdminFeed(_ context.Context, limit, offset int) ([]models.AdminNotification, int, error) {
	f.lastFeedOff = offset
	return f.feed, len(f.feed), nil
}

func (f *fakeNotificationRepo) ListSubscriptions(_ context.Context, userID string) ([]models.NotificationSubscription, error) {
	var out []models.NotificationSubscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) UpsertSubscription(_ context.Context, sub *models.NotificationSubscription) error {
	if f.subs == nil {
		f.subs = map[string]models.NotificationSubscription{}
	}
	f.subs[sub.UserID+"|"+sub.Topic] = *sub
	return nil
}

func (f *fakeNotificationRepo) ResolveTopicRecipients(_ context.Context, topic string, roles []models.UserRole, limit int) ([]models.Recipient, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	f.lastLimit = limit
	if limit > 0 && len(f.recipients) > limit {
		return f.recipients[:limit], nil
	}
	return f.recipients, nil
}

func newNotificationFixture() (*NotificationService, *fakeNotificationRepo, *memoryCache) {
	repo := &fakeNotificationRepo{}
	cacheRepo := &memoryCache{}
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	return NewNotificationService(repo, cacheSvc, time.Minute, zap.NewNop()), repo, cacheRepo
}

func TestNotificationServiceListReturnsGlobalUnreadCount(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		repo.items = append(repo.items, models.Notification{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			IsRead:    i == 0,
		})
	}
	repo.items = append(repo.items, models.Notification{ID: "other", UserID: "u2"})

	page, err := svc.List(context.Background(), models.NotificationQuery{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, "e", page.Notifications[0].ID)
	assert.Equal(t, 4, page.UnreadCount)
}

func TestNotificationServiceListClampsLimit(t *testing.T) {
	svc, repo, _ := newNotificationFixture()

	_, err := svc.List(context.Background(), models.NotificationQuery{UserID: "u1", Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxNotificationLimit, repo.lastQuery.Limit)
	assert.Equal(t, 0, repo.lastQuery.Offset)

	_, err = svc.List(context.Background(), models.NotificationQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, defaultNotificationLimit, repo.lastQuery.Limit)
}

func TestNotificationServiceUnreadCountIsCachedAndInvalidated(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	ctx := context.Background()
	repo.items = []models.Notification{{ID: "n1", UserID: "u1"}, {ID: "n2", UserID: "u1"}}

	count, err := svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	_, err = svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.countCalls)

	require.NoError(t, svc.MarkRead(ctx, "n1", "u1"))
	count, err = svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, repo.countCalls)
}

func TestNotificationServiceUnreadCountIgnoresCountsLoadedBeforeInvalidation(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	ctx := context.Background()
	repo.items = []models.Notification{{ID: "n1", UserID: "u1"}}
	repo.afterCount = func() {
		repo.items = append(repo.items, models.Notification{ID: "n2", UserID: "u1"})
		svc.InvalidateUnread(ctx, "u1")
	}

	count, err := svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, repo.countCalls)

	_, err = svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.countCalls)
}

func TestNotificationServiceOwnershipChecks(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	ctx := context.Background()
	repo.items = []models.Notification{{ID: "n1", UserID: "u1"}}

	err := svc.MarkRead(ctx, "n1", "intruder")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.items[0].IsRead)

	err = svc.Delete(ctx, "n1", "intruder")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.items, 1)

	require.NoError(t, svc.MarkRead(ctx, "n1", "u1"))
	require.NoError(t, svc.MarkRead(ctx, "n1", "u1"))
	require.NoError(t, svc.Delete(ctx, "n1", "u1"))
	assert.Empty(t, repo.items)
}

type malformedIDRepo struct {
	*fakeNotificationRepo
}

func (malformedIDRepo) Delete(context.Context, string, string) error {
	return fmt.Errorf("delete notification: %w", &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`})
}

func TestNotificationServiceMalformedIDIsNotFound(t *testing.T) {
	svc := NewNotificationService(malformedIDRepo{&fakeNotificationRepo{}}, nil, 0, nil)

	err := svc.Delete(context.Background(), "not-a-uuid", "u1")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
}

func TestNotificationServiceMarkAllRead(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	repo.items = []models.Notification{{ID: "n1", UserID: "u1"}, {ID: "n2", UserID: "u1", IsRead: true}, {ID: "n3", UserID: "u2"}}

	updated, err := svc.MarkAllRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)
	assert.False(t, repo.items[2].IsRead)
}

func TestNotificationServiceAdminFeedPaging(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	repo.feed = []models.AdminNotification{{RecipientEmail: "a@example.com"}}

	feed, pagination, err := svc.AdminFeed(context.Background(), 3, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
	assert.Equal(t, 20, repo.lastFeedOff)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestNotificationServiceSubscriptions(t *testing.T) {
	svc, _, _ := newNotificationFixture()
	ctx := context.Background()

	views, err := svc.Subscriptions(ctx, "admin-1", models.RoleAdministrator)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, models.TopicEnrollmentCompleted, views[0].Topic)
	assert.False(t, views[0].Enabled)
	assert.Equal(t, models.TopicEnrollmentCreated, views[1].Topic)
	assert.True(t, views[1].Enabled)
	assert.False(t, views[1].Explicit)

	_, err = svc.UpdateSubscription(ctx, "admin-1", models.TopicEnrollmentCreated, false)
	require.NoError(t, err)
	views, err = svc.Subscriptions(ctx, "admin-1", models.RoleAdministrator)
	require.NoError(t, err)
	assert.False(t, views[1].Enabled)
	assert.True(t, views[1].Explicit)

	_, err = svc.UpdateSubscription(ctx, "admin-1", "grades.posted", true)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestNotificationServiceWithoutCache(t *testing.T) {
	repo := &fakeNotificationRepo{items: []models.Notification{{ID: "n1", UserID: "u1"}}}
	svc := NewNotificationService(repo, nil, 0, nil)

	count, err := svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, svc.MarkRead(context.Background(), "n1", "u1"))
	count, err = svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 2, repo.countCalls)
}
