package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type notificationServiceMock struct {
	query     models.NotificationQuery
	readID    string
	readUser  string
	topic     string
	enabled   bool
	role      models.UserRole
	adminPage int
	readErr   error
}

func (m *notificationServiceMock) List(_ context.Context, q models.NotificationQuery) (*models.NotificationPage, error) {
	m.query = q
	return &models.NotificationPage{UnreadCount: 7, Limit: q.Limit, Offset: q.Offset}, nil
}

func (m *notificationServiceMock) MarkRead(_ context.Context, id, userID string) error {
	m.readID, m.readUser = id, userID
	return m.readErr
}

func (m *notificationServiceMock) MarkAllRead(context.Context, string) (int64, error) {
	return 3, nil
}

func (m *notificationServiceMock) Delete(_ context.Context, id, userID string) error {
	m.readID, m.readUser = id, userID
	return m.readErr
}

func (m *notificationServiceMock) AdminFeed(_ context.Context, page, pageSize int) ([]models.AdminNotification, *models.Pagination, error) {
	m.adminPage = page
	return nil, models.NewPagination(page, pageSize, 0), nil
}

func (m *notificationServiceMock) Subscriptions(_ context.Context, _ string, role models.UserRole) ([]models.SubscriptionView, error) {
	m.role = role
	return []models.SubscriptionView{{Topic: models.TopicEnrollmentCreated, Enabled: true}}, nil
}

func (m *notificationServiceMock) UpdateSubscription(_ context.Context, _ string, topic string, enabled bool) (*models.SubscriptionView, error) {
	m.topic, m.enabled = topic, enabled
	return &models.SubscriptionView{Topic: topic, Enabled: enabled, Explicit: true}, nil
}

func TestNotificationHandlerListUsesCaller(t *testing.T) {
	mock := &notificationServiceMock{}
	h := NewNotificationHandler(mock)

	rec := serveRoute(http.MethodGet, "/notifications", "/notifications?limit=5&offset=10&unread=true", nil, employeeClaims, h.List)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.NotificationQuery{UserID: "emp-1", Limit: 5, Offset: 10, UnreadOnly: true}, mock.query)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"unread_count":7`)
}

func TestNotificationHandlerMarkReadScopesToCaller(t *testing.T) {
	mock := &notificationServiceMock{}
	h := NewNotificationHandler(mock)

	rec := serveRoute(http.MethodPatch, "/notifications/:id/read", "/notifications/n1/read", nil, employeeClaims, h.MarkRead)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "n1", mock.readID)
	assert.Equal(t, "emp-1", mock.readUser)

	mock.readErr = appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	rec = serveRoute(http.MethodDelete, "/notifications/:id", "/notifications/n2", nil, employeeClaims, h.Delete)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationHandlerMarkAllAndAdminFeed(t *testing.T) {
	mock := &notificationServiceMock{}
	h := NewNotificationHandler(mock)

	rec := serveRoute(http.MethodPatch, "/notifications/mark-all-read", "/notifications/mark-all-read", nil, employeeClaims, h.MarkAllRead)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"updated":3`)

	rec = serveRoute(http.MethodGet, "/notifications/admin", "/notifications/admin?page=2", nil, adminClaims, h.AdminFeed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, mock.adminPage)
}

func TestNotificationHandlerSubscriptions(t *testing.T) {
	mock := &notificationServiceMock{}
	h := NewNotificationHandler(mock)

	rec := serveRoute(http.MethodGet, "/notifications/subscriptions", "/notifications/subscriptions", nil, adminClaims, h.Subscriptions)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleAdministrator, mock.role)

	rec = serveRoute(http.MethodPut, "/notifications/subscriptions/:topic", "/notifications/subscriptions/enrollment.created", map[string]string{}, adminClaims, h.UpdateSubscription)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveRoute(http.MethodPut, "/notifications/subscriptions/:topic", "/notifications/subscriptions/enrollment.created", map[string]bool{"enabled": false}, adminClaims, h.UpdateSubscription)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "enrollment.created", mock.topic)
	assert.False(t, mock.enabled)
}
