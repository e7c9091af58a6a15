package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, q models.NotificationQuery) (*models.NotificationPage, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	AdminFeed(ctx context.Context, page, pageSize int) ([]models.AdminNotification, *models.Pagination, error)
	Subscriptions(ctx context.Context, userID string, role models.UserRole) ([]models.SubscriptionView, error)
	UpdateSubscription(ctx context.Context, userID, topic string, enabled bool) (*models.SubscriptionView, error)
}

// NotificationHandler serves the in-app inbox and topic subscriptions.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(svc notificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

type subscriptionPayload struct {
	Enabled *bool `json:"enabled"`
}

// List godoc
// @Summary List my notifications
// @Description Newest first. unread_count is the total unread count, not the page's.
// @Tags Notifications
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Param unread query bool false "Only unread"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	q := models.NotificationQuery{UserID: claims.UserID}
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if unread, err := strconv.ParseBool(c.DefaultQuery("unread", "false")); err == nil {
		q.UnreadOnly = unread
	}

	page, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page, nil)
}

// AdminFeed godoc
// @Summary Notification feed across all users
// @Tags Notifications
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /notifications/admin [get]
func (h *NotificationHandler) AdminFeed(c *gin.Context) {
	page, size := pageParams(c)
	items, pagination, err := h.service.AdminFeed(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// MarkAllRead godoc
// @Summary Mark all my notifications read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/mark-all-read [patch]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	updated, err := h.service.MarkAllRead(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": updated}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a notification
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id} [delete]
func (h *NotificationHandler) Delete(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Subscriptions godoc
// @Summary List my topic subscriptions
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/subscriptions [get]
func (h *NotificationHandler) Subscriptions(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	views, err := h.service.Subscriptions(c.Request.Context(), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// UpdateSubscription godoc
// @Summary Subscribe to or mute a topic
// @Tags Notifications
// @Accept json
// @Produce json
// @Param topic path string true "Topic"
// @Param payload body subscriptionPayload true "Subscription"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications/subscriptions/{topic} [put]
func (h *NotificationHandler) UpdateSubscription(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var payload subscriptionPayload
	if !bindJSON(c, &payload) {
		return
	}
	if payload.Enabled == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "enabled is required"))
		return
	}
	view, err := h.service.UpdateSubscription(c.Request.Context(), claims.UserID, c.Param("topic"), *payload.Enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
