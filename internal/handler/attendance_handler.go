package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type attendanceService interface {
	Mark(ctx context.Context, req service.MarkAttendanceRequest, markedBy string) (*service.AttendanceResult, error)
	MarkBulk(ctx context.Context, req service.BulkAttendanceRequest, markedBy string) (*service.BulkAttendanceResult, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error)
}

// AttendanceHandler records session attendance.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Mark godoc
// @Summary Mark attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.MarkAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.MarkAttendanceRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.Mark(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// MarkBulk godoc
// @Summary Mark attendance for a whole session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.BulkAttendanceRequest true "Attendance sheet"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /attendance/bulk [post]
func (h *AttendanceHandler) MarkBulk(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.BulkAttendanceRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.MarkBulk(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListBySession godoc
// @Summary List attendance of a session
// @Tags Attendance
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/session/{sessionId} [get]
func (h *AttendanceHandler) ListBySession(c *gin.Context) {
	items, err := h.service.ListBySession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
