package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type enrollmentService interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	ListByUser(ctx context.Context, userID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Enroll(ctx context.Context, req service.EnrollRequest, actorID string) (*models.EnrollmentDetail, error)
	EnrollMany(ctx context.Context, req service.BulkEnrollRequest, actorID string) (*models.BulkEnrollResult, error)
	UpdateStatus(ctx context.Context, id string, req service.UpdateEnrollmentRequest) (*models.EnrollmentDetail, error)
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, filter models.EnrollmentFilter, format string) (*service.ExportFile, error)
}

// EnrollmentHandler exposes the enrollment workflow over HTTP.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// Enroll godoc
// @Summary Enroll a user into a round
// @Description Employees may only enroll themselves. Set waitlist to queue on a full round.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.EnrollRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = claims.UserID
	}
	if req.UserID != claims.UserID && !canManage(claims) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot enroll another user"))
		return
	}

	enrollment, err := h.service.Enroll(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// EnrollBulk godoc
// @Summary Enroll many users into a round
// @Description Duplicates are skipped silently.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.BulkEnrollRequest true "Bulk enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments/bulk [post]
func (h *EnrollmentHandler) EnrollBulk(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.BulkEnrollRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.service.EnrollMany(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param userId query string false "User ID"
// @Param roundId query string false "Round ID"
// @Param courseId query string false "Course ID"
// @Param status query string false "Enrollment status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := enrollmentFilter(c)
	filter.UserID = c.Query("userId")

	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListByUser godoc
// @Summary List enrollments of a user
// @Tags Enrollments
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/user/{userId} [get]
func (h *EnrollmentHandler) ListByUser(c *gin.Context) {
	items, pagination, err := h.service.ListByUser(c.Request.Context(), c.Param("userId"), enrollmentFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Export godoc
// @Summary Export enrollments
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param roundId query string false "Round ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	filter := enrollmentFilter(c)
	filter.UserID = c.Query("userId")
	format := strings.ToLower(c.DefaultQuery("format", "csv"))

	file, err := h.service.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Name))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	enrollment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if enrollment.UserID != claims.UserID && !canManage(claims) && claims.Role != models.RoleTrainer {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Update godoc
// @Summary Change enrollment status
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.UpdateEnrollmentRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id} [patch]
func (h *EnrollmentHandler) Update(c *gin.Context) {
	var req service.UpdateEnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Delete godoc
// @Summary Delete enrollment
// @Description Releases the seat when the enrollment held one.
// @Tags Enrollments
// @Param id path string true "Enrollment ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func enrollmentFilter(c *gin.Context) models.EnrollmentFilter {
	filter := models.EnrollmentFilter{
		RoundID:   c.Query("roundId"),
		CourseID:  c.Query("courseId"),
		Status:    models.EnrollmentStatus(strings.ToUpper(c.Query("status"))),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	filter.Page, filter.PageSize = pageParams(c)
	return filter
}
