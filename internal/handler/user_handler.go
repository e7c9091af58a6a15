package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, req service.CreateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error)
	Update(ctx context.Context, id string, req service.UpdateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error)
	Delete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error
	DirectoryProfile(ctx context.Context, email string) (*models.DirectoryUser, error)
}

// UserHandler serves the employee directory. All routes sit behind admin or manager guards.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (max 100)"
// @Param role query string false "EMPLOYEE, MANAGER, TRAINER or ADMINISTRATOR"
// @Param active query bool false "Active filter"
// @Param department query string false "Department filter"
// @Param manager_id query string false "Direct reports of this manager"
// @Param search query string false "Matches email, name or employee ID"
// @Param sort_by query string false "email, last_name, department, created_at or updated_at"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope{data=[]models.User}
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	filter, err := userFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

func userFilter(c *gin.Context) (models.UserFilter, error) {
	filter := models.UserFilter{
		Department: c.Query("department"),
		ManagerID:  c.Query("manager_id"),
		Search:     c.Query("search"),
		SortBy:     c.Query("sort_by"),
		SortOrder:  c.Query("sort_order"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	if raw := c.Query("role"); raw != "" {
		role := models.UserRole(raw)
		if !role.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", raw))
		}
		filter.Role = &role
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "active must be true or false")
		}
		filter.Active = &active
	}
	return filter, nil
}

// Directory godoc
// @Summary Look up a directory profile
// @Description Fetch the corporate directory entry for an email to prefill user creation
// @Tags Users
// @Produce json
// @Param email query string true "Work email"
// @Success 200 {object} response.Envelope{data=models.DirectoryUser}
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Security BearerAuth
// @Router /users/directory [get]
func (h *UserHandler) Directory(c *gin.Context) {
	profile, err := h.service.DirectoryProfile(c.Request.Context(), c.Query("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Get godoc
// @Summary Get user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope{data=models.User}
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create user
// @Description Create an employee account and queue its welcome email
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope{data=models.User}
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	h.write(c, func(ctx context.Context, actor string, meta models.RequestMeta) (*models.User, error) {
		var req service.CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
		}
		return h.service.Create(ctx, req, actor, meta)
	}, http.StatusCreated)
}

// Update godoc
// @Summary Update user
// @Description Deactivating a user here also ends their sessions
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.UpdateUserRequest true "Update payload"
// @Success 200 {object} response.Envelope{data=models.User}
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /users/{id} [put]
func (h *UserHandler) Update(c *gin.Context) {
	h.write(c, func(ctx context.Context, actor string, meta models.RequestMeta) (*models.User, error) {
		var req service.UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
		}
		return h.service.Update(ctx, c.Param("id"), req, actor, meta)
	}, http.StatusOK)
}

// Delete godoc
// @Summary Deactivate user
// @Description Mark the user inactive and revoke their sessions. Enrollment history is kept.
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// write runs an audited mutation on behalf of the caller and renders the resulting user.
func (h *UserHandler) write(c *gin.Context, fn func(ctx context.Context, actor string, meta models.RequestMeta) (*models.User, error), status int) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := fn(c.Request.Context(), claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, status, user, nil)
}
