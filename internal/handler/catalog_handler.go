package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type catalogService interface {
	ListPlans(ctx context.Context, filter models.PlanFilter) ([]models.Plan, *models.Pagination, error)
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	CreatePlan(ctx context.Context, req service.CreatePlanRequest, actorID string) (*models.Plan, error)
	UpdatePlan(ctx context.Context, id string, req service.UpdatePlanRequest) (*models.Plan, error)
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	CreateCourse(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	ListRounds(ctx context.Context, filter models.RoundFilter) ([]models.Round, *models.Pagination, error)
	GetRound(ctx context.Context, id string) (*models.RoundDetail, error)
	CreateRound(ctx context.Context, req service.CreateRoundRequest) (*models.Round, error)
	UpdateRoundStatus(ctx context.Context, id string, req service.UpdateRoundStatusRequest) (*models.Round, error)
	ListSessions(ctx context.Context, roundID string) ([]models.Session, error)
	CreateSession(ctx context.Context, roundID string, req service.CreateSessionRequest) (*models.Session, error)
	ListProviders(ctx context.Context) ([]models.Provider, error)
	CreateProvider(ctx context.Context, req service.CreateProviderRequest) (*models.Provider, error)
	ListTrainers(ctx context.Context, providerID string) ([]models.Trainer, error)
	CreateTrainer(ctx context.Context, req service.CreateTrainerRequest) (*models.Trainer, error)
}

type seatCounter interface {
	RecountSeats(ctx context.Context, roundID string) (*models.SeatDrift, error)
}

// CatalogHandler exposes plans, courses, rounds, sessions, providers and trainers.
type CatalogHandler struct {
	service catalogService
	seats   seatCounter
}

// NewCatalogHandler constructs the handler. seats backs the recount endpoint.
func NewCatalogHandler(svc catalogService, seats seatCounter) *CatalogHandler {
	return &CatalogHandler{service: svc, seats: seats}
}

// ListPlans godoc
// @Summary List training plans
// @Tags Catalog
// @Produce json
// @Param status query string false "Plan status"
// @Param fiscalYear query int false "Fiscal year"
// @Param search query string false "Search term"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *CatalogHandler) ListPlans(c *gin.Context) {
	filter := models.PlanFilter{
		Status: models.PlanStatus(strings.ToUpper(c.Query("status"))),
		Search: c.Query("search"),
	}
	filter.Page, filter.PageSize = pageParams(c)
	if year, err := strconv.Atoi(c.Query("fiscalYear")); err == nil {
		filter.FiscalYear = year
	}

	plans, pagination, err := h.service.ListPlans(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, pagination)
}

// GetPlan godoc
// @Summary Get training plan
// @Tags Catalog
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *CatalogHandler) GetPlan(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// CreatePlan godoc
// @Summary Create training plan
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreatePlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /plans [post]
func (h *CatalogHandler) CreatePlan(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.CreatePlanRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.service.CreatePlan(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// UpdatePlan godoc
// @Summary Update training plan
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body service.UpdatePlanRequest true "Plan payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/{id} [put]
func (h *CatalogHandler) UpdatePlan(c *gin.Context) {
	var req service.UpdatePlanRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.service.UpdatePlan(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// ListCourses godoc
// @Summary List courses
// @Tags Catalog
// @Produce json
// @Param planId query string false "Plan ID"
// @Param type query string false "INTERNAL or EXTERNAL"
// @Param category query string false "Category"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CatalogHandler) ListCourses(c *gin.Context) {
	h.listCourses(c, c.Query("planId"))
}

// ListCoursesByPlan godoc
// @Summary List courses of a plan
// @Tags Catalog
// @Produce json
// @Param planId path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /courses/plan/{planId} [get]
func (h *CatalogHandler) ListCoursesByPlan(c *gin.Context) {
	h.listCourses(c, c.Param("planId"))
}

func (h *CatalogHandler) listCourses(c *gin.Context, planID string) {
	filter := models.CourseFilter{
		PlanID:   planID,
		Type:     models.CourseType(strings.ToUpper(c.Query("type"))),
		Category: c.Query("category"),
		Search:   c.Query("search"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	courses, pagination, err := h.service.ListCourses(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// GetCourse godoc
// @Summary Get course
// @Tags Catalog
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	course, err := h.service.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// CreateCourse godoc
// @Summary Create course
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CatalogHandler) CreateCourse(c *gin.Context) {
	var req service.CreateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.service.CreateCourse(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// ListRounds godoc
// @Summary List rounds
// @Tags Catalog
// @Produce json
// @Param courseId query string false "Course ID"
// @Param status query string false "Round status"
// @Param from query string false "Start date lower bound (YYYY-MM-DD)"
// @Param to query string false "Start date upper bound (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /rounds [get]
func (h *CatalogHandler) ListRounds(c *gin.Context) {
	filter := models.RoundFilter{
		CourseID: c.Query("courseId"),
		Status:   models.RoundStatus(strings.ToUpper(c.Query("status"))),
	}
	filter.Page, filter.PageSize = pageParams(c)

	var err error
	if filter.From, err = parseDateQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = parseDateQuery(c, "to"); err != nil {
		response.Error(c, err)
		return
	}

	rounds, pagination, err := h.service.ListRounds(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rounds, pagination)
}

func parseDateQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be YYYY-MM-DD")
	}
	return &parsed, nil
}

// GetRound godoc
// @Summary Get round with sessions
// @Tags Catalog
// @Produce json
// @Param id path string true "Round ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rounds/{id} [get]
func (h *CatalogHandler) GetRound(c *gin.Context) {
	round, err := h.service.GetRound(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, round, nil)
}

// CreateRound godoc
// @Summary Schedule a round
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateRoundRequest true "Round payload"
// @Success 201 {object} response.Envelope
// @Router /rounds [post]
func (h *CatalogHandler) CreateRound(c *gin.Context) {
	var req service.CreateRoundRequest
	if !bindJSON(c, &req) {
		return
	}
	round, err := h.service.CreateRound(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, round)
}

// UpdateRoundStatus godoc
// @Summary Move a round through its lifecycle
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Round ID"
// @Param payload body service.UpdateRoundStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /rounds/{id}/status [patch]
func (h *CatalogHandler) UpdateRoundStatus(c *gin.Context) {
	var req service.UpdateRoundStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	round, err := h.service.UpdateRoundStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, round, nil)
}

// RecountSeats godoc
// @Summary Recompute the enrolled count of a round
// @Tags Catalog
// @Produce json
// @Param id path string true "Round ID"
// @Success 200 {object} response.Envelope
// @Router /rounds/{id}/recount [post]
func (h *CatalogHandler) RecountSeats(c *gin.Context) {
	drift, err := h.seats.RecountSeats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drift, nil)
}

// ListSessions godoc
// @Summary List sessions of a round
// @Tags Catalog
// @Produce json
// @Param id path string true "Round ID"
// @Success 200 {object} response.Envelope
// @Router /rounds/{id}/sessions [get]
func (h *CatalogHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// CreateSession godoc
// @Summary Add a session to a round
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Round ID"
// @Param payload body service.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Router /rounds/{id}/sessions [post]
func (h *CatalogHandler) CreateSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.service.CreateSession(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// ListProviders godoc
// @Summary List training providers
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /providers [get]
func (h *CatalogHandler) ListProviders(c *gin.Context) {
	providers, err := h.service.ListProviders(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, providers, nil)
}

// CreateProvider godoc
// @Summary Register a training provider
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateProviderRequest true "Provider payload"
// @Success 201 {object} response.Envelope
// @Router /providers [post]
func (h *CatalogHandler) CreateProvider(c *gin.Context) {
	var req service.CreateProviderRequest
	if !bindJSON(c, &req) {
		return
	}
	provider, err := h.service.CreateProvider(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, provider)
}

// ListTrainers godoc
// @Summary List trainers
// @Tags Catalog
// @Produce json
// @Param providerId query string false "Provider ID"
// @Success 200 {object} response.Envelope
// @Router /trainers [get]
func (h *CatalogHandler) ListTrainers(c *gin.Context) {
	trainers, err := h.service.ListTrainers(c.Request.Context(), c.Query("providerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trainers, nil)
}

// CreateTrainer godoc
// @Summary Register a trainer
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateTrainerRequest true "Trainer payload"
// @Success 201 {object} response.Envelope
// @Router /trainers [post]
func (h *CatalogHandler) CreateTrainer(c *gin.Context) {
	var req service.CreateTrainerRequest
	if !bindJSON(c, &req) {
		return
	}
	trainer, err := h.service.CreateTrainer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, trainer)
}
