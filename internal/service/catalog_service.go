package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type planStore interface {
	List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, int, error)
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan) error
}

type courseStore interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
}

type roundStore interface {
	List(ctx context.Context, filter models.RoundFilter) ([]models.Round, int, error)
	FindByID(ctx context.Context, id string) (*models.Round, error)
	Create(ctx context.Context, round *models.Round) error
	UpdateStatus(ctx context.Context, id string, status models.RoundStatus) error
	CreateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, roundID string) ([]models.Session, error)
}

type providerStore interface {
	ListProviders(ctx context.Context) ([]models.Provider, error)
	CreateProvider(ctx context.Context, provider *models.Provider) error
	ListTrainers(ctx context.Context, providerID string) ([]models.Trainer, error)
	CreateTrainer(ctx context.Context, trainer *models.Trainer) error
}

// CreatePlanRequest is the payload for creating a plan.
type CreatePlanRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description *string           `json:"description"`
	FiscalYear  int               `json:"fiscal_year" validate:"required,min=2000,max=2100"`
	Status      models.PlanStatus `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE COMPLETED ARCHIVED"`
}

// UpdatePlanRequest replaces the mutable plan fields.
type UpdatePlanRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description *string           `json:"description"`
	FiscalYear  int               `json:"fiscal_year" validate:"required,min=2000,max=2100"`
	Status      models.PlanStatus `json:"status" validate:"required,oneof=DRAFT ACTIVE COMPLETED ARCHIVED"`
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	PlanID        string            `json:"plan_id" validate:"required,uuid"`
	Title         string            `json:"title" validate:"required,max=200"`
	Description   *string           `json:"description"`
	Type          models.CourseType `json:"type" validate:"required,oneof=INTERNAL EXTERNAL"`
	Category      string            `json:"category" validate:"required,max=100"`
	DurationHours float64           `json:"duration_hours" validate:"gt=0"`
	ProviderID    *string           `json:"provider_id" validate:"omitempty,uuid"`
}

// CreateRoundRequest is the payload for scheduling a round.
type CreateRoundRequest struct {
	CourseID     string              `json:"course_id" validate:"required,uuid"`
	Name         string              `json:"name" validate:"required,max=200"`
	MaxSeats     int                 `json:"max_seats" validate:"required,min=1,max=10000"`
	StartDate    time.Time           `json:"start_date" validate:"required"`
	EndDate      time.Time           `json:"end_date" validate:"required,gtefield=StartDate"`
	DeliveryMode models.DeliveryMode `json:"delivery_mode" validate:"required,oneof=ONLINE IN_PERSON HYBRID SELF_PACED"`
	Venue        *string             `json:"venue"`
	TeamsLink    *string             `json:"teams_link" validate:"omitempty,url"`
	TrainerID    *string             `json:"trainer_id" validate:"omitempty,uuid"`
	ProviderID   *string             `json:"provider_id" validate:"omitempty,uuid"`
}

// UpdateRoundStatusRequest moves a round through its lifecycle.
type UpdateRoundStatusRequest struct {
	Status models.RoundStatus `json:"status" validate:"required,oneof=SCHEDULED ONGOING COMPLETED CANCELLED"`
}

// CreateSessionRequest is the payload for adding a session to a round.
type CreateSessionRequest struct {
	Title     string    `json:"title" validate:"required,max=200"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Location  *string   `json:"location"`
	TeamsLink *string   `json:"teams_link" validate:"omitempty,url"`
}

// CreateProviderRequest is the payload for registering a training provider.
type CreateProviderRequest struct {
	Name         string              `json:"name" validate:"required,max=200"`
	Type         models.ProviderType `json:"type" validate:"required,oneof=INTERNAL EXTERNAL"`
	ContactEmail *string             `json:"contact_email" validate:"omitempty,email"`
	ContactPhone *string             `json:"contact_phone" validate:"omitempty,max=50"`
	Website      *string             `json:"website" validate:"omitempty,url"`
}

// CreateTrainerRequest is the payload for registering a trainer.
type CreateTrainerRequest struct {
	UserID         *string `json:"user_id" validate:"omitempty,uuid"`
	ProviderID     *string `json:"provider_id" validate:"omitempty,uuid"`
	Name           string  `json:"name" validate:"required,max=200"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Specialization *string `json:"specialization" validate:"omitempty,max=200"`
}

var roundTransitions = map[models.RoundStatus][]models.RoundStatus{
	models.RoundStatusScheduled: {models.RoundStatusOngoing, models.RoundStatusCancelled},
	models.RoundStatusOngoing:   {models.RoundStatusCompleted, models.RoundStatusCancelled},
}

// CatalogService manages plans, courses, rounds, sessions, providers and trainers.
type CatalogService struct {
	plans     planStore
	courses   courseStore
	rounds    roundStore
	providers providerStore
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(plans planStore, courses courseStore, rounds roundStore, providers providerStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CatalogService{plans: plans, courses: courses, rounds: rounds, providers: providers, cache: cache, validator: validate, logger: logger}
}

func (s *CatalogService) invalidateDashboard(ctx context.Context) {
	s.cache.Invalidate(ctx, dashboardCachePattern)
}

func notFoundOr(err error, message, internal string) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsMalformedID(err) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

// ListPlans returns a page of plans.
func (s *CatalogService) ListPlans(ctx context.Context, filter models.PlanFilter) ([]models.Plan, *models.Pagination, error) {
	plans, total, err := s.plans.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// GetPlan returns a plan by id.
func (s *CatalogService) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "plan not found", "failed to load plan")
	}
	return plan, nil
}

// CreatePlan adds a plan owned by actorID.
func (s *CatalogService) CreatePlan(ctx context.Context, req CreatePlanRequest, actorID string) (*models.Plan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	status := req.Status
	if status == "" {
		status = models.PlanStatusDraft
	}
	plan := &models.Plan{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		FiscalYear:  req.FiscalYear,
		Status:      status,
		CreatedBy:   actorID,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	s.invalidateDashboard(ctx)
	return plan, nil
}

// UpdatePlan replaces the mutable fields of a plan.
func (s *CatalogService) UpdatePlan(ctx context.Context, id string, req UpdatePlanRequest) (*models.Plan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "plan not found", "failed to load plan")
	}
	plan.Name = strings.TrimSpace(req.Name)
	plan.Description = req.Description
	plan.FiscalYear = req.FiscalYear
	plan.Status = req.Status
	if err := s.plans.Update(ctx, plan); err != nil {
		return nil, notFoundOr(err, "plan not found", "failed to update plan")
	}
	s.invalidateDashboard(ctx)
	return plan, nil
}

// ListCourses returns a page of courses.
func (s *CatalogService) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// GetCourse returns a course by id.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}
	return course, nil
}

// CreateCourse adds a course to an existing plan.
func (s *CatalogService) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	plan, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, notFoundOr(err, "plan not found", "failed to load plan")
	}
	if plan.Status == models.PlanStatusArchived {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot add courses to an archived plan")
	}
	course := &models.Course{
		PlanID:        plan.ID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		Type:          req.Type,
		Category:      req.Category,
		DurationHours: req.DurationHours,
		ProviderID:    req.ProviderID,
		PlanName:      plan.Name,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// ListRounds returns a page of rounds.
func (s *CatalogService) ListRounds(ctx context.Context, filter models.RoundFilter) ([]models.Round, *models.Pagination, error) {
	rounds, total, err := s.rounds.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rounds")
	}
	return rounds, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// GetRound returns a round together with its sessions.
func (s *CatalogService) GetRound(ctx context.Context, id string) (*models.RoundDetail, error) {
	round, err := s.rounds.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "round not found", "failed to load round")
	}
	sessions, err := s.rounds.ListSessions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	return &models.RoundDetail{Round: *round, Sessions: sessions}, nil
}

// CreateRound schedules a round of an existing course.
func (s *CatalogService) CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid round payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}
	round := &models.Round{
		CourseID:     course.ID,
		Name:         strings.TrimSpace(req.Name),
		MaxSeats:     req.MaxSeats,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
		DeliveryMode: req.DeliveryMode,
		Venue:        req.Venue,
		TeamsLink:    req.TeamsLink,
		TrainerID:    req.TrainerID,
		ProviderID:   req.ProviderID,
		Status:       models.RoundStatusScheduled,
		CourseTitle:  course.Title,
	}
	if round.ProviderID == nil {
		round.ProviderID = course.ProviderID
	}
	if err := s.rounds.Create(ctx, round); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create round")
	}
	s.invalidateDashboard(ctx)
	return round, nil
}

// UpdateRoundStatus applies a lifecycle transition: SCHEDULED to ONGOING or CANCELLED,
// ONGOING to COMPLETED or CANCELLED.
func (s *CatalogService) UpdateRoundStatus(ctx context.Context, id string, req UpdateRoundStatusRequest) (*models.Round, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid round status payload")
	}
	round, err := s.rounds.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "round not found", "failed to load round")
	}
	allowed := false
	for _, next := range roundTransitions[round.Status] {
		if next == req.Status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "round cannot move from "+string(round.Status)+" to "+string(req.Status))
	}
	if err := s.rounds.UpdateStatus(ctx, id, req.Status); err != nil {
		return nil, notFoundOr(err, "round not found", "failed to update round status")
	}
	round.Status = req.Status
	s.logger.Info("round status changed", zap.String("round_id", id), zap.String("status", string(req.Status)))
	s.invalidateDashboard(ctx)
	return round, nil
}

// ListSessions returns the sessions of a round.
func (s *CatalogService) ListSessions(ctx context.Context, roundID string) ([]models.Session, error) {
	if _, err := s.rounds.FindByID(ctx, roundID); err != nil {
		return nil, notFoundOr(err, "round not found", "failed to load round")
	}
	sessions, err := s.rounds.ListSessions(ctx, roundID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// CreateSession adds a session that must fall inside the round's dates.
func (s *CatalogService) CreateSession(ctx context.Context, roundID string, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	round, err := s.rounds.FindByID(ctx, roundID)
	if err != nil {
		return nil, notFoundOr(err, "round not found", "failed to load round")
	}
	if round.Status == models.RoundStatusCancelled || round.Status == models.RoundStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot add sessions to a closed round")
	}
	// Rounds carry dates; a session may run until the end of the round's last day.
	if req.StartTime.Before(round.StartDate) || req.EndTime.After(round.EndDate.Add(24*time.Hour)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session must fall within the round dates")
	}
	session := &models.Session{
		RoundID:   round.ID,
		Title:     strings.TrimSpace(req.Title),
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Location:  req.Location,
		TeamsLink: req.TeamsLink,
	}
	if session.TeamsLink == nil {
		session.TeamsLink = round.TeamsLink
	}
	if err := s.rounds.CreateSession(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return session, nil
}

// ListProviders returns all providers.
func (s *CatalogService) ListProviders(ctx context.Context) ([]models.Provider, error) {
	providers, err := s.providers.ListProviders(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list providers")
	}
	return providers, nil
}

// CreateProvider registers a provider.
func (s *CatalogService) CreateProvider(ctx context.Context, req CreateProviderRequest) (*models.Provider, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid provider payload")
	}
	provider := &models.Provider{
		Name:         strings.TrimSpace(req.Name),
		Type:         req.Type,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Website:      req.Website,
	}
	if err := s.providers.CreateProvider(ctx, provider); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create provider")
	}
	return provider, nil
}

// ListTrainers returns trainers, optionally filtered by provider.
func (s *CatalogService) ListTrainers(ctx context.Context, providerID string) ([]models.Trainer, error) {
	trainers, err := s.providers.ListTrainers(ctx, providerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list trainers")
	}
	return trainers, nil
}

// CreateTrainer registers a trainer.
func (s *CatalogService) CreateTrainer(ctx context.Context, req CreateTrainerRequest) (*models.Trainer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid trainer payload")
	}
	trainer := &models.Trainer{
		UserID:         req.UserID,
		ProviderID:     req.ProviderID,
		Name:           strings.TrimSpace(req.Name),
		Email:          req.Email,
		Specialization: req.Specialization,
	}
	if err := s.providers.CreateTrainer(ctx, trainer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create trainer")
	}
	return trainer, nil
}
