package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/pkg/export"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	ListAll(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindByUserAndRound(ctx context.Context, userID, roundID string) (*models.Enrollment, error)
	CreateWithSeat(ctx context.Context, enrollment *models.Enrollment, evt *models.OutboxEvent) error
	BulkCreate(ctx context.Context, roundID string, userIDs []string, enrolledBy *string, build repository.OutboxBuilder) ([]models.Enrollment, int, error)
	UpdateStatus(ctx context.Context, id string, from, next models.EnrollmentStatus, completedAt *time.Time, evt *models.OutboxEvent) error
	Delete(ctx context.Context, id string) error
	RecountSeats(ctx context.Context, roundID string) (*models.SeatDrift, error)
	ReconcileAll(ctx context.Context) ([]models.SeatDrift, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type roundLookup interface {
	FindByID(ctx context.Context, id string) (*models.Round, error)
}

// EnrollRequest describes a single enrollment.
type EnrollRequest struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	RoundID  string `json:"round_id" validate:"required,uuid"`
	Waitlist bool   `json:"waitlist"`
}

// BulkEnrollRequest enrolls many users into one round.
type BulkEnrollRequest struct {
	RoundID string   `json:"round_id" validate:"required,uuid"`
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=1000,dive,uuid"`
}

// UpdateEnrollmentRequest moves an enrollment to a new status.
type UpdateEnrollmentRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required,oneof=ENROLLED COMPLETED DROPPED WAITLISTED"`
}

// EnrollmentServiceConfig tunes enrollment behaviour.
type EnrollmentServiceConfig struct {
	// BulkNotifySubscribers controls whether batch enrollments also notify topic subscribers.
	BulkNotifySubscribers bool
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	repo      enrollmentRepository
	users     userLookup
	rounds    roundLookup
	publisher eventPublisher
	exporter  *ExportService
	metrics   *MetricsService
	cfg       EnrollmentServiceConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, users userLookup, rounds roundLookup, publisher eventPublisher, exporter *ExportService, metrics *MetricsService, cfg EnrollmentServiceConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if exporter == nil {
		exporter = NewExportService(nil, nil, logger)
	}
	return &EnrollmentService{
		repo:      repo,
		users:     users,
		rounds:    rounds,
		publisher: publisher,
		exporter:  exporter,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ListByUser returns the enrollments of one user.
func (s *EnrollmentService) ListByUser(ctx context.Context, userID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	filter.UserID = userID
	return s.List(ctx, filter)
}

// Get returns an enrollment with user and round details.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	return detail, nil
}

// Enroll registers a user to a round. The enrollment, its seat and the enrollment.created
// event are committed together; notifications follow asynchronously and never fail the call.
// A full round is rejected unless req.Waitlist is set, in which case the user is waitlisted.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest, actorID string) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, notFoundOr(err, "user not found", "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is inactive")
	}

	round, err := s.rounds.FindByID(ctx, req.RoundID)
	if err != nil {
		return nil, notFoundOr(err, "round not found", "failed to load round")
	}
	if round.Status != models.RoundStatusScheduled {
		s.metrics.RecordEnrollment(EnrollResultClosed, 1)
		return nil, appErrors.Clone(appErrors.ErrRoundClosed, "")
	}

	if _, err := s.repo.FindByUserAndRound(ctx, req.UserID, req.RoundID); err == nil {
		s.metrics.RecordEnrollment(EnrollResultDuplicate, 1)
		return nil, appErrors.Clone(appErrors.ErrConflict, "user already enrolled in this round")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}

	status := models.EnrollmentStatusEnrolled
	if round.SeatsLeft() == 0 {
		if !req.Waitlist {
			s.metrics.RecordEnrollment(EnrollResultFull, 1)
			return nil, appErrors.Clone(appErrors.ErrRoundFull, "")
		}
		status = models.EnrollmentStatusWaitlisted
	}

	enrollment := &models.Enrollment{
		UserID:     user.ID,
		RoundID:    round.ID,
		Status:     status,
		EnrolledAt: time.Now().UTC(),
	}
	if actorID != "" {
		enrollment.EnrolledBy = &actorID
	}

	var evt *models.OutboxEvent
	if status == models.EnrollmentStatusEnrolled {
		enrollment.ID = uuid.NewString()
		evt, err = enrollmentEvent(models.EventEnrollmentCreated, *enrollment, true, false)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build enrollment event")
		}
	}

	if err := s.repo.CreateWithSeat(ctx, enrollment, evt); err != nil {
		return nil, s.translateWriteError(err)
	}

	if status == models.EnrollmentStatusWaitlisted {
		s.metrics.RecordEnrollment(EnrollResultWaitlisted, 1)
	} else {
		s.metrics.RecordEnrollment(EnrollResultEnrolled, 1)
		s.publisher.Publish(ctx, evt)
	}
	s.logger.Info("user enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("user_id", user.ID),
		zap.String("round_id", round.ID),
		zap.String("status", string(status)),
	)

	// The enrollment is committed; a failed re-read must not turn that into an error.
	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		s.logger.Warn("failed to reload enrollment after commit", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return committedDetail(enrollment, user, round), nil
	}
	return detail, nil
}

func committedDetail(enrollment *models.Enrollment, user *models.User, round *models.Round) *models.EnrollmentDetail {
	return &models.EnrollmentDetail{
		Enrollment:     *enrollment,
		UserEmail:      user.Email,
		UserFirstName:  user.FirstName,
		UserLastName:   user.LastName,
		UserDepartment: user.Department,
		RoundName:      round.Name,
		RoundStartDate: round.StartDate,
		CourseID:       round.CourseID,
	}
}

// EnrollMany enrolls the given users into a round in one batch, skipping users who are
// unknown, inactive or already enrolled, and stopping once the round is full.
func (s *EnrollmentService) EnrollMany(ctx context.Context, req BulkEnrollRequest, actorID string) (*models.BulkEnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk enrollment payload")
	}

	round, err := s.rounds.FindByID(ctx, req.RoundID)
	if err != nil {
		return nil, notFoundOr(err, "round not found", "failed to load round")
	}
	if round.Status != models.RoundStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrRoundClosed, "")
	}

	userIDs := uniqueStrings(req.UserIDs)
	var enrolledBy *string
	if actorID != "" {
		enrolledBy = &actorID
	}

	var events []*models.OutboxEvent
	build := func(e models.Enrollment) (*models.OutboxEvent, error) {
		evt, err := enrollmentEvent(models.EventEnrollmentCreated, e, s.cfg.BulkNotifySubscribers, true)
		if err == nil {
			events = append(events, evt)
		}
		return evt, err
	}

	created, seatsLeft, err := s.repo.BulkCreate(ctx, round.ID, userIDs, enrolledBy, build)
	if err != nil {
		return nil, s.translateWriteError(err)
	}

	for _, evt := range events {
		s.publisher.Publish(ctx, evt)
	}
	s.metrics.RecordEnrollment(EnrollResultBulk, len(created))

	result := &models.BulkEnrollResult{
		EnrolledCount: len(created),
		Skipped:       len(userIDs) - len(created),
		EnrolledIDs:   make([]string, 0, len(created)),
		SeatsLeft:     seatsLeft,
	}
	for _, e := range created {
		result.EnrolledIDs = append(result.EnrolledIDs, e.UserID)
	}

	s.logger.Info("bulk enrollment completed",
		zap.String("round_id", round.ID),
		zap.Int("requested", len(userIDs)),
		zap.Int("enrolled", result.EnrolledCount),
		zap.Int("skipped", result.Skipped),
		zap.Int("seats_left", seatsLeft),
	)
	return result, nil
}

// UpdateStatus applies a lifecycle transition. Completing an enrollment emits
// enrollment.completed; promoting a waitlisted enrollment takes a seat and emits enrollment.created.
func (s *EnrollmentService) UpdateStatus(ctx context.Context, id string, req UpdateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment status payload")
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if !enrollment.Status.CanTransitionTo(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("enrollment cannot move from %s to %s", enrollment.Status, req.Status))
	}

	var (
		completedAt *time.Time
		evt         *models.OutboxEvent
	)
	switch {
	case req.Status == models.EnrollmentStatusCompleted:
		now := time.Now().UTC()
		completedAt = &now
		evt, err = enrollmentEvent(models.EventEnrollmentCompleted, *enrollment, true, false)
	case enrollment.Status == models.EnrollmentStatusWaitlisted && req.Status == models.EnrollmentStatusEnrolled:
		evt, err = enrollmentEvent(models.EventEnrollmentCreated, *enrollment, true, false)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build enrollment event")
	}

	if err := s.repo.UpdateStatus(ctx, id, enrollment.Status, req.Status, completedAt, evt); err != nil {
		return nil, s.translateWriteError(err)
	}
	if evt != nil {
		s.publisher.Publish(ctx, evt)
	}
	s.logger.Info("enrollment status changed",
		zap.String("enrollment_id", id),
		zap.String("from", string(enrollment.Status)),
		zap.String("to", string(req.Status)),
	)
	return s.Get(ctx, id)
}

// Delete removes an enrollment and frees its seat.
func (s *EnrollmentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFoundOr(err, "enrollment not found", "failed to delete enrollment")
	}
	return nil
}

// RecountSeats recomputes the seat counter of a round from its enrollments.
func (s *EnrollmentService) RecountSeats(ctx context.Context, roundID string) (*models.SeatDrift, error) {
	drift, err := s.repo.RecountSeats(ctx, roundID)
	if err != nil {
		return nil, notFoundOr(err, "round not found", "failed to recount seats")
	}
	if drift.Cached != drift.Computed {
		s.logger.Warn("seat counter drift corrected",
			zap.String("round_id", roundID),
			zap.Int("cached", drift.Cached),
			zap.Int("computed", drift.Computed),
		)
	}
	return drift, nil
}

// ReconcileSeats corrects drifted counters of every open round.
func (s *EnrollmentService) ReconcileSeats(ctx context.Context) error {
	drifts, err := s.repo.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("reconcile seats: %w", err)
	}
	for _, d := range drifts {
		s.logger.Warn("seat counter drift corrected",
			zap.String("round_id", d.RoundID),
			zap.Int("cached", d.Cached),
			zap.Int("computed", d.Computed),
		)
	}
	s.logger.Info("seat reconciliation finished", zap.Int("drifted_rounds", len(drifts)))
	return nil
}

// Export renders every enrollment matching filter as CSV or PDF.
func (s *EnrollmentService) Export(ctx context.Context, filter models.EnrollmentFilter, format string) (*ExportFile, error) {
	rows, err := s.repo.ListAll(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	data := export.Dataset{
		Headers: []string{"Employee", "Email", "Department", "Course", "Round", "Status", "Enrolled At", "Completed At", "Attendance %"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, e := range rows {
		completed := ""
		if e.CompletedAt != nil {
			completed = e.CompletedAt.UTC().Format("2006-01-02")
		}
		data.Rows = append(data.Rows, map[string]string{
			"Employee":     e.UserFirstName + " " + e.UserLastName,
			"Email":        e.UserEmail,
			"Department":   deref(e.UserDepartment),
			"Course":       e.CourseTitle,
			"Round":        e.RoundName,
			"Status":       string(e.Status),
			"Enrolled At":  e.EnrolledAt.UTC().Format("2006-01-02"),
			"Completed At": completed,
			"Attendance %": strconv.FormatFloat(e.AttendancePercentage, 'f', 1, 64),
		})
	}

	base := "enrollments"
	if filter.RoundID != "" {
		base += "_" + filter.RoundID
	}
	return s.exporter.Render(data, format, "Enrollments", base)
}

func (s *EnrollmentService) translateWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateEnrollment):
		s.metrics.RecordEnrollment(EnrollResultDuplicate, 1)
		return appErrors.Clone(appErrors.ErrConflict, "user already enrolled in this round")
	case errors.Is(err, repository.ErrNoSeatAvailable):
		s.metrics.RecordEnrollment(EnrollResultFull, 1)
		return appErrors.Clone(appErrors.ErrRoundFull, "")
	case errors.Is(err, repository.ErrRoundNotOpen):
		s.metrics.RecordEnrollment(EnrollResultClosed, 1)
		return appErrors.Clone(appErrors.ErrRoundClosed, "")
	case errors.Is(err, repository.ErrStaleStatus):
		return appErrors.Clone(appErrors.ErrConflict, "enrollment was modified concurrently")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "round not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save enrollment")
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
