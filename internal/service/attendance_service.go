package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type attendanceRepository interface {
	Mark(ctx context.Context, attendance *models.Attendance) (float64, error)
	MarkBulk(ctx context.Context, records []models.Attendance) (map[string]float64, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error)
}

type sessionLookup interface {
	FindSession(ctx context.Context, id string) (*models.Session, error)
}

type enrollmentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// AttendanceService records session attendance.
type AttendanceService struct {
	repo        attendanceRepository
	sessions    sessionLookup
	enrollments enrollmentLookup
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, sessions sessionLookup, enrollments enrollmentLookup, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{repo: repo, sessions: sessions, enrollments: enrollments, validator: validate, logger: logger, now: time.Now}
}

// MarkAttendanceRequest records one enrollee's presence at a session.
type MarkAttendanceRequest struct {
	SessionID    string  `json:"session_id" validate:"required,uuid"`
	EnrollmentID string  `json:"enrollment_id" validate:"required,uuid"`
	Present      bool    `json:"present"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

// BulkAttendanceItem is one row of a bulk attendance sheet.
type BulkAttendanceItem struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required,uuid"`
	Present      bool    `json:"present"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

// BulkAttendanceRequest records a whole session sheet at once.
type BulkAttendanceRequest struct {
	SessionID string               `json:"session_id" validate:"required,uuid"`
	Records   []BulkAttendanceItem `json:"records" validate:"required,min=1,max=1000,dive"`
}

// AttendanceResult is the stored row and the enrollment's new attendance percentage.
type AttendanceResult struct {
	Attendance           models.Attendance `json:"attendance"`
	AttendancePercentage float64           `json:"attendance_percentage"`
}

// BulkAttendanceResult summarises a bulk mark.
type BulkAttendanceResult struct {
	Processed   int                `json:"processed"`
	Percentages map[string]float64 `json:"attendance_percentages"`
}

// Mark upserts attendance for one enrollment of the session's round.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest, markedBy string) (*AttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	session, err := s.sessions.FindSession(ctx, req.SessionID)
	if err != nil {
		return nil, notFoundOr(err, "session not found", "failed to load session")
	}
	if err := s.checkEnrollment(ctx, session, req.EnrollmentID); err != nil {
		return nil, err
	}

	record := &models.Attendance{
		SessionID:    session.ID,
		EnrollmentID: req.EnrollmentID,
		Present:      req.Present,
		Notes:        req.Notes,
		MarkedBy:     markedBy,
		MarkedAt:     s.now().UTC(),
	}
	percentage, err := s.repo.Mark(ctx, record)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to mark attendance")
	}
	s.logger.Info("attendance marked",
		zap.String("session_id", session.ID),
		zap.String("enrollment_id", req.EnrollmentID),
		zap.Bool("present", req.Present),
		zap.Float64("attendance_percentage", percentage),
	)
	return &AttendanceResult{Attendance: *record, AttendancePercentage: percentage}, nil
}

// MarkBulk upserts a whole session sheet in one transaction. Any invalid row rejects the sheet.
func (s *AttendanceService) MarkBulk(ctx context.Context, req BulkAttendanceRequest, markedBy string) (*BulkAttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	session, err := s.sessions.FindSession(ctx, req.SessionID)
	if err != nil {
		return nil, notFoundOr(err, "session not found", "failed to load session")
	}

	now := s.now().UTC()
	seen := make(map[string]struct{}, len(req.Records))
	records := make([]models.Attendance, 0, len(req.Records))
	for _, item := range req.Records {
		if _, ok := seen[item.EnrollmentID]; ok {
			return nil, appErrors.Clone(appErrors.ErrConflict, "duplicate enrollment in payload")
		}
		seen[item.EnrollmentID] = struct{}{}
		if err := s.checkEnrollment(ctx, session, item.EnrollmentID); err != nil {
			return nil, err
		}
		records = append(records, models.Attendance{
			SessionID:    session.ID,
			EnrollmentID: item.EnrollmentID,
			Present:      item.Present,
			Notes:        item.Notes,
			MarkedBy:     markedBy,
			MarkedAt:     now,
		})
	}

	percentages, err := s.repo.MarkBulk(ctx, records)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to mark attendance")
	}
	s.logger.Info("attendance sheet recorded", zap.String("session_id", session.ID), zap.Int("records", len(records)))
	return &BulkAttendanceResult{Processed: len(records), Percentages: percentages}, nil
}

// ListBySession returns the attendance sheet of a session.
func (s *AttendanceService) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error) {
	if _, err := s.sessions.FindSession(ctx, sessionID); err != nil {
		return nil, notFoundOr(err, "session not found", "failed to load session")
	}
	rows, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return rows, nil
}

// checkEnrollment requires a seat-holding enrollment in the session's round.
func (s *AttendanceService) checkEnrollment(ctx context.Context, session *models.Session, enrollmentID string) error {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if enrollment.RoundID != session.RoundID {
		return appErrors.Clone(appErrors.ErrValidation, "enrollment does not belong to the session's round")
	}
	if !enrollment.Status.HoldsSeat() {
		return appErrors.Clone(appErrors.ErrValidation, "enrollment is not active")
	}
	return nil
}
