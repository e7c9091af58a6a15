package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/pkg/directory"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User, evt *models.OutboxEvent) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string, at time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type directoryLookup interface {
	Configured() bool
	GetUser(ctx context.Context, idOrEmail string) (*directory.Profile, error)
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email      string          `json:"email" validate:"required,email"`
	FirstName  string          `json:"first_name" validate:"required,max=100"`
	LastName   string          `json:"last_name" validate:"required,max=100"`
	EmployeeID *string         `json:"employee_id" validate:"omitempty,max=50"`
	Department *string         `json:"department" validate:"omitempty,max=100"`
	Grade      *string         `json:"grade" validate:"omitempty,max=20"`
	ManagerID  *string         `json:"manager_id" validate:"omitempty,uuid"`
	Role       models.UserRole `json:"role" validate:"required,oneof=EMPLOYEE MANAGER TRAINER ADMINISTRATOR"`
	Password   string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FirstName  string          `json:"first_name" validate:"required,max=100"`
	LastName   string          `json:"last_name" validate:"required,max=100"`
	EmployeeID *string         `json:"employee_id" validate:"omitempty,max=50"`
	Department *string         `json:"department" validate:"omitempty,max=100"`
	Grade      *string         `json:"grade" validate:"omitempty,max=20"`
	ManagerID  *string         `json:"manager_id" validate:"omitempty,uuid"`
	Role       models.UserRole `json:"role" validate:"required,oneof=EMPLOYEE MANAGER TRAINER ADMINISTRATOR"`
	Active     *bool           `json:"active"`
}

// UserService manages employee accounts. Every change is audited against the acting user.
type UserService struct {
	repo      userRepository
	publisher eventPublisher
	validator *validator.Validate
	logger    *zap.Logger
	directory directoryLookup
	now       func() time.Time
}

// NewUserService creates an instance of UserService. A nil publisher leaves welcome emails to the
// outbox relay's next sweep.
func NewUserService(repo userRepository, publisher eventPublisher, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &UserService{repo: repo, publisher: publisher, validator: validate, logger: logger, now: time.Now}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// UseDirectory enables DirectoryProfile lookups.
func (s *UserService) UseDirectory(dir directoryLookup) {
	s.directory = dir
}

// DirectoryProfile maps the corporate directory entry for email onto account fields so an
// administrator can prefill a new user.
func (s *UserService) DirectoryProfile(ctx context.Context, email string) (*models.DirectoryUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validator.Var(email, "required,email"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a valid email is required")
	}
	if s.directory == nil || !s.directory.Configured() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "directory integration is not configured")
	}
	profile, err := s.directory.GetUser(ctx, email)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		s.logger.Warn("directory lookup failed", zap.String("email", email), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "directory lookup failed")
	}

	first, last := profile.GivenName, profile.Surname
	if first == "" && last == "" {
		first, last, _ = strings.Cut(strings.TrimSpace(profile.DisplayName), " ")
	}
	user := &models.DirectoryUser{
		DirectoryID: profile.ID,
		Email:       strings.ToLower(profile.Mail),
		FirstName:   first,
		LastName:    strings.TrimSpace(last),
		EmployeeID:  profile.EmployeeID,
		Department:  profile.Department,
		JobTitle:    profile.JobTitle,
		Enabled:     profile.AccountEnabled,
	}
	if user.Email == "" {
		user.Email = email
	}
	return user, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.load(ctx, id)
}

// Create adds an active user. The welcome email event is committed with the account.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	if err := s.checkManager(ctx, "", req.ManagerID); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		EmployeeID:   req.EmployeeID,
		Department:   req.Department,
		Grade:        req.Grade,
		ManagerID:    req.ManagerID,
		Role:         req.Role,
		Active:       true,
		PasswordHash: string(passwordHash),
	}

	evt, err := newOutboxEvent(models.EventUserCreated, user.ID, models.UserEventPayload{UserID: user.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode welcome event")
	}
	if err := s.repo.Create(ctx, user, evt); err != nil {
		return nil, writeError(err, "failed to create user")
	}
	s.publisher.Publish(ctx, evt)

	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID, nil, map[string]interface{}{"email": user.Email, "role": user.Role}, meta)
	return user, nil
}

// Update modifies the user attributes. Deactivating through an update ends the user's sessions.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkManager(ctx, id, req.ManagerID); err != nil {
		return nil, err
	}

	before := snapshot(user)
	wasActive := user.Active

	user.FirstName = strings.TrimSpace(req.FirstName)
	user.LastName = strings.TrimSpace(req.LastName)
	user.EmployeeID = req.EmployeeID
	user.Department = req.Department
	user.Grade = req.Grade
	user.ManagerID = req.ManagerID
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, writeError(err, "failed to update user")
	}
	if wasActive && !user.Active {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke sessions of deactivated user", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, user.ID, before, snapshot(user), meta)
	return user, nil
}

// Delete deactivates a user and revokes their sessions. Enrollment history is kept.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}

	s.audit(ctx, actorID, models.AuditActionUserDelete, id, map[string]interface{}{"active": user.Active}, map[string]interface{}{"active": false}, meta)
	return nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsMalformedID(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// checkManager requires managerID, when set, to name an existing active user other than self.
func (s *UserService) checkManager(ctx context.Context, self string, managerID *string) error {
	if managerID == nil || *managerID == "" {
		return nil
	}
	if *managerID == self {
		return appErrors.Clone(appErrors.ErrValidation, "user cannot manage themselves")
	}
	manager, err := s.repo.FindByID(ctx, *managerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "manager not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load manager")
	}
	if !manager.Active {
		return appErrors.Clone(appErrors.ErrValidation, "manager is inactive")
	}
	return nil
}

func (s *UserService) audit(ctx context.Context, actorID, action, userID string, before, after map[string]interface{}, meta models.RequestMeta) {
	entry := models.NewAuditLog(actorID, action, "users", userID, meta)
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.String("user_id", userID), zap.Error(err))
	}
}

func snapshot(user *models.User) map[string]interface{} {
	return map[string]interface{}{"role": user.Role, "active": user.Active, "department": user.Department, "manager_id": user.ManagerID}
}

func writeError(err error, msg string) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return appErrors.Clone(appErrors.ErrConflict, "email already exists")
	case errors.Is(err, repository.ErrDuplicateEmployeeID):
		return appErrors.Clone(appErrors.ErrConflict, "employee id already exists")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}
