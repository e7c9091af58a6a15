package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/pkg/directory"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type mockUserRepo struct {
	users       map[string]*models.User
	listUsers   []models.User
	listCount   int
	listErr     error
	createErr   error
	outbox      []*models.OutboxEvent
	revoked     []string
	deactivated map[string]time.Time
	auditLogs   []*models.AuditLog
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*models.User), deactivated: make(map[string]time.Time)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.listUsers, m.listCount, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User, evt *models.OutboxEvent) error {
	if m.createErr != nil {
		return m.createErr
	}
	copy := *user
	m.users[user.ID] = &copy
	if evt != nil {
		m.outbox = append(m.outbox, evt)
	}
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	m.users[id].Active = false
	m.deactivated[id] = at
	m.revoked = append(m.revoked, id)
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type recordingPublisher struct {
	published []*models.OutboxEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *models.OutboxEvent) {
	p.published = append(p.published, evt)
}

func newUserRequest(email string, role models.UserRole) CreateUserRequest {
	return CreateUserRequest{Email: email, FirstName: "Ana", LastName: "Lee", Password: "secret123", Role: role}
}

func TestUserServiceList(t *testing.T) {
	repo := newMockUserRepo()
	repo.listUsers, repo.listCount = []models.User{{ID: "1", Email: "a@example.com"}}, 31
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())

	users, pagination, err := svc.List(context.Background(), models.UserFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 31, pagination.TotalCount)
	assert.Equal(t, 10, pagination.PageSize)

	repo.listErr = errors.New("db down")
	_, _, err = svc.List(context.Background(), models.UserFilter{})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateCommitsWelcomeEvent(t *testing.T) {
	repo := newMockUserRepo()
	publisher := &recordingPublisher{}
	svc := NewUserService(repo, publisher, validator.New(), zap.NewNop())

	user, err := svc.Create(context.Background(), newUserRequest(" USER@EXAMPLE.COM ", models.RoleEmployee), "actor", models.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.True(t, user.Active)
	assert.NotEqual(t, "secret123", repo.users[user.ID].PasswordHash)

	require.Len(t, repo.outbox, 1)
	assert.Equal(t, models.EventUserCreated, repo.outbox[0].EventType)
	assert.JSONEq(t, `{"user_id":"`+user.ID+`"}`, string(repo.outbox[0].Payload))
	require.Len(t, publisher.published, 1)
	assert.Same(t, repo.outbox[0], publisher.published[0])

	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
	assert.Equal(t, "actor", *repo.auditLogs[0].UserID)
	assert.Nil(t, repo.auditLogs[0].OldValues)
}

func TestUserServiceCreateMapsDuplicates(t *testing.T) {
	repo := newMockUserRepo()
	publisher := &recordingPublisher{}
	svc := NewUserService(repo, publisher, nil, nil)

	for _, dup := range []error{repository.ErrDuplicateEmail, repository.ErrDuplicateEmployeeID} {
		repo.createErr = dup
		_, err := svc.Create(context.Background(), newUserRequest("user@example.com", models.RoleEmployee), "actor", models.RequestMeta{})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	}
	assert.Empty(t, publisher.published)
	assert.Empty(t, repo.auditLogs)
}

func TestUserServiceCreateRejectsInvalidInput(t *testing.T) {
	inactive := &models.User{ID: "5f0c7a52-9a4e-4c1b-8d7e-0a3b2c1d4e5f", Role: models.RoleManager}
	svc := NewUserService(newMockUserRepo(inactive), nil, nil, nil)

	_, err := svc.Create(context.Background(), newUserRequest("a@example.com", "STUDENT"), "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req := newUserRequest("a@example.com", models.RoleEmployee)
	req.ManagerID = &inactive.ID
	_, err = svc.Create(context.Background(), req, "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "inactive")
}

func TestUserServiceUpdateDeactivationEndsSessions(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "1", Email: "a@example.com", FirstName: "Old", Role: models.RoleEmployee, Active: true})
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())
	active := false
	dept := "Sales"

	user, err := svc.Update(context.Background(), "1", UpdateUserRequest{FirstName: "New", LastName: "Name", Department: &dept, Role: models.RoleManager, Active: &active}, "actor", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, user.Role)
	assert.Equal(t, "New Name", user.FullName())
	assert.False(t, user.Active)
	assert.Equal(t, []string{"1"}, repo.revoked)

	require.Len(t, repo.auditLogs, 1)
	assert.JSONEq(t, `{"role":"EMPLOYEE","active":true,"department":null,"manager_id":null}`, string(repo.auditLogs[0].OldValues))
	assert.JSONEq(t, `{"role":"MANAGER","active":false,"department":"Sales","manager_id":null}`, string(repo.auditLogs[0].NewValues))
}

func TestUserServiceUpdateValidatesManager(t *testing.T) {
	const id = "2b9d6f3e-1c4a-4e8b-9f0d-7a6c5b4e3d21"
	repo := newMockUserRepo(&models.User{ID: id, Role: models.RoleEmployee, Active: true})
	svc := NewUserService(repo, nil, nil, nil)
	req := UpdateUserRequest{FirstName: "A", LastName: "B", Role: models.RoleEmployee}

	self := id
	req.ManagerID = &self
	_, err := svc.Update(context.Background(), id, req, "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "themselves")

	missing := "00000000-0000-0000-0000-000000000000"
	req.ManagerID = &missing
	_, err = svc.Update(context.Background(), id, req, "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "manager not found")

	_, err = svc.Update(context.Background(), "nope", UpdateUserRequest{FirstName: "A", LastName: "B", Role: models.RoleEmployee}, "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.auditLogs)
}

func TestUserServiceDelete(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "1", Email: "a@example.com", Role: models.RoleEmployee, Active: true})
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	require.NoError(t, svc.Delete(context.Background(), "1", "actor", models.RequestMeta{}))
	assert.False(t, repo.users["1"].Active)
	assert.Equal(t, at, repo.deactivated["1"])
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDelete, repo.auditLogs[0].Action)

	err := svc.Delete(context.Background(), "actor", "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), "ghost", "actor", models.RequestMeta{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

type stubDirectory struct {
	configured bool
	profiles   map[string]*directory.Profile
	err        error
}

func (d *stubDirectory) Configured() bool { return d.configured }

func (d *stubDirectory) GetUser(_ context.Context, email string) (*directory.Profile, error) {
	if d.err != nil {
		return nil, d.err
	}
	if p, ok := d.profiles[email]; ok {
		return p, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "directory user not found")
}

func TestUserServiceDirectoryProfile(t *testing.T) {
	svc := NewUserService(newMockUserRepo(), nil, validator.New(), zap.NewNop())
	ctx := context.Background()

	_, err := svc.DirectoryProfile(ctx, "ana@corp.test")
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	svc.UseDirectory(&stubDirectory{configured: true, profiles: map[string]*directory.Profile{
		"ana@corp.test": {ID: "aad-1", DisplayName: "Ana Maria Lee", Department: "Finance", EmployeeID: "E-7", AccountEnabled: true},
	}})

	_, err = svc.DirectoryProfile(ctx, "not-an-email")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	user, err := svc.DirectoryProfile(ctx, " Ana@Corp.test ")
	require.NoError(t, err)
	assert.Equal(t, "ana@corp.test", user.Email)
	assert.Equal(t, "Ana", user.FirstName)
	assert.Equal(t, "Maria Lee", user.LastName)
	assert.Equal(t, "E-7", user.EmployeeID)
	assert.True(t, user.Enabled)

	_, err = svc.DirectoryProfile(ctx, "ghost@corp.test")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	svc.UseDirectory(&stubDirectory{configured: true, err: appErrors.Wrap(errors.New("status 503"), appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "directory user lookup failed")})
	_, err = svc.DirectoryProfile(ctx, "ana@corp.test")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
