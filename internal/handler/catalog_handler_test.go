package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type catalogServiceMock struct {
	planFilter   models.PlanFilter
	courseFilter models.CourseFilter
	roundFilter  models.RoundFilter
	planActor    string
	statusReq    service.UpdateRoundStatusRequest
	statusErr    error
	sessionRound string
	trainerProv  string
}

func (m *catalogServiceMock) ListPlans(_ context.Context, f models.PlanFilter) ([]models.Plan, *models.Pagination, error) {
	m.planFilter = f
	return nil, models.NewPagination(f.Page, f.PageSize, 0), nil
}

func (m *catalogServiceMock) GetPlan(_ context.Context, id string) (*models.Plan, error) {
	return &models.Plan{ID: id}, nil
}

func (m *catalogServiceMock) CreatePlan(_ context.Context, req service.CreatePlanRequest, actorID string) (*models.Plan, error) {
	m.planActor = actorID
	return &models.Plan{ID: "p1", Name: req.Name}, nil
}

func (m *catalogServiceMock) UpdatePlan(_ context.Context, id string, _ service.UpdatePlanRequest) (*models.Plan, error) {
	return &models.Plan{ID: id}, nil
}

func (m *catalogServiceMock) ListCourses(_ context.Context, f models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	m.courseFilter = f
	return nil, models.NewPagination(f.Page, f.PageSize, 0), nil
}

func (m *catalogServiceMock) GetCourse(_ context.Context, id string) (*models.Course, error) {
	return &models.Course{ID: id}, nil
}

func (m *catalogServiceMock) CreateCourse(context.Context, service.CreateCourseRequest) (*models.Course, error) {
	return &models.Course{ID: "c1"}, nil
}

func (m *catalogServiceMock) ListRounds(_ context.Context, f models.RoundFilter) ([]models.Round, *models.Pagination, error) {
	m.roundFilter = f
	return nil, models.NewPagination(f.Page, f.PageSize, 0), nil
}

func (m *catalogServiceMock) GetRound(_ context.Context, id string) (*models.RoundDetail, error) {
	return &models.RoundDetail{}, nil
}

func (m *catalogServiceMock) CreateRound(context.Context, service.CreateRoundRequest) (*models.Round, error) {
	return &models.Round{ID: "r1"}, nil
}

func (m *catalogServiceMock) UpdateRoundStatus(_ context.Context, id string, req service.UpdateRoundStatusRequest) (*models.Round, error) {
	m.statusReq = req
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &models.Round{ID: id, Status: req.Status}, nil
}

func (m *catalogServiceMock) ListSessions(_ context.Context, roundID string) ([]models.Session, error) {
	m.sessionRound = roundID
	return []models.Session{{ID: "s1", RoundID: roundID}}, nil
}

func (m *catalogServiceMock) CreateSession(_ context.Context, roundID string, _ service.CreateSessionRequest) (*models.Session, error) {
	m.sessionRound = roundID
	return &models.Session{ID: "s2", RoundID: roundID}, nil
}

func (m *catalogServiceMock) ListProviders(context.Context) ([]models.Provider, error) {
	return []models.Provider{{ID: "pr1"}}, nil
}

func (m *catalogServiceMock) CreateProvider(context.Context, service.CreateProviderRequest) (*models.Provider, error) {
	return &models.Provider{ID: "pr2"}, nil
}

func (m *catalogServiceMock) ListTrainers(_ context.Context, providerID string) ([]models.Trainer, error) {
	m.trainerProv = providerID
	return nil, nil
}

func (m *catalogServiceMock) CreateTrainer(context.Context, service.CreateTrainerRequest) (*models.Trainer, error) {
	return &models.Trainer{ID: "t1"}, nil
}

type seatCounterMock struct{ round string }

func (m *seatCounterMock) RecountSeats(_ context.Context, roundID string) (*models.SeatDrift, error) {
	m.round = roundID
	return &models.SeatDrift{RoundID: roundID, Cached: 5, Computed: 4}, nil
}

func TestCatalogHandlerListRoundsParsesFilters(t *testing.T) {
	mock := &catalogServiceMock{}
	h := NewCatalogHandler(mock, &seatCounterMock{})

	rec := serveRoute(http.MethodGet, "/rounds", "/rounds?courseId=c1&status=scheduled&from=2025-03-01", nil, employeeClaims, h.ListRounds)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", mock.roundFilter.CourseID)
	assert.Equal(t, models.RoundStatusScheduled, mock.roundFilter.Status)
	require.NotNil(t, mock.roundFilter.From)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *mock.roundFilter.From)
	assert.Nil(t, mock.roundFilter.To)

	rec = serveRoute(http.MethodGet, "/rounds", "/rounds?to=03/01/2025", nil, employeeClaims, h.ListRounds)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogHandlerCoursesByPlan(t *testing.T) {
	mock := &catalogServiceMock{}
	h := NewCatalogHandler(mock, nil)

	rec := serveRoute(http.MethodGet, "/courses/plan/:planId", "/courses/plan/p9?type=external", nil, employeeClaims, h.ListCoursesByPlan)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p9", mock.courseFilter.PlanID)
	assert.Equal(t, models.CourseTypeExternal, mock.courseFilter.Type)
}

func TestCatalogHandlerPlans(t *testing.T) {
	mock := &catalogServiceMock{}
	h := NewCatalogHandler(mock, nil)

	rec := serveRoute(http.MethodGet, "/plans", "/plans?fiscalYear=2025&status=active", nil, adminClaims, h.ListPlans)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2025, mock.planFilter.FiscalYear)
	assert.Equal(t, models.PlanStatus("ACTIVE"), mock.planFilter.Status)

	rec = serveRoute(http.MethodPost, "/plans", "/plans", map[string]interface{}{"name": "FY25", "fiscal_year": 2025}, adminClaims, h.CreatePlan)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "admin-1", mock.planActor)
}

func TestCatalogHandlerRoundStatusAndRecount(t *testing.T) {
	mock := &catalogServiceMock{}
	seats := &seatCounterMock{}
	h := NewCatalogHandler(mock, seats)

	rec := serveRoute(http.MethodPatch, "/rounds/:id/status", "/rounds/r1/status", map[string]string{"status": "ONGOING"}, adminClaims, h.UpdateRoundStatus)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoundStatusOngoing, mock.statusReq.Status)

	mock.statusErr = appErrors.Clone(appErrors.ErrInvalidTransition, "round cannot move from COMPLETED to ONGOING")
	rec = serveRoute(http.MethodPatch, "/rounds/:id/status", "/rounds/r1/status", map[string]string{"status": "ONGOING"}, adminClaims, h.UpdateRoundStatus)
	assert.Equal(t, appErrors.ErrInvalidTransition.Status, rec.Code)

	rec = serveRoute(http.MethodPost, "/rounds/:id/recount", "/rounds/r1/recount", nil, adminClaims, h.RecountSeats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", seats.round)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"computed":4`)
}

func TestCatalogHandlerSessionsAndTrainers(t *testing.T) {
	mock := &catalogServiceMock{}
	h := NewCatalogHandler(mock, nil)

	rec := serveRoute(http.MethodPost, "/rounds/:id/sessions", "/rounds/r4/sessions", map[string]string{"title": "Day 1"}, adminClaims, h.CreateSession)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "r4", mock.sessionRound)

	rec = serveRoute(http.MethodGet, "/trainers", "/trainers?providerId=pr1", nil, adminClaims, h.ListTrainers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pr1", mock.trainerProv)
}
