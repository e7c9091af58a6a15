package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type memoryCache struct {
	store       map[string][]byte
	invalidated []string
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if m.store == nil {
		m.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = payload
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.store, key)
	}
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	m.invalidated = append(m.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.store {
		if strings.HasPrefix(key, prefix) {
			delete(m.store, key)
		}
	}
	return nil
}

type fakeCatalog struct {
	plans    map[string]*models.Plan
	courses  map[string]*models.Course
	rounds   map[string]*models.Round
	sessions map[string][]models.Session

	providers []models.Provider
	trainers  []models.Trainer
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		plans:    map[string]*models.Plan{},
		courses:  map[string]*models.Course{},
		rounds:   map[string]*models.Round{},
		sessions: map[string][]models.Session{},
	}
}

type fakePlans struct{ *fakeCatalog }

func (f fakePlans) List(context.Context, models.PlanFilter) ([]models.Plan, int, error) {
	var out []models.Plan
	for _, p := range f.plans {
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (f fakePlans) FindByID(_ context.Context, id string) (*models.Plan, error) {
	if p, ok := f.plans[id]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakePlans) Create(_ context.Context, plan *models.Plan) error {
	plan.ID = uuid.NewString()
	plan.CreatedAt = time.Now()
	plan.UpdatedAt = plan.CreatedAt
	copy := *plan
	f.plans[plan.ID] = &copy
	return nil
}

func (f fakePlans) Update(_ context.Context, plan *models.Plan) error {
	if _, ok := f.plans[plan.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *plan
	f.plans[plan.ID] = &copy
	return nil
}

type fakeCourses struct{ *fakeCatalog }

func (f fakeCourses) List(_ context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range f.courses {
		if filter.PlanID != "" && c.PlanID != filter.PlanID {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f fakeCourses) FindByID(_ context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakeCourses) Create(_ context.Context, course *models.Course) error {
	course.ID = uuid.NewString()
	copy := *course
	f.courses[course.ID] = &copy
	return nil
}

type fakeRounds struct{ *fakeCatalog }

func (f fakeRounds) List(context.Context, models.RoundFilter) ([]models.Round, int, error) {
	var out []models.Round
	for _, r := range f.rounds {
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (f fakeRounds) FindByID(_ context.Context, id string) (*models.Round, error) {
	if r, ok := f.rounds[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakeRounds) Create(_ context.Context, round *models.Round) error {
	round.ID = uuid.NewString()
	copy := *round
	f.rounds[round.ID] = &copy
	return nil
}

func (f fakeRounds) UpdateStatus(_ context.Context, id string, status models.RoundStatus) error {
	r, ok := f.rounds[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	return nil
}

func (f fakeRounds) CreateSession(_ context.Context, session *models.Session) error {
	session.ID = uuid.NewString()
	f.sessions[session.RoundID] = append(f.sessions[session.RoundID], *session)
	return nil
}

func (f fakeRounds) ListSessions(_ context.Context, roundID string) ([]models.Session, error) {
	return f.sessions[roundID], nil
}

type fakeProviders struct{ *fakeCatalog }

func (f fakeProviders) ListProviders(context.Context) ([]models.Provider, error) {
	return f.providers, nil
}

func (f fakeProviders) CreateProvider(_ context.Context, p *models.Provider) error {
	p.ID = uuid.NewString()
	f.fakeCatalog.providers = append(f.fakeCatalog.providers, *p)
	return nil
}

func (f fakeProviders) ListTrainers(_ context.Context, providerID string) ([]models.Trainer, error) {
	var out []models.Trainer
	for _, t := range f.trainers {
		if providerID == "" || (t.ProviderID != nil && *t.ProviderID == providerID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f fakeProviders) CreateTrainer(_ context.Context, t *models.Trainer) error {
	t.ID = uuid.NewString()
	f.fakeCatalog.trainers = append(f.fakeCatalog.trainers, *t)
	return nil
}

func newCatalogFixture(t *testing.T) (*CatalogService, *fakeCatalog, *memoryCache) {
	t.Helper()
	store := newFakeCatalog()
	cacheRepo := &memoryCache{}
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewCatalogService(fakePlans{store}, fakeCourses{store}, fakeRounds{store}, fakeProviders{store}, cacheSvc, nil, zap.NewNop())
	return svc, store, cacheRepo
}

func TestCatalogServiceCreatePlanDefaultsToDraft(t *testing.T) {
	svc, _, cacheRepo := newCatalogFixture(t)

	plan, err := svc.CreatePlan(context.Background(), CreatePlanRequest{Name: " Leadership 2025 ", FiscalYear: 2025}, "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "Leadership 2025", plan.Name)
	assert.Equal(t, models.PlanStatusDraft, plan.Status)
	assert.Equal(t, "admin-1", plan.CreatedBy)
	assert.Contains(t, cacheRepo.invalidated, cacheNamespace+dashboardCachePattern)
}

func TestCatalogServiceCreatePlanValidation(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)

	_, err := svc.CreatePlan(context.Background(), CreatePlanRequest{Name: "", FiscalYear: 1990}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceUpdatePlanNotFound(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)

	_, err := svc.UpdatePlan(context.Background(), uuid.NewString(), UpdatePlanRequest{Name: "x", FiscalYear: 2025, Status: models.PlanStatusActive})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceCreateCourseRequiresOpenPlan(t *testing.T) {
	svc, store, _ := newCatalogFixture(t)
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, CreatePlanRequest{Name: "Safety", FiscalYear: 2025, Status: models.PlanStatusArchived}, "admin-1")
	require.NoError(t, err)

	_, err = svc.CreateCourse(ctx, CreateCourseRequest{PlanID: plan.ID, Title: "Fire drill", Type: models.CourseTypeInternal, Category: "HSE", DurationHours: 2})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	store.plans[plan.ID].Status = models.PlanStatusActive
	course, err := svc.CreateCourse(ctx, CreateCourseRequest{PlanID: plan.ID, Title: "Fire drill", Type: models.CourseTypeInternal, Category: "HSE", DurationHours: 2})
	require.NoError(t, err)
	assert.Equal(t, "Safety", course.PlanName)

	_, err = svc.CreateCourse(ctx, CreateCourseRequest{PlanID: uuid.NewString(), Title: "x", Type: models.CourseTypeInternal, Category: "HSE", DurationHours: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func seedCourse(t *testing.T, svc *CatalogService) *models.Course {
	t.Helper()
	ctx := context.Background()
	plan, err := svc.CreatePlan(ctx, CreatePlanRequest{Name: "Plan", FiscalYear: 2025, Status: models.PlanStatusActive}, "admin-1")
	require.NoError(t, err)
	providerID := uuid.NewString()
	course, err := svc.CreateCourse(ctx, CreateCourseRequest{PlanID: plan.ID, Title: "Go Basics", Type: models.CourseTypeExternal, Category: "IT", DurationHours: 16, ProviderID: &providerID})
	require.NoError(t, err)
	return course
}

func TestCatalogServiceCreateRound(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	course := seedCourse(t, svc)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	round, err := svc.CreateRound(context.Background(), CreateRoundRequest{
		CourseID:     course.ID,
		Name:         "Batch 1",
		MaxSeats:     20,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, 2),
		DeliveryMode: models.DeliveryModeHybrid,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusScheduled, round.Status)
	assert.Equal(t, 0, round.EnrolledCount)
	assert.Equal(t, "Go Basics", round.CourseTitle)
	require.NotNil(t, round.ProviderID)
	assert.Equal(t, *course.ProviderID, *round.ProviderID)
}

func TestCatalogServiceCreateRoundRejectsInvertedDates(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	course := seedCourse(t, svc)
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.CreateRound(context.Background(), CreateRoundRequest{
		CourseID:     course.ID,
		Name:         "Batch 1",
		MaxSeats:     20,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, -1),
		DeliveryMode: models.DeliveryModeOnline,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateRound(context.Background(), CreateRoundRequest{
		CourseID:     course.ID,
		Name:         "Batch 1",
		MaxSeats:     0,
		StartDate:    start,
		EndDate:      start,
		DeliveryMode: models.DeliveryModeOnline,
	})
	require.Error(t, err)
}

func TestCatalogServiceUpdateRoundStatusTransitions(t *testing.T) {
	svc, store, _ := newCatalogFixture(t)
	ctx := context.Background()
	store.rounds["r1"] = &models.Round{ID: "r1", Status: models.RoundStatusScheduled}

	round, err := svc.UpdateRoundStatus(ctx, "r1", UpdateRoundStatusRequest{Status: models.RoundStatusOngoing})
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusOngoing, round.Status)

	_, err = svc.UpdateRoundStatus(ctx, "r1", UpdateRoundStatusRequest{Status: models.RoundStatusScheduled})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateRoundStatus(ctx, "r1", UpdateRoundStatusRequest{Status: models.RoundStatusCompleted})
	require.NoError(t, err)

	_, err = svc.UpdateRoundStatus(ctx, "r1", UpdateRoundStatusRequest{Status: models.RoundStatusCancelled})
	require.Error(t, err)
	assert.Equal(t, models.RoundStatusCompleted, store.rounds["r1"].Status)

	_, err = svc.UpdateRoundStatus(ctx, "missing", UpdateRoundStatusRequest{Status: models.RoundStatusOngoing})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceCreateSession(t *testing.T) {
	svc, store, _ := newCatalogFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	link := "https://teams.example.com/meet/1"
	store.rounds["r1"] = &models.Round{ID: "r1", Status: models.RoundStatusScheduled, StartDate: start, EndDate: start.AddDate(0, 0, 1), TeamsLink: &link}

	session, err := svc.CreateSession(ctx, "r1", CreateSessionRequest{
		Title:     "Day 2",
		StartTime: start.AddDate(0, 0, 1).Add(9 * time.Hour),
		EndTime:   start.AddDate(0, 0, 1).Add(17 * time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, session.TeamsLink)
	assert.Equal(t, link, *session.TeamsLink)

	_, err = svc.CreateSession(ctx, "r1", CreateSessionRequest{
		Title:     "Too late",
		StartTime: start.AddDate(0, 0, 5),
		EndTime:   start.AddDate(0, 0, 5).Add(time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	detail, err := svc.GetRound(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, detail.Sessions, 1)
}

func TestCatalogServiceProvidersAndTrainers(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()

	provider, err := svc.CreateProvider(ctx, CreateProviderRequest{Name: "Acme Academy", Type: models.ProviderTypeExternal})
	require.NoError(t, err)

	_, err = svc.CreateTrainer(ctx, CreateTrainerRequest{Name: "Dana", ProviderID: &provider.ID})
	require.NoError(t, err)
	_, err = svc.CreateTrainer(ctx, CreateTrainerRequest{Name: "Sam"})
	require.NoError(t, err)

	trainers, err := svc.ListTrainers(ctx, provider.ID)
	require.NoError(t, err)
	require.Len(t, trainers, 1)
	assert.Equal(t, "Dana", trainers[0].Name)

	_, err = svc.CreateProvider(ctx, CreateProviderRequest{Name: "Bad", Type: "VENDOR"})
	require.Error(t, err)
}
