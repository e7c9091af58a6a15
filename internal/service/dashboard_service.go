package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

const (
	dashboardCacheKey     = "dashboard:stats"
	dashboardCachePattern = "dashboard:*"
)

type dashboardRepository interface {
	Stats(ctx context.Context) (*models.DashboardStats, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService serves the training activity summary.
type DashboardService struct {
	repo   dashboardRepository
	cache  *CacheService
	logger *zap.Logger
	now    func() time.Time
	cfg    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(repo dashboardRepository, cache *CacheService, cfg DashboardServiceConfig, logger *zap.Logger) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{repo: repo, cache: cache, logger: logger, now: time.Now, cfg: cfg}
}

// Stats returns the dashboard counters and whether they came from cache. refresh discards the
// cached copy first.
func (s *DashboardService) Stats(ctx context.Context, refresh bool) (*models.DashboardStats, bool, error) {
	if refresh {
		s.cache.Forget(ctx, dashboardCacheKey)
	}
	var stats models.DashboardStats
	hit, err := s.cache.Remember(ctx, dashboardCacheKey, s.cfg.CacheTTL, &stats, func(ctx context.Context) error {
		fresh, err := s.repo.Stats(ctx)
		if err != nil {
			return err
		}
		fresh.CompletionRate = completionRate(fresh.Completed, fresh.TotalEnrollments)
		fresh.GeneratedAt = s.now().UTC()
		stats = *fresh
		s.logger.Debug("dashboard stats recomputed", zap.Int("enrollments", fresh.TotalEnrollments))
		return nil
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dashboard stats")
	}
	return &stats, hit, nil
}

// completionRate is completed over total as a percentage with two decimals.
func completionRate(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*10000) / 100
}
