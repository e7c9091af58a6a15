package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// DashboardRepository aggregates training activity counters.
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository constructs a DashboardRepository.
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// Stats returns the dashboard counters in a single round trip.
func (r *DashboardRepository) Stats(ctx context.Context) (*models.DashboardStats, error) {
	const query = `SELECT
        (SELECT COUNT(*) FROM users WHERE active) AS total_employees,
        (SELECT COUNT(*) FROM plans WHERE status = 'ACTIVE') AS active_plans,
        (SELECT COUNT(*) FROM rounds WHERE status = 'ONGOING') AS ongoing_rounds,
        (SELECT COUNT(*) FROM rounds WHERE status = 'SCHEDULED' AND start_date > now()) AS upcoming_rounds,
        (SELECT COUNT(*) FROM enrollments) AS total_enrollments,
        (SELECT COUNT(*) FROM enrollments WHERE status = 'COMPLETED') AS completed`
	var stats models.DashboardStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return &stats, nil
}
