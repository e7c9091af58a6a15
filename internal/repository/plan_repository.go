package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

const planSelect = `SELECT p.id, p.name, p.description, p.fiscal_year, p.status, p.created_by, p.created_at, p.updated_at,
        (SELECT COUNT(*) FROM courses c WHERE c.plan_id = p.id) AS course_count
        FROM plans p`

// PlanRepository manages training plans.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs a PlanRepository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// List returns plans matching the filter, newest fiscal year first.
func (r *PlanRepository) List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND p.status = $%d", len(args))
	}
	if filter.FiscalYear > 0 {
		args = append(args, filter.FiscalYear)
		where += fmt.Sprintf(" AND p.fiscal_year = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		where += fmt.Sprintf(" AND LOWER(p.name) LIKE $%d", len(args))
	}

	page, size := clampPage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("%s%s ORDER BY p.fiscal_year DESC, p.created_at DESC LIMIT %d OFFSET %d", planSelect, where, size, (page-1)*size)

	var plans []models.Plan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM plans p"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}
	return plans, total, nil
}

// FindByID returns a plan by id.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.GetContext(ctx, &plan, planSelect+" WHERE p.id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return &plan, nil
}

// Create inserts a plan.
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	plan.CreatedAt, plan.UpdatedAt = now, now
	const query = `INSERT INTO plans (id, name, description, fiscal_year, status, created_by, created_at, updated_at)
        VALUES (:id, :name, :description, :fiscal_year, :status, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// Update overwrites mutable plan fields.
func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE plans SET name = :name, description = :description, fiscal_year = :fiscal_year, status = :status, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, plan)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// clampPage normalises paging input: page >= 1, size in (0, 100] defaulting to 20.
func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
