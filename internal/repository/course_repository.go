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

const courseSelect = `SELECT c.id, c.plan_id, c.title, c.description, c.type, c.category, c.duration_hours, c.provider_id, c.created_at, c.updated_at,
        p.name AS plan_name,
        (SELECT COUNT(*) FROM rounds r WHERE r.course_id = c.id) AS round_count
        FROM courses c JOIN plans p ON p.id = c.plan_id`

// CourseRepository manages courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching the filter ordered by title.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		where += fmt.Sprintf(" AND c.plan_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND c.type = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where += fmt.Sprintf(" AND c.category = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		where += fmt.Sprintf(" AND LOWER(c.title) LIKE $%d", len(args))
	}

	page, size := clampPage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("%s%s ORDER BY c.title ASC LIMIT %d OFFSET %d", courseSelect, where, size, (page-1)*size)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses c"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	if err := r.db.GetContext(ctx, &course, courseSelect+" WHERE c.id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// Create inserts a course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt, course.UpdatedAt = now, now
	const query = `INSERT INTO courses (id, plan_id, title, description, type, category, duration_hours, provider_id, created_at, updated_at)
        VALUES (:id, :plan_id, :title, :description, :type, :category, :duration_hours, :provider_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}
