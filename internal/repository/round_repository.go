package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

const roundSelect = `SELECT r.id, r.course_id, r.name, r.max_seats, r.enrolled_count, r.start_date, r.end_date, r.delivery_mode,
        r.venue, r.teams_link, r.trainer_id, r.provider_id, r.status, r.created_at, r.updated_at, c.title AS course_title
        FROM rounds r JOIN courses c ON c.id = r.course_id`

const sessionColumns = `id, round_id, title, start_time, end_time, location, teams_link, created_at`

// RoundRepository manages rounds and their sessions.
type RoundRepository struct {
	db *sqlx.DB
}

// NewRoundRepository constructs a RoundRepository.
func NewRoundRepository(db *sqlx.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// List returns rounds matching the filter ordered by start date.
func (r *RoundRepository) List(ctx context.Context, filter models.RoundFilter) ([]models.Round, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		where += fmt.Sprintf(" AND r.course_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND r.start_date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND r.start_date < $%d", len(args))
	}

	page, size := clampPage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("%s%s ORDER BY r.start_date ASC LIMIT %d OFFSET %d", roundSelect, where, size, (page-1)*size)

	var rounds []models.Round
	if err := r.db.SelectContext(ctx, &rounds, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list rounds: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM rounds r"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count rounds: %w", err)
	}
	return rounds, total, nil
}

// FindByID returns a round by id.
func (r *RoundRepository) FindByID(ctx context.Context, id string) (*models.Round, error) {
	var round models.Round
	if err := r.db.GetContext(ctx, &round, roundSelect+" WHERE r.id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find round: %w", err)
	}
	return &round, nil
}

// Create inserts a round with a zero seat counter.
func (r *RoundRepository) Create(ctx context.Context, round *models.Round) error {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	round.CreatedAt, round.UpdatedAt = now, now
	round.EnrolledCount = 0
	if round.Status == "" {
		round.Status = models.RoundStatusScheduled
	}
	const query = `INSERT INTO rounds (id, course_id, name, max_seats, enrolled_count, start_date, end_date, delivery_mode, venue, teams_link, trainer_id, provider_id, status, created_at, updated_at)
        VALUES (:id, :course_id, :name, :max_seats, :enrolled_count, :start_date, :end_date, :delivery_mode, :venue, :teams_link, :trainer_id, :provider_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, round); err != nil {
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

// UpdateStatus sets the round status.
func (r *RoundRepository) UpdateStatus(ctx context.Context, id string, status models.RoundStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rounds SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update round status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateSession inserts a session for a round.
func (r *RoundRepository) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO sessions (id, round_id, title, start_time, end_time, location, teams_link, created_at)
        VALUES (:id, :round_id, :title, :start_time, :end_time, :location, :teams_link, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// ListSessions returns the sessions of a round in chronological order.
func (r *RoundRepository) ListSessions(ctx context.Context, roundID string) ([]models.Session, error) {
	sessions := []models.Session{}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE round_id = $1 ORDER BY start_time ASC`
	if err := r.db.SelectContext(ctx, &sessions, query, roundID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FindSession returns one session.
func (r *RoundRepository) FindSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// UpcomingSessions returns sessions of live rounds starting in [from, to).
func (r *RoundRepository) UpcomingSessions(ctx context.Context, from, to time.Time) ([]models.UpcomingSession, error) {
	const query = `SELECT s.id, s.round_id, s.title, s.start_time, s.end_time, s.location, s.teams_link, s.created_at,
        r.name AS round_name, c.title AS course_title
        FROM sessions s JOIN rounds r ON r.id = s.round_id JOIN courses c ON c.id = r.course_id
        WHERE s.start_time >= $1 AND s.start_time < $2 AND r.status IN ('SCHEDULED', 'ONGOING')
        ORDER BY s.start_time ASC`
	var sessions []models.UpcomingSession
	if err := r.db.SelectContext(ctx, &sessions, query, from, to); err != nil {
		return nil, fmt.Errorf("upcoming sessions: %w", err)
	}
	return sessions, nil
}
