package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

// AttendanceRepository records session attendance and keeps enrollment percentages current.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const upsertAttendance = `INSERT INTO attendance (id, session_id, enrollment_id, present, notes, marked_by, marked_at)
    VALUES (:id, :session_id, :enrollment_id, :present, :notes, :marked_by, :marked_at)
    ON CONFLICT (session_id, enrollment_id) DO UPDATE SET present = EXCLUDED.present, notes = EXCLUDED.notes,
        marked_by = EXCLUDED.marked_by, marked_at = EXCLUDED.marked_at`

// recomputePercentage sets attendance_percentage to present sessions over all sessions of the round.
const recomputePercentage = `UPDATE enrollments e SET attendance_percentage = COALESCE((
        SELECT ROUND(100.0 * COUNT(*) FILTER (WHERE a.present) / NULLIF((SELECT COUNT(*) FROM sessions s WHERE s.round_id = e.round_id), 0), 2)
        FROM attendance a WHERE a.enrollment_id = e.id
    ), 0)
    WHERE e.id = $1
    RETURNING e.attendance_percentage`

// Mark upserts one attendance row and returns the enrollment's new attendance percentage.
func (r *AttendanceRepository) Mark(ctx context.Context, attendance *models.Attendance) (float64, error) {
	var percentage float64
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		p, err := markTx(ctx, tx, attendance)
		percentage = p
		return err
	})
	return percentage, err
}

// MarkBulk upserts many attendance rows in one transaction and returns the new percentage per enrollment.
func (r *AttendanceRepository) MarkBulk(ctx context.Context, records []models.Attendance) (map[string]float64, error) {
	result := make(map[string]float64, len(records))
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for i := range records {
			p, err := markTx(ctx, tx, &records[i])
			if err != nil {
				return err
			}
			result[records[i].EnrollmentID] = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func markTx(ctx context.Context, tx *sqlx.Tx, attendance *models.Attendance) (float64, error) {
	if attendance.ID == "" {
		attendance.ID = uuid.NewString()
	}
	if attendance.MarkedAt.IsZero() {
		attendance.MarkedAt = time.Now().UTC()
	}
	if _, err := tx.NamedExecContext(ctx, upsertAttendance, attendance); err != nil {
		return 0, fmt.Errorf("upsert attendance: %w", err)
	}
	var percentage float64
	if err := tx.GetContext(ctx, &percentage, recomputePercentage, attendance.EnrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("recompute attendance: %w", err)
	}
	return percentage, nil
}

// ListBySession returns the attendance of one session with enrollee names.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceDetail, error) {
	const query = `SELECT a.id, a.session_id, a.enrollment_id, a.present, a.notes, a.marked_by, a.marked_at,
        e.user_id, u.first_name AS user_first_name, u.last_name AS user_last_name
        FROM attendance a JOIN enrollments e ON e.id = a.enrollment_id JOIN users u ON u.id = e.user_id
        WHERE a.session_id = $1 ORDER BY u.last_name, u.first_name`
	records := []models.AttendanceDetail{}
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
