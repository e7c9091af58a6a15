package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

// Enrollment write outcomes reported by the transactional guards.
var (
	ErrDuplicateEnrollment = errors.New("enrollment already exists")
	ErrNoSeatAvailable     = errors.New("no seat available")
	ErrRoundNotOpen        = errors.New("round not open for enrollment")
	ErrStaleStatus         = errors.New("enrollment status changed concurrently")
)

const enrollmentColumns = `id, user_id, round_id, status, enrolled_at, completed_at, attendance_percentage, certificate_issued, enrolled_by`

const enrollmentDetailSelect = `SELECT e.id, e.user_id, e.round_id, e.status, e.enrolled_at, e.completed_at, e.attendance_percentage, e.certificate_issued, e.enrolled_by,
        u.email AS user_email, u.first_name AS user_first_name, u.last_name AS user_last_name, u.department AS user_department,
        r.name AS round_name, r.start_date AS round_start_date, c.id AS course_id, c.title AS course_title
        FROM enrollments e
        JOIN users u ON u.id = e.user_id
        JOIN rounds r ON r.id = e.round_id
        JOIN courses c ON c.id = r.course_id`

// EnrollmentRepository handles persistence of enrollments and the seat counter they drive.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// OutboxBuilder produces the outbox event announcing a freshly inserted enrollment.
type OutboxBuilder func(models.Enrollment) (*models.OutboxEvent, error)

func enrollmentWhere(filter models.EnrollmentFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("e.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.RoundID != "" {
		conditions = append(conditions, fmt.Sprintf("e.round_id = $%d", len(args)+1))
		args = append(args, filter.RoundID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("r.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func enrollmentOrder(filter models.EnrollmentFilter) string {
	allowedSorts := map[string]string{
		"enrolled_at": "e.enrolled_at",
		"status":      "e.status",
		"user_name":   "u.last_name",
		"round_start": "r.start_date",
	}
	orderBy, ok := allowedSorts[filter.SortBy]
	if !ok {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	return orderBy + " " + order
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	clause, args := enrollmentWhere(filter)
	page, size := clampPage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("%s%s ORDER BY %s LIMIT %d OFFSET %d", enrollmentDetailSelect, clause, enrollmentOrder(filter), size, (page-1)*size)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM enrollments e JOIN rounds r ON r.id = e.round_id" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListAll returns every enrollment matching filter without paging, for exports.
func (r *EnrollmentRepository) ListAll(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, error) {
	clause, args := enrollmentWhere(filter)
	query := fmt.Sprintf("%s%s ORDER BY %s", enrollmentDetailSelect, clause, enrollmentOrder(filter))
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list all enrollments: %w", err)
	}
	return enrollments, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with user, round and course info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, enrollmentDetailSelect+" WHERE e.id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	return &detail, nil
}

// FindByUserAndRound returns the enrollment of user in round regardless of status.
func (r *EnrollmentRepository) FindByUserAndRound(ctx context.Context, userID, roundID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND round_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, roundID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by user and round: %w", err)
	}
	return &enrollment, nil
}

// ListSeatHolders returns the recipients holding an ENROLLED seat in round.
func (r *EnrollmentRepository) ListSeatHolders(ctx context.Context, roundID string) ([]models.Recipient, error) {
	const query = `SELECT u.id, u.email, u.first_name, u.last_name, u.role
        FROM enrollments e JOIN users u ON u.id = e.user_id
        WHERE e.round_id = $1 AND e.status = 'ENROLLED' AND u.active
        ORDER BY u.id`
	var recipients []models.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, roundID); err != nil {
		return nil, fmt.Errorf("list seat holders: %w", err)
	}
	return recipients, nil
}

// CreateWithSeat inserts the enrollment, reserves a seat when its status holds one and
// stores evt, all in one transaction. A duplicate (user_id, round_id) pair yields
// ErrDuplicateEnrollment; a full or closed round yields ErrNoSeatAvailable or ErrRoundNotOpen.
func (r *EnrollmentRepository) CreateWithSeat(ctx context.Context, enrollment *models.Enrollment, evt *models.OutboxEvent) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insert = `INSERT INTO enrollments (id, user_id, round_id, status, enrolled_at, attendance_percentage, certificate_issued, enrolled_by)
            VALUES (:id, :user_id, :round_id, :status, :enrolled_at, :attendance_percentage, :certificate_issued, :enrolled_by)
            ON CONFLICT (user_id, round_id) DO NOTHING`
		res, err := tx.NamedExecContext(ctx, insert, enrollment)
		if err != nil {
			return fmt.Errorf("insert enrollment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrDuplicateEnrollment
		}

		if enrollment.Status.HoldsSeat() {
			if err := reserveSeat(ctx, tx, enrollment.RoundID); err != nil {
				return err
			}
		}

		if evt != nil {
			if err := insertOutbox(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

type roundCapacity struct {
	Status        models.RoundStatus `db:"status"`
	MaxSeats      int                `db:"max_seats"`
	EnrolledCount int                `db:"enrolled_count"`
}

// BulkCreate enrolls the eligible users of userIDs into round in input order, up to the seats left.
// Unknown, inactive and already enrolled users are skipped. The round row is locked for the duration.
func (r *EnrollmentRepository) BulkCreate(ctx context.Context, roundID string, userIDs []string, enrolledBy *string, build OutboxBuilder) ([]models.Enrollment, int, error) {
	var created []models.Enrollment
	var seatsLeft int

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var capacity roundCapacity
		if err := tx.GetContext(ctx, &capacity, `SELECT status, max_seats, enrolled_count FROM rounds WHERE id = $1 FOR UPDATE`, roundID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock round: %w", err)
		}
		if capacity.Status != models.RoundStatusScheduled {
			return ErrRoundNotOpen
		}
		seatsLeft = capacity.MaxSeats - capacity.EnrolledCount
		if seatsLeft <= 0 || len(userIDs) == 0 {
			if seatsLeft < 0 {
				seatsLeft = 0
			}
			return nil
		}

		var eligible []string
		const eligibleQuery = `SELECT u.id FROM users u
            WHERE u.id = ANY($1) AND u.active
            AND NOT EXISTS (SELECT 1 FROM enrollments e WHERE e.user_id = u.id AND e.round_id = $2)`
		if err := tx.SelectContext(ctx, &eligible, eligibleQuery, pq.Array(userIDs), roundID); err != nil {
			return fmt.Errorf("select eligible users: %w", err)
		}
		allowed := make(map[string]struct{}, len(eligible))
		for _, id := range eligible {
			allowed[id] = struct{}{}
		}

		now := time.Now().UTC()
		var batch []models.Enrollment
		for _, userID := range userIDs {
			if len(batch) == seatsLeft {
				break
			}
			if _, ok := allowed[userID]; !ok {
				continue
			}
			delete(allowed, userID)
			batch = append(batch, models.Enrollment{
				ID:         uuid.NewString(),
				UserID:     userID,
				RoundID:    roundID,
				Status:     models.EnrollmentStatusEnrolled,
				EnrolledAt: now,
				EnrolledBy: enrolledBy,
			})
		}
		if len(batch) == 0 {
			return nil
		}

		inserted, err := insertEnrollmentBatch(ctx, tx, batch)
		if err != nil {
			return err
		}
		if len(inserted) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE rounds SET enrolled_count = enrolled_count + $2, updated_at = now() WHERE id = $1`, roundID, len(inserted)); err != nil {
			return fmt.Errorf("increment seats: %w", err)
		}
		seatsLeft -= len(inserted)

		if build != nil {
			for _, enrollment := range inserted {
				evt, err := build(enrollment)
				if err != nil {
					return err
				}
				if err := insertOutbox(ctx, tx, evt); err != nil {
					return err
				}
			}
		}
		created = inserted
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return created, seatsLeft, nil
}

func insertEnrollmentBatch(ctx context.Context, tx *sqlx.Tx, batch []models.Enrollment) ([]models.Enrollment, error) {
	values := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*6)
	for i, e := range batch {
		n := i * 6
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		args = append(args, e.ID, e.UserID, e.RoundID, e.Status, e.EnrolledAt, e.EnrolledBy)
	}
	query := `INSERT INTO enrollments (id, user_id, round_id, status, enrolled_at, enrolled_by) VALUES ` +
		strings.Join(values, ", ") + ` ON CONFLICT (user_id, round_id) DO NOTHING RETURNING user_id`

	var userIDs []string
	if err := tx.SelectContext(ctx, &userIDs, query, args...); err != nil {
		return nil, fmt.Errorf("insert enrollment batch: %w", err)
	}
	written := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		written[id] = struct{}{}
	}
	inserted := make([]models.Enrollment, 0, len(userIDs))
	for _, e := range batch {
		if _, ok := written[e.UserID]; ok {
			inserted = append(inserted, e)
		}
	}
	return inserted, nil
}

// UpdateStatus moves an enrollment from one status to next, adjusting the seat counter when
// the transition gains or releases a seat and storing evt alongside. ErrStaleStatus means the
// row no longer had status from.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, from, next models.EnrollmentStatus, completedAt *time.Time, evt *models.OutboxEvent) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var roundID string
		const update = `UPDATE enrollments SET status = $3, completed_at = $4 WHERE id = $1 AND status = $2 RETURNING round_id`
		if err := tx.GetContext(ctx, &roundID, update, id, from, next, completedAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrStaleStatus
			}
			return fmt.Errorf("update enrollment status: %w", err)
		}

		switch {
		case !from.HoldsSeat() && next.HoldsSeat():
			if err := reserveSeat(ctx, tx, roundID); err != nil {
				return err
			}
		case from.HoldsSeat() && !next.HoldsSeat():
			if err := releaseSeat(ctx, tx, roundID); err != nil {
				return err
			}
		}

		if evt != nil {
			return insertOutbox(ctx, tx, evt)
		}
		return nil
	})
}

// Delete removes an enrollment and releases its seat.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var removed struct {
			RoundID string                  `db:"round_id"`
			Status  models.EnrollmentStatus `db:"status"`
		}
		if err := tx.GetContext(ctx, &removed, `DELETE FROM enrollments WHERE id = $1 RETURNING round_id, status`, id); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("delete enrollment: %w", err)
		}
		if removed.Status.HoldsSeat() {
			return releaseSeat(ctx, tx, removed.RoundID)
		}
		return nil
	})
}

// MarkCertificateIssued flags the enrollment as certified.
func (r *EnrollmentRepository) MarkCertificateIssued(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE enrollments SET certificate_issued = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark certificate issued: %w", err)
	}
	return nil
}

// RecountSeats recomputes the cached counter of round from its seat-holding enrollments.
func (r *EnrollmentRepository) RecountSeats(ctx context.Context, roundID string) (*models.SeatDrift, error) {
	const query = `WITH prev AS (
            SELECT enrolled_count FROM rounds WHERE id = $1 FOR UPDATE
        ), computed AS (
            SELECT COUNT(*)::int AS n FROM enrollments WHERE round_id = $1 AND status IN ('ENROLLED', 'COMPLETED')
        )
        UPDATE rounds r SET enrolled_count = computed.n, updated_at = now()
        FROM prev, computed
        WHERE r.id = $1
        RETURNING r.id AS round_id, prev.enrolled_count AS cached, computed.n AS computed`
	var drift models.SeatDrift
	if err := r.db.GetContext(ctx, &drift, query, roundID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("recount seats: %w", err)
	}
	return &drift, nil
}

// ReconcileAll corrects every scheduled or ongoing round whose counter drifted and reports the drifts.
func (r *EnrollmentRepository) ReconcileAll(ctx context.Context) ([]models.SeatDrift, error) {
	const query = `WITH computed AS (
            SELECT r.id, r.enrolled_count AS cached,
                COUNT(e.id) FILTER (WHERE e.status IN ('ENROLLED', 'COMPLETED'))::int AS computed
            FROM rounds r LEFT JOIN enrollments e ON e.round_id = r.id
            WHERE r.status IN ('SCHEDULED', 'ONGOING')
            GROUP BY r.id, r.enrolled_count
        )
        UPDATE rounds r SET enrolled_count = c.computed, updated_at = now()
        FROM computed c
        WHERE r.id = c.id AND c.cached <> c.computed
        RETURNING r.id AS round_id, c.cached, c.computed`
	drifts := []models.SeatDrift{}
	if err := r.db.SelectContext(ctx, &drifts, query); err != nil {
		return nil, fmt.Errorf("reconcile seats: %w", err)
	}
	return drifts, nil
}

// reserveSeat increments the counter only while the round is open and below capacity.
func reserveSeat(ctx context.Context, tx *sqlx.Tx, roundID string) error {
	const query = `UPDATE rounds SET enrolled_count = enrolled_count + 1, updated_at = now()
        WHERE id = $1 AND status = 'SCHEDULED' AND enrolled_count < max_seats`
	res, err := tx.ExecContext(ctx, query, roundID)
	if err != nil {
		return fmt.Errorf("reserve seat: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status models.RoundStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM rounds WHERE id = $1`, roundID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("read round status: %w", err)
	}
	if status != models.RoundStatusScheduled {
		return ErrRoundNotOpen
	}
	return ErrNoSeatAvailable
}

func releaseSeat(ctx context.Context, tx *sqlx.Tx, roundID string) error {
	const query = `UPDATE rounds SET enrolled_count = GREATEST(enrolled_count - 1, 0), updated_at = now() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, roundID); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}
