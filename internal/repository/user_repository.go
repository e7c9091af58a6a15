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

// Unique constraint violations surfaced by user writes.
var (
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrDuplicateEmployeeID = errors.New("employee id already registered")
)

const userColumns = `id, email, password_hash, first_name, last_name, employee_id, department, grade, manager_id, role, active, last_login, created_at, updated_at`

var userSorts = map[string]string{
	"email":      "email",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"last_name":  "last_name",
	"department": "department",
}

// UserRepository stores employee accounts, their refresh sessions and the audit trail.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address (case-insensitive).
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "LOWER(email) = LOWER($1)", email)
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

// findOne returns sql.ErrNoRows unwrapped so services can map it to NotFound.
func (r *UserRepository) findOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func userWhere(filter models.UserFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Role != nil {
		add("role = ?", *filter.Role)
	}
	if filter.Active != nil {
		add("active = ?", *filter.Active)
	}
	if filter.Department != "" {
		add("department = ?", filter.Department)
	}
	if filter.ManagerID != "" {
		add("manager_id = ?", filter.ManagerID)
	}
	if filter.Search != "" {
		add("(LOWER(email) LIKE ? OR LOWER(first_name || ' ' || last_name) LIKE ? OR LOWER(COALESCE(employee_id, '')) LIKE ?)",
			"%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of users matching filter plus the total match count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	where, args := userWhere(filter)

	sortBy, ok := userSorts[filter.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page, size := clampPage(filter.Page, filter.PageSize)

	users := []models.User{}
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY %s %s, id LIMIT %d OFFSET %d", userColumns, where, sortBy, order, size, (page-1)*size)
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create inserts user and, when evt is non-nil, its outbox event in the same transaction.
// Unique violations are reported as ErrDuplicateEmail or ErrDuplicateEmployeeID.
func (r *UserRepository) Create(ctx context.Context, user *models.User, evt *models.OutboxEvent) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insert = `INSERT INTO users (id, email, password_hash, first_name, last_name, employee_id, department, grade, manager_id, role, active, created_at, updated_at)
            VALUES (:id, :email, :password_hash, :first_name, :last_name, :employee_id, :department, :grade, :manager_id, :role, :active, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, user); err != nil {
			return userWriteError("create user", err)
		}
		if evt == nil {
			return nil
		}
		return insertOutbox(ctx, tx, evt)
	})
}

// Update writes the mutable profile fields of user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET first_name = :first_name, last_name = :last_name, employee_id = :employee_id, department = :department,
        grade = :grade, manager_id = :manager_id, role = :role, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return userWriteError("update user", err)
	}
	return nil
}

// Deactivate marks the user inactive and revokes their live refresh tokens in one transaction.
// Enrollment history is kept.
func (r *UserRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`, id, at); err != nil {
			return fmt.Errorf("deactivate user: %w", err)
		}
		return revokeSessions(ctx, tx, id, at)
	})
}

// CreateRefreshToken persists a refresh session. token.Token holds the digest, never the raw value.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent)
        VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns the session stored under digest, revoked or not.
func (r *UserRepository) FindRefreshToken(ctx context.Context, digest string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND NOT revoked`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all live refresh tokens of a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return revokeSessions(ctx, r.db, userID, time.Now().UTC())
}

func revokeSessions(ctx context.Context, ext sqlx.ExecerContext, userID string, at time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND NOT revoked`
	if _, err := ext.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, request_id, created_at)
        VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :request_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func userWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "users_email_key":
			return ErrDuplicateEmail
		case "users_employee_id_key":
			return ErrDuplicateEmployeeID
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
