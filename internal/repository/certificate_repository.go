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

const certificateSelect = `SELECT ce.id, ce.enrollment_id, ce.user_id, ce.certificate_number, ce.file_path, ce.issued_at,
        c.title AS course_title, r.name AS round_name
        FROM certificates ce
        JOIN enrollments e ON e.id = ce.enrollment_id
        JOIN rounds r ON r.id = e.round_id
        JOIN courses c ON c.id = r.course_id`

// CertificateRepository stores issued certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs a CertificateRepository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Create inserts a certificate. A second certificate for the same enrollment yields ErrDuplicateEnrollment.
func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificates (id, enrollment_id, user_id, certificate_number, file_path, issued_at)
        VALUES (:id, :enrollment_id, :user_id, :certificate_number, :file_path, :issued_at)
        ON CONFLICT (enrollment_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, cert)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateEnrollment
	}
	return nil
}

// FindByEnrollment returns the certificate of an enrollment.
func (r *CertificateRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, certificateSelect+" WHERE ce.enrollment_id = $1", enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &cert, nil
}

// FindByID returns a certificate by id.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, certificateSelect+" WHERE ce.id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &cert, nil
}

// ListByUser returns a user's certificates, newest first.
func (r *CertificateRepository) ListByUser(ctx context.Context, userID string) ([]models.Certificate, error) {
	certs := []models.Certificate{}
	if err := r.db.SelectContext(ctx, &certs, certificateSelect+" WHERE ce.user_id = $1 ORDER BY ce.issued_at DESC", userID); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}
