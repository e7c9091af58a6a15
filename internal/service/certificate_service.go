package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/mailer"
	"github.com/noah-isme/lms-api/pkg/storage"
)

const defaultAttendanceThreshold = 70

type certificateRepository interface {
	Create(ctx context.Context, cert *models.Certificate) error
	FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error)
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	ListByUser(ctx context.Context, userID string) ([]models.Certificate, error)
}

type certifiedEnrollments interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	MarkCertificateIssued(ctx context.Context, id string) error
}

type certificateFiles interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadCloser, error)
	Delete(name string) error
}

type downloadSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (*storage.SignedToken, error)
}

type certificateRenderer interface {
	Render(data export.CertificateData) ([]byte, error)
}

type inAppWriter interface {
	InsertBatch(ctx context.Context, notifications []models.Notification) (int64, error)
}

// CertificateServiceConfig tunes certificate eligibility and links.
type CertificateServiceConfig struct {
	AttendanceThreshold float64
	// DownloadBaseURL is prefixed to signed tokens, e.g. https://lms.example.com/api/v1/certificates/download/.
	DownloadBaseURL string
	PortalURL       string
}

// CertificateDeps groups the collaborators of CertificateService. Notifications, Deliveries,
// Mailer and Inbox are optional.
type CertificateDeps struct {
	Certificates  certificateRepository
	Enrollments   certifiedEnrollments
	Files         certificateFiles
	Signer        downloadSigner
	Renderer      certificateRenderer
	Notifications inAppWriter
	Deliveries    deliveryLog
	Mailer        mailer.Mailer
	Inbox         unreadInvalidator
	Metrics       *MetricsService
}

// CertificateDownload is an open certificate file ready to stream.
type CertificateDownload struct {
	Filename string
	Content  io.ReadCloser
}

// CertificateService issues completion certificates and serves them through signed links.
type CertificateService struct {
	deps     CertificateDeps
	delivery *deliveryGuard
	cfg      CertificateServiceConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewCertificateService constructs a CertificateService.
func NewCertificateService(deps CertificateDeps, cfg CertificateServiceConfig, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AttendanceThreshold <= 0 {
		cfg.AttendanceThreshold = defaultAttendanceThreshold
	}
	if deps.Renderer == nil {
		deps.Renderer = export.NewCertificateRenderer("")
	}
	svc := &CertificateService{deps: deps, cfg: cfg, logger: logger, now: time.Now}
	if deps.Deliveries != nil {
		svc.delivery = newDeliveryGuard(deps.Deliveries, deps.Metrics, logger)
	}
	return svc
}

func (s *CertificateService) eligible(detail *models.EnrollmentDetail) error {
	if detail.Status != models.EnrollmentStatusCompleted {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not completed")
	}
	if detail.AttendancePercentage < s.cfg.AttendanceThreshold {
		return appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("attendance %.2f%% is below the %.0f%% threshold", detail.AttendancePercentage, s.cfg.AttendanceThreshold))
	}
	return nil
}

// Issue creates the certificate of a completed enrollment whose attendance meets the threshold.
func (s *CertificateService) Issue(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	detail, err := s.deps.Enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	if err := s.eligible(detail); err != nil {
		return nil, err
	}
	if _, err := s.deps.Certificates.FindByEnrollment(ctx, enrollmentID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "certificate already issued")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check certificate")
	}
	return s.issue(ctx, detail)
}

// IssueIfEligible issues a certificate when the enrollment qualifies and has none yet.
// It reports whether a certificate was issued.
func (s *CertificateService) IssueIfEligible(ctx context.Context, enrollmentID string) (bool, error) {
	detail, err := s.deps.Enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if s.eligible(detail) != nil {
		return false, nil
	}
	if detail.CertificateIssued {
		return false, nil
	}
	if _, err := s.deps.Certificates.FindByEnrollment(ctx, enrollmentID); err == nil {
		return false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if _, err := s.issue(ctx, detail); err != nil {
		if appErrors.Is(err, appErrors.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *CertificateService) issue(ctx context.Context, detail *models.EnrollmentDetail) (*models.Certificate, error) {
	issuedAt := s.now().UTC()
	number := certificateNumber(issuedAt)
	completedAt := issuedAt
	if detail.CompletedAt != nil {
		completedAt = *detail.CompletedAt
	}

	pdf, err := s.deps.Renderer.Render(export.CertificateData{
		CertificateNumber: number,
		RecipientName:     strings.TrimSpace(detail.UserFirstName + " " + detail.UserLastName),
		CourseName:        detail.CourseTitle,
		RoundName:         detail.RoundName,
		CompletedAt:       completedAt,
		AttendancePercent: detail.AttendancePercentage,
		IssuedAt:          issuedAt,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	path, err := s.deps.Files.Save(fmt.Sprintf("certificates/%d/%s.pdf", issuedAt.Year(), number), pdf)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate")
	}

	cert := &models.Certificate{
		ID:                uuid.NewString(),
		EnrollmentID:      detail.ID,
		UserID:            detail.UserID,
		CertificateNumber: number,
		FilePath:          path,
		IssuedAt:          issuedAt,
		CourseTitle:       detail.CourseTitle,
		RoundName:         detail.RoundName,
	}
	if err := s.deps.Certificates.Create(ctx, cert); err != nil {
		if rmErr := s.deps.Files.Delete(path); rmErr != nil {
			s.logger.Warn("failed to remove orphaned certificate file", zap.String("path", path), zap.Error(rmErr))
		}
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "certificate already issued")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save certificate")
	}
	if err := s.deps.Enrollments.MarkCertificateIssued(ctx, detail.ID); err != nil {
		s.logger.Warn("failed to flag enrollment as certified", zap.String("enrollment_id", detail.ID), zap.Error(err))
	}
	s.sign(cert)

	s.logger.Info("certificate issued",
		zap.String("certificate_number", number),
		zap.String("enrollment_id", detail.ID),
		zap.String("user_id", detail.UserID),
	)
	s.announce(ctx, cert, detail, pdf)
	return cert, nil
}

// announce writes the in-app notice and emails the PDF. Both are best effort.
func (s *CertificateService) announce(ctx context.Context, cert *models.Certificate, detail *models.EnrollmentDetail, pdf []byte) {
	key := "certificate:" + cert.ID + ":" + detail.UserID
	if s.deps.Notifications != nil {
		data, _ := json.Marshal(map[string]string{
			"certificate_id":     cert.ID,
			"certificate_number": cert.CertificateNumber,
			"enrollment_id":      detail.ID,
		})
		row := inApp(key+":in_app", detail.UserID, models.NotificationCertificateReady,
			"Certificate ready",
			fmt.Sprintf("Your certificate for %s is ready to download.", detail.CourseTitle),
			data)
		if _, err := s.deps.Notifications.InsertBatch(ctx, []models.Notification{row}); err != nil {
			s.logger.Warn("failed to write certificate notification", zap.String("certificate_id", cert.ID), zap.Error(err))
		} else if s.deps.Inbox != nil {
			s.deps.Inbox.InvalidateUnread(ctx, detail.UserID)
		}
	}
	if s.delivery == nil || s.deps.Mailer == nil {
		return
	}
	err := s.delivery.email(ctx, s.deps.Mailer, key+":email", detail.UserID, func() (mailer.Message, error) {
		return mailer.CertificateMessage(detail.UserEmail, mailer.CertificateEmail{
			Name:              detail.UserFirstName,
			CourseTitle:       detail.CourseTitle,
			CertificateNumber: cert.CertificateNumber,
			DownloadURL:       cert.DownloadURL,
			PortalURL:         s.cfg.PortalURL,
		}, pdf)
	})
	if err != nil {
		s.logger.Warn("certificate email not delivered", zap.String("certificate_id", cert.ID), zap.Error(err))
	}
}

func certificateNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("CERT-%d-%s", at.Year(), suffix)
}

func (s *CertificateService) sign(cert *models.Certificate) {
	if s.deps.Signer == nil {
		return
	}
	token, expiresAt, err := s.deps.Signer.Generate(cert.ID, cert.FilePath)
	if err != nil {
		s.logger.Warn("failed to sign certificate download", zap.String("certificate_id", cert.ID), zap.Error(err))
		return
	}
	cert.DownloadURL = s.cfg.DownloadBaseURL + token
	cert.DownloadExpiresAt = &expiresAt
}

// ListMine returns the user's certificates with fresh download links.
func (s *CertificateService) ListMine(ctx context.Context, userID string) ([]models.Certificate, error) {
	certs, err := s.deps.Certificates.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	for i := range certs {
		s.sign(&certs[i])
	}
	return certs, nil
}

// Download resolves a signed token to the certificate file.
func (s *CertificateService) Download(ctx context.Context, token string) (*CertificateDownload, error) {
	if s.deps.Signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate downloads are disabled")
	}
	parsed, err := s.deps.Signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	cert, err := s.deps.Certificates.FindByID(ctx, parsed.ResourceID)
	if err != nil {
		return nil, notFoundOr(err, "certificate not found", "failed to load certificate")
	}
	if cert.FilePath != parsed.Path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	content, err := s.deps.Files.Open(cert.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "certificate file missing")
	}
	return &CertificateDownload{Filename: cert.CertificateNumber + ".pdf", Content: content}, nil
}
