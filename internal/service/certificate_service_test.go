package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mailer"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type fakeCertificates struct {
	byID map[string]*models.Certificate
}

func (f *fakeCertificates) Create(_ context.Context, cert *models.Certificate) error {
	for _, existing := range f.byID {
		if existing.EnrollmentID == cert.EnrollmentID {
			return repository.ErrDuplicateEnrollment
		}
	}
	copied := *cert
	f.byID[cert.ID] = &copied
	return nil
}

func (f *fakeCertificates) FindByEnrollment(_ context.Context, enrollmentID string) (*models.Certificate, error) {
	for _, c := range f.byID {
		if c.EnrollmentID == enrollmentID {
			return c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCertificates) FindByID(_ context.Context, id string) (*models.Certificate, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCertificates) ListByUser(_ context.Context, userID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, c := range f.byID {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fakeCertifiedEnrollments struct {
	details map[string]*models.EnrollmentDetail
	marked  []string
}

func (f *fakeCertifiedEnrollments) FindDetailByID(_ context.Context, id string) (*models.EnrollmentDetail, error) {
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCertifiedEnrollments) MarkCertificateIssued(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	f.details[id].CertificateIssued = true
	return nil
}

// racingCertificates loses the insert race: the pre-check sees nothing, the insert conflicts.
type racingCertificates struct {
	fakeCertificates
}

func (r *racingCertificates) Create(context.Context, *models.Certificate) error {
	return repository.ErrDuplicateEnrollment
}

type certificateFixture struct {
	dir           string
	svc           *CertificateService
	certs         *fakeCertificates
	enrollments   *fakeCertifiedEnrollments
	notifications *fakeNotificationRepo
	mail          *mailer.LogMailer
	signer        *storage.SignedURLSigner
}

func newCertificateFixture(t *testing.T) *certificateFixture {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	completed := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	f := &certificateFixture{
		dir:   dir,
		certs: &fakeCertificates{byID: map[string]*models.Certificate{}},
		enrollments: &fakeCertifiedEnrollments{details: map[string]*models.EnrollmentDetail{
			"done": {
				Enrollment:    models.Enrollment{ID: "done", UserID: "emp-1", Status: models.EnrollmentStatusCompleted, AttendancePercentage: 85, CompletedAt: &completed},
				UserEmail:     "ana@example.com",
				UserFirstName: "Ana",
				UserLastName:  "Lee",
				RoundName:     "Batch 1",
				CourseTitle:   "Negotiation",
			},
			"low": {
				Enrollment:    models.Enrollment{ID: "low", UserID: "emp-2", Status: models.EnrollmentStatusCompleted, AttendancePercentage: 50},
				UserFirstName: "Bo",
				CourseTitle:   "Negotiation",
			},
			"active": {
				Enrollment:    models.Enrollment{ID: "active", UserID: "emp-3", Status: models.EnrollmentStatusEnrolled, AttendancePercentage: 100},
				UserFirstName: "Cy",
				CourseTitle:   "Negotiation",
			},
		}},
		notifications: &fakeNotificationRepo{},
		mail:          mailer.NewLogMailer(zap.NewNop()),
		signer:        storage.NewSignedURLSigner("secret", time.Hour),
	}
	f.svc = NewCertificateService(CertificateDeps{
		Certificates:  f.certs,
		Enrollments:   f.enrollments,
		Files:         files,
		Signer:        f.signer,
		Notifications: f.notifications,
		Deliveries:    newFakeDeliveryLog(),
		Mailer:        f.mail,
		Metrics:       NewMetricsService(),
	}, CertificateServiceConfig{AttendanceThreshold: 70, DownloadBaseURL: "https://lms.example.com/dl/"}, zap.NewNop())
	return f
}

func TestCertificateServiceIssue(t *testing.T) {
	f := newCertificateFixture(t)

	cert, err := f.svc.Issue(context.Background(), "done")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cert.CertificateNumber, "CERT-"))
	assert.True(t, strings.HasPrefix(cert.FilePath, "certificates/"))
	assert.True(t, strings.HasPrefix(cert.DownloadURL, "https://lms.example.com/dl/"))
	assert.Equal(t, []string{"done"}, f.enrollments.marked)

	require.Len(t, f.notifications.items, 1)
	assert.Equal(t, models.NotificationCertificateReady, f.notifications.items[0].Type)
	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Attachments, 1)
	assert.True(t, bytes.HasPrefix(sent[0].Attachments[0].Content, []byte("%PDF")))

	_, err = f.svc.Issue(context.Background(), "done")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceIssueRemovesFileWhenInsertConflicts(t *testing.T) {
	f := newCertificateFixture(t)
	f.svc.deps.Certificates = &racingCertificates{fakeCertificates{byID: map[string]*models.Certificate{}}}

	_, err := f.svc.Issue(context.Background(), "done")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	var stored []string
	require.NoError(t, filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			stored = append(stored, path)
		}
		return err
	}))
	assert.Empty(t, stored)
	assert.Empty(t, f.mail.Sent())
}

func TestCertificateServiceIssueRequiresEligibility(t *testing.T) {
	f := newCertificateFixture(t)

	_, err := f.svc.Issue(context.Background(), "low")
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	_, err = f.svc.Issue(context.Background(), "active")
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	_, err = f.svc.Issue(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceIssueIfEligible(t *testing.T) {
	f := newCertificateFixture(t)
	ctx := context.Background()

	issued, err := f.svc.IssueIfEligible(ctx, "low")
	require.NoError(t, err)
	assert.False(t, issued)

	issued, err = f.svc.IssueIfEligible(ctx, "done")
	require.NoError(t, err)
	assert.True(t, issued)

	issued, err = f.svc.IssueIfEligible(ctx, "done")
	require.NoError(t, err)
	assert.False(t, issued)
	assert.Len(t, f.certs.byID, 1)
}

func TestCertificateServiceDownload(t *testing.T) {
	f := newCertificateFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, "done")
	require.NoError(t, err)

	mine, err := f.svc.ListMine(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	token := strings.TrimPrefix(mine[0].DownloadURL, "https://lms.example.com/dl/")

	download, err := f.svc.Download(ctx, token)
	require.NoError(t, err)
	defer download.Content.Close()
	body, err := io.ReadAll(download.Content)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
	assert.Equal(t, mine[0].CertificateNumber+".pdf", download.Filename)

	_, err = f.svc.Download(ctx, token+"x")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	forged, _, err := f.signer.Generate(mine[0].ID, "certificates/other.pdf")
	require.NoError(t, err)
	_, err = f.svc.Download(ctx, forged)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
