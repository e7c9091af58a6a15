package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type certificateServiceMock struct {
	issueErr error
	token    string
	owner    string
}

func (m *certificateServiceMock) ListMine(_ context.Context, userID string) ([]models.Certificate, error) {
	m.owner = userID
	return []models.Certificate{{ID: "cert-1", UserID: userID}}, nil
}

func (m *certificateServiceMock) Issue(_ context.Context, enrollmentID string) (*models.Certificate, error) {
	if m.issueErr != nil {
		return nil, m.issueErr
	}
	return &models.Certificate{ID: "cert-2", EnrollmentID: enrollmentID}, nil
}

func (m *certificateServiceMock) Download(_ context.Context, token string) (*service.CertificateDownload, error) {
	m.token = token
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	return &service.CertificateDownload{Filename: "CERT-2025-0A1B2C3D.pdf", Content: io.NopCloser(strings.NewReader("%PDF-1.3"))}, nil
}

func TestCertificateHandlerIssue(t *testing.T) {
	h := NewCertificateHandler(&certificateServiceMock{})
	rec := serveRoute(http.MethodPost, "/certificates/enrollments/:id", "/certificates/enrollments/enr-1", nil, adminClaims, h.Issue)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), "enr-1")

	h = NewCertificateHandler(&certificateServiceMock{issueErr: appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance below threshold")})
	rec = serveRoute(http.MethodPost, "/certificates/enrollments/:id", "/certificates/enrollments/enr-1", nil, adminClaims, h.Issue)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestCertificateHandlerListMine(t *testing.T) {
	mock := &certificateServiceMock{}
	h := NewCertificateHandler(mock)
	rec := serveRoute(http.MethodGet, "/certificates/me", "/certificates/me", nil, employeeClaims, h.ListMine)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "emp-1", mock.owner)
}

func TestCertificateHandlerDownloadStreamsPDF(t *testing.T) {
	mock := &certificateServiceMock{}
	h := NewCertificateHandler(mock)

	rec := serveRoute(http.MethodGet, "/certificates/download/:token", "/certificates/download/good", nil, nil, h.Download)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "CERT-2025-0A1B2C3D.pdf")
	assert.Equal(t, "%PDF-1.3", rec.Body.String())

	rec = serveRoute(http.MethodGet, "/certificates/download/:token", "/certificates/download/forged", nil, nil, h.Download)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forged", mock.token)
}
