package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type certificateService interface {
	ListMine(ctx context.Context, userID string) ([]models.Certificate, error)
	Issue(ctx context.Context, enrollmentID string) (*models.Certificate, error)
	Download(ctx context.Context, token string) (*service.CertificateDownload, error)
}

// CertificateHandler issues certificates and streams signed downloads.
type CertificateHandler struct {
	service certificateService
}

// NewCertificateHandler constructs the handler.
func NewCertificateHandler(svc certificateService) *CertificateHandler {
	return &CertificateHandler{service: svc}
}

// ListMine godoc
// @Summary List my certificates
// @Tags Certificates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /certificates/me [get]
func (h *CertificateHandler) ListMine(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	certs, err := h.service.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, nil)
}

// Issue godoc
// @Summary Issue a certificate for an enrollment
// @Description The enrollment must be COMPLETED with enough attendance.
// @Tags Certificates
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /certificates/enrollments/{id} [post]
func (h *CertificateHandler) Issue(c *gin.Context) {
	cert, err := h.service.Issue(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cert)
}

// Download godoc
// @Summary Download a certificate
// @Tags Certificates
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /certificates/download/{token} [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	file, err := h.service.Download(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Content.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file.Content)
}
