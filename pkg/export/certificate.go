package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData is the content printed on a completion certificate.
type CertificateData struct {
	CertificateNumber string
	RecipientName     string
	CourseName        string
	RoundName         string
	ProviderName      string
	CompletedAt       time.Time
	AttendancePercent float64
	IssuedAt          time.Time
}

// CertificateRenderer produces single page landscape certificates.
type CertificateRenderer struct {
	Organisation string
}

// NewCertificateRenderer constructs a renderer for the given issuing organisation.
func NewCertificateRenderer(organisation string) *CertificateRenderer {
	if organisation == "" {
		organisation = "Training Portal"
	}
	return &CertificateRenderer{Organisation: organisation}
}

// Render returns the PDF bytes for data.
func (r *CertificateRenderer) Render(data CertificateData) ([]byte, error) {
	if data.RecipientName == "" || data.CourseName == "" || data.CertificateNumber == "" {
		return nil, fmt.Errorf("certificate requires recipient, course and number")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	w, h := pdf.GetPageSize()

	pdf.SetDrawColor(31, 64, 122)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, w-20, h-20, "D")
	pdf.SetLineWidth(0.4)
	pdf.Rect(14, 14, w-28, h-28, "D")

	pdf.SetTextColor(31, 64, 122)
	pdf.SetY(35)
	pdf.SetFont("Times", "B", 32)
	pdf.CellFormat(0, 14, "Certificate of Completion", "", 1, "C", false, 0, "")

	pdf.SetTextColor(60, 60, 60)
	pdf.SetFont("Helvetica", "", 13)
	pdf.Ln(6)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")

	pdf.SetFont("Times", "BI", 26)
	pdf.CellFormat(0, 14, tr(data.RecipientName), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 8, "has successfully completed", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 11, tr(data.CourseName), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	if data.RoundName != "" {
		pdf.CellFormat(0, 7, tr(data.RoundName), "", 1, "C", false, 0, "")
	}
	if data.ProviderName != "" {
		pdf.CellFormat(0, 7, tr("Delivered by "+data.ProviderName), "", 1, "C", false, 0, "")
	}
	completed := data.CompletedAt
	if completed.IsZero() {
		completed = data.IssuedAt
	}
	pdf.CellFormat(0, 7, fmt.Sprintf("Completed on %s with %.0f%% attendance", completed.Format("2 January 2006"), data.AttendancePercent), "", 1, "C", false, 0, "")

	pdf.SetY(h - 40)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 5, tr(r.Organisation), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Certificate No. %s  |  Issued %s", data.CertificateNumber, data.IssuedAt.Format("2006-01-02")), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
