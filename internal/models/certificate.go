package models

import "time"

// Certificate is an issued completion certificate.
type Certificate struct {
	ID                string     `db:"id" json:"id"`
	EnrollmentID      string     `db:"enrollment_id" json:"enrollment_id"`
	UserID            string     `db:"user_id" json:"user_id"`
	CertificateNumber string     `db:"certificate_number" json:"certificate_number"`
	FilePath          string     `db:"file_path" json:"-"`
	IssuedAt          time.Time  `db:"issued_at" json:"issued_at"`
	CourseTitle       string     `db:"course_title" json:"course_title,omitempty"`
	RoundName         string     `db:"round_name" json:"round_name,omitempty"`
	DownloadURL       string     `db:"-" json:"download_url,omitempty"`
	DownloadExpiresAt *time.Time `db:"-" json:"download_expires_at,omitempty"`
}
