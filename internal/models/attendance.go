package models

import "time"

// Attendance records whether an enrollee attended one session.
type Attendance struct {
	ID           string    `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Present      bool      `db:"present" json:"present"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
	MarkedBy     string    `db:"marked_by" json:"marked_by"`
	MarkedAt     time.Time `db:"marked_at" json:"marked_at"`
}

// AttendanceDetail joins attendance with the enrollee identity.
type AttendanceDetail struct {
	Attendance
	UserID        string `db:"user_id" json:"user_id"`
	UserFirstName string `db:"user_first_name" json:"user_first_name"`
	UserLastName  string `db:"user_last_name" json:"user_last_name"`
}
