package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
)

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusEnrolled, EnrollmentStatusCompleted, EnrollmentStatusDropped, EnrollmentStatusWaitlisted:
		return true
	}
	return false
}

// HoldsSeat reports whether an enrollment in status s counts against round capacity.
func (s EnrollmentStatus) HoldsSeat() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusCompleted
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusEnrolled:
		return next == EnrollmentStatusCompleted || next == EnrollmentStatusDropped
	case EnrollmentStatusWaitlisted:
		return next == EnrollmentStatusEnrolled || next == EnrollmentStatusDropped
	}
	return false
}

// Enrollment links a user to a round. (user_id, round_id) is unique.
type Enrollment struct {
	ID                   string           `db:"id" json:"id"`
	UserID               string           `db:"user_id" json:"user_id"`
	RoundID              string           `db:"round_id" json:"round_id"`
	Status               EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt           time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	AttendancePercentage float64          `db:"attendance_percentage" json:"attendance_percentage"`
	CertificateIssued    bool             `db:"certificate_issued" json:"certificate_issued"`
	EnrolledBy           *string          `db:"enrolled_by" json:"enrolled_by,omitempty"`
}

// EnrollmentDetail enriches Enrollment with user, round and course info.
type EnrollmentDetail struct {
	Enrollment
	UserEmail      string    `db:"user_email" json:"user_email"`
	UserFirstName  string    `db:"user_first_name" json:"user_first_name"`
	UserLastName   string    `db:"user_last_name" json:"user_last_name"`
	UserDepartment *string   `db:"user_department" json:"user_department,omitempty"`
	RoundName      string    `db:"round_name" json:"round_name"`
	RoundStartDate time.Time `db:"round_start_date" json:"round_start_date"`
	CourseID       string    `db:"course_id" json:"course_id"`
	CourseTitle    string    `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID    string
	RoundID   string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// BulkEnrollResult summarises a batch enrollment.
type BulkEnrollResult struct {
	EnrolledCount int      `json:"enrolled_count"`
	Skipped       int      `json:"skipped"`
	EnrolledIDs   []string `json:"enrolled_user_ids"`
	SeatsLeft     int      `json:"seats_left"`
}

// SeatDrift reports a round whose cached counter disagreed with its rows.
type SeatDrift struct {
	RoundID  string `db:"round_id" json:"round_id"`
	Cached   int    `db:"cached" json:"cached"`
	Computed int    `db:"computed" json:"computed"`
}
