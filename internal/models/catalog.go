package models

import "time"

// PlanStatus is the lifecycle state of a training plan.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "DRAFT"
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusArchived  PlanStatus = "ARCHIVED"
)

// Plan groups courses for a fiscal year.
type Plan struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description,omitempty"`
	FiscalYear  int        `db:"fiscal_year" json:"fiscal_year"`
	Status      PlanStatus `db:"status" json:"status"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	CourseCount int        `db:"course_count" json:"course_count"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// PlanFilter narrows plan listings.
type PlanFilter struct {
	Status     PlanStatus
	FiscalYear int
	Search     string
	Page       int
	PageSize   int
}

// CourseType distinguishes in-house from external training.
type CourseType string

const (
	CourseTypeInternal CourseType = "INTERNAL"
	CourseTypeExternal CourseType = "EXTERNAL"
)

// Course belongs to a plan and is delivered through one or more rounds.
type Course struct {
	ID            string     `db:"id" json:"id"`
	PlanID        string     `db:"plan_id" json:"plan_id"`
	Title         string     `db:"title" json:"title"`
	Description   *string    `db:"description" json:"description,omitempty"`
	Type          CourseType `db:"type" json:"type"`
	Category      string     `db:"category" json:"category"`
	DurationHours float64    `db:"duration_hours" json:"duration_hours"`
	ProviderID    *string    `db:"provider_id" json:"provider_id,omitempty"`
	PlanName      string     `db:"plan_name" json:"plan_name,omitempty"`
	RoundCount    int        `db:"round_count" json:"round_count"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	PlanID   string
	Type     CourseType
	Category string
	Search   string
	Page     int
	PageSize int
}

// RoundStatus is the lifecycle state of a scheduled delivery.
type RoundStatus string

const (
	RoundStatusScheduled RoundStatus = "SCHEDULED"
	RoundStatusOngoing   RoundStatus = "ONGOING"
	RoundStatusCompleted RoundStatus = "COMPLETED"
	RoundStatusCancelled RoundStatus = "CANCELLED"
)

// Valid reports whether s is a known round status.
func (s RoundStatus) Valid() bool {
	switch s {
	case RoundStatusScheduled, RoundStatusOngoing, RoundStatusCompleted, RoundStatusCancelled:
		return true
	}
	return false
}

// DeliveryMode describes how a round is attended.
type DeliveryMode string

const (
	DeliveryModeOnline    DeliveryMode = "ONLINE"
	DeliveryModeInPerson  DeliveryMode = "IN_PERSON"
	DeliveryModeHybrid    DeliveryMode = "HYBRID"
	DeliveryModeSelfPaced DeliveryMode = "SELF_PACED"
)

// Round is a scheduled delivery of a course with a seat capacity.
// EnrolledCount is a cached counter of seat-holding enrollments.
type Round struct {
	ID            string       `db:"id" json:"id"`
	CourseID      string       `db:"course_id" json:"course_id"`
	Name          string       `db:"name" json:"name"`
	MaxSeats      int          `db:"max_seats" json:"max_seats"`
	EnrolledCount int          `db:"enrolled_count" json:"enrolled_count"`
	StartDate     time.Time    `db:"start_date" json:"start_date"`
	EndDate       time.Time    `db:"end_date" json:"end_date"`
	DeliveryMode  DeliveryMode `db:"delivery_mode" json:"delivery_mode"`
	Venue         *string      `db:"venue" json:"venue,omitempty"`
	TeamsLink     *string      `db:"teams_link" json:"teams_link,omitempty"`
	TrainerID     *string      `db:"trainer_id" json:"trainer_id,omitempty"`
	ProviderID    *string      `db:"provider_id" json:"provider_id,omitempty"`
	Status        RoundStatus  `db:"status" json:"status"`
	CourseTitle   string       `db:"course_title" json:"course_title,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// SeatsLeft returns the remaining capacity, never negative.
func (r *Round) SeatsLeft() int {
	left := r.MaxSeats - r.EnrolledCount
	if left < 0 {
		return 0
	}
	return left
}

// RoundDetail bundles a round with its sessions.
type RoundDetail struct {
	Round
	Sessions []Session `json:"sessions"`
}

// RoundFilter narrows round listings.
type RoundFilter struct {
	CourseID string
	Status   RoundStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Session is a single meeting of a round.
type Session struct {
	ID        string    `db:"id" json:"id"`
	RoundID   string    `db:"round_id" json:"round_id"`
	Title     string    `db:"title" json:"title"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	Location  *string   `db:"location" json:"location,omitempty"`
	TeamsLink *string   `db:"teams_link" json:"teams_link,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UpcomingSession joins a session with the round and course it belongs to.
type UpcomingSession struct {
	Session
	RoundName   string `db:"round_name" json:"round_name"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// ProviderType distinguishes internal departments from vendors.
type ProviderType string

const (
	ProviderTypeInternal ProviderType = "INTERNAL"
	ProviderTypeExternal ProviderType = "EXTERNAL"
)

// Provider is an organisation delivering training.
type Provider struct {
	ID           string       `db:"id" json:"id"`
	Name         string       `db:"name" json:"name"`
	Type         ProviderType `db:"type" json:"type"`
	ContactEmail *string      `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone *string      `db:"contact_phone" json:"contact_phone,omitempty"`
	Website      *string      `db:"website" json:"website,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// Trainer is a person delivering rounds, optionally linked to a user and provider.
type Trainer struct {
	ID             string    `db:"id" json:"id"`
	UserID         *string   `db:"user_id" json:"user_id,omitempty"`
	ProviderID     *string   `db:"provider_id" json:"provider_id,omitempty"`
	Name           string    `db:"name" json:"name"`
	Email          *string   `db:"email" json:"email,omitempty"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
