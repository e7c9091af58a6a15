package models

import "time"

// DashboardStats summarises training activity for the dashboard.
type DashboardStats struct {
	TotalEmployees   int       `db:"total_employees" json:"total_employees"`
	ActivePlans      int       `db:"active_plans" json:"active_plans"`
	OngoingRounds    int       `db:"ongoing_rounds" json:"ongoing_rounds"`
	UpcomingRounds   int       `db:"upcoming_rounds" json:"upcoming_rounds"`
	TotalEnrollments int       `db:"total_enrollments" json:"total_enrollments"`
	Completed        int       `db:"completed" json:"completed_enrollments"`
	CompletionRate   float64   `db:"-" json:"completion_rate"`
	GeneratedAt      time.Time `db:"-" json:"generated_at"`
}
