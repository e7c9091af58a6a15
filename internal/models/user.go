package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleEmployee      UserRole = "EMPLOYEE"
	RoleManager       UserRole = "MANAGER"
	RoleTrainer       UserRole = "TRAINER"
	RoleAdministrator UserRole = "ADMINISTRATOR"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleTrainer, RoleAdministrator:
		return true
	}
	return false
}

// User represents an employee account stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	EmployeeID   *string    `db:"employee_id" json:"employee_id,omitempty"`
	Department   *string    `db:"department" json:"department,omitempty"`
	Grade        *string    `db:"grade" json:"grade,omitempty"`
	ManagerID    *string    `db:"manager_id" json:"manager_id,omitempty"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// DirectoryUser is a corporate directory entry mapped onto account fields.
type DirectoryUser struct {
	DirectoryID string `json:"directory_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	EmployeeID  string `json:"employee_id,omitempty"`
	Department  string `json:"department,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role       *UserRole
	Active     *bool
	Department string
	ManagerID  string
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination normalises page values the same way repositories clamp them.
func NewPagination(page, pageSize, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
