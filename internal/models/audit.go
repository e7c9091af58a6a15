package models

import "time"

// Session and account actions.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionTokenRefresh   = "TOKEN_REFRESH"
	AuditActionTokenReuse     = "TOKEN_REUSE"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
)

// Training actions.
const (
	AuditActionEnroll       = "ENROLL"
	AuditActionBulkEnroll   = "BULK_ENROLL"
	AuditActionEnrollUpdate = "ENROLLMENT_UPDATE"
	AuditActionEnrollDelete = "ENROLLMENT_DELETE"
	AuditActionCatalogWrite = "CATALOG_WRITE"
	AuditActionAttendance   = "ATTENDANCE_MARK"
	AuditActionCertificate  = "CERTIFICATE_ISSUE"
)

// AuditLog is one row of the audit trail. OldValues and NewValues hold JSON documents.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	RequestID  string    `db:"request_id" json:"request_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestMeta identifies the HTTP request behind a change.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// NewAuditLog starts an entry stamped with meta. Empty actor or resource IDs stay NULL.
func NewAuditLog(actorID, action, resource, resourceID string, meta RequestMeta) *AuditLog {
	entry := &AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return entry
}
