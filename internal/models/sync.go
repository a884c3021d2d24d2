package models

import (
	"time"

	"gorm.io/datatypes"
)

// ERP sync operations
const (
	SyncOpUpdateWorkorder = "update_workorder"
	SyncOpCreateBatch     = "create_batch"
)

// ERP sync job statuses
const (
	SyncStatusPending = "pending"
	SyncStatusSent    = "sent"
	SyncStatusAcked   = "acked"
	SyncStatusFailed  = "failed"
)

// ERPSyncJob is a queued external call produced by a session reaching a
// terminal state. The (session, operation) pair is the idempotency key:
// re-submission reuses the existing row. The payload is an immutable
// snapshot taken at enqueue time.
type ERPSyncJob struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	SessionID  string         `gorm:"type:uuid;not null;uniqueIndex:idx_session_op" json:"sessionId"`
	Operation  string         `gorm:"size:32;not null;uniqueIndex:idx_session_op" json:"operation"`
	Payload    datatypes.JSON `json:"payload"`
	Status     string         `gorm:"size:16;not null;default:'pending';index" json:"status"`
	RetryCount int            `gorm:"default:0" json:"retryCount"`
	MaxRetries int            `gorm:"default:3" json:"maxRetries"`
	ERPRecord  int64          `json:"erpRecord,omitempty"`
	LastError  *string        `gorm:"type:text" json:"lastError,omitempty"`
	SentAt     *time.Time     `json:"sentAt,omitempty"`
	AckedAt    *time.Time     `json:"ackedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (ERPSyncJob) TableName() string {
	return "erp_sync_jobs"
}

// AuditEntry records one applied (or rejected) control event against a
// session. Entries preserve arrival order within a session.
type AuditEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	SessionID string         `gorm:"type:uuid;not null;index" json:"sessionId"`
	Event     string         `gorm:"size:32;not null" json:"event"`
	FromState string         `gorm:"size:32;not null" json:"fromState"`
	ToState   string         `gorm:"size:32;not null" json:"toState"`
	Actor     string         `gorm:"size:128" json:"actor,omitempty"`
	Accepted  bool           `gorm:"not null;default:true" json:"accepted"`
	Detail    datatypes.JSON `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// TableName specifies the table name
func (AuditEntry) TableName() string {
	return "audit_entries"
}
