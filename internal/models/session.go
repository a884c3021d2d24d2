package models

import (
	"time"

	"gorm.io/gorm"
)

// Session states
const (
	SessionIdle          = "IDLE"
	SessionLoaded        = "LOADED"
	SessionPrescanning   = "PRESCANNING"
	SessionConfirmed     = "CONFIRMED"
	SessionRunning       = "RUNNING"
	SessionCompleting    = "COMPLETING"
	SessionCompleted     = "COMPLETED"
	SessionAborting      = "ABORTING"
	SessionAborted       = "ABORTED"
	SessionAbortComplete = "ABORT_COMPLETE"
	SessionCancelled     = "CANCELLED"
)

// Scan phases
const (
	PhasePrescan = "prescan"
	PhaseRun     = "run"
)

// Session represents one run of a physical station against one workorder.
// Exactly one non-terminal session may exist per station; terminal sessions
// are retained for audit and reject further mutation.
type Session struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	StationID string `gorm:"size:64;not null;index" json:"stationId"`
	State     string `gorm:"size:32;not null;index" json:"state"`

	// Owned workorder snapshot. The BOM is immutable for the session's
	// lifetime even if the ERP-side definition changes.
	WorkorderID uint       `json:"-"`
	Workorder   *Workorder `gorm:"foreignKey:WorkorderID" json:"workorder,omitempty"`

	// Append-only scan history, prescan and run phases combined.
	Scans []ScanEvent `gorm:"foreignKey:SessionID" json:"scans,omitempty"`

	PrescanConfirmed   bool       `gorm:"default:false" json:"prescanConfirmed"`
	PrescanConfirmedBy string     `gorm:"size:128" json:"prescanConfirmedBy,omitempty"`
	PrescanConfirmedAt *time.Time `json:"prescanConfirmedAt,omitempty"`

	AbortReason *string `gorm:"type:text" json:"abortReason,omitempty"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (Session) TableName() string {
	return "sessions"
}

// ScanEvent records a single barcode scan attempt, accepted or not.
// History is never rewritten, only appended to.
type ScanEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"type:uuid;not null;index" json:"-"`
	Barcode   string    `gorm:"size:128;not null" json:"barcode"`
	Phase     string    `gorm:"size:16;not null" json:"phase"`
	ItemCode  *string   `gorm:"size:64" json:"itemCode,omitempty"`
	Accepted  bool      `gorm:"not null" json:"accepted"`
	Reason    string    `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (ScanEvent) TableName() string {
	return "scan_events"
}
