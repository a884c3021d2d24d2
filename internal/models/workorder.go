package models

import (
	"time"
)

// Batch types
const (
	BatchTypeCompound = "compound"
	BatchTypeMaster   = "master"
)

// Workorder is a manufacturing instruction with its bill of materials.
// Rows with SessionID == nil are templates kept in sync from the ERP;
// loading a workorder into a session deep-copies the template so the
// session owns an immutable snapshot.
type Workorder struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	SessionID   *string `gorm:"type:uuid;index" json:"-"`
	ERPID       int64   `gorm:"index" json:"erpId,omitempty"`
	BatchNumber string  `gorm:"size:64;not null;index" json:"batchNumber"`
	BatchType   string  `gorm:"size:16;not null;default:'compound'" json:"batchType"`
	Name        string  `gorm:"size:255" json:"name"`

	// True once the ERP has acknowledged this workorder as its own record,
	// false for locally defined orders.
	ERPConfirmed bool `gorm:"default:false" json:"erpConfirmed"`

	Lines []BOMLine `gorm:"foreignKey:WorkorderID" json:"lines,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (Workorder) TableName() string {
	return "workorders"
}

// BOMLine is one required item of a workorder's bill of materials.
type BOMLine struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	WorkorderID uint   `gorm:"not null;index" json:"-"`
	ItemCode    string `gorm:"size:64;not null" json:"itemCode"`
	ItemName    string `gorm:"size:255" json:"itemName"`
	RequiredQty int    `gorm:"not null;default:1" json:"requiredQty"`
}

// TableName specifies the table name
func (BOMLine) TableName() string {
	return "bom_lines"
}

// Clone returns a deep copy of the workorder detached from its primary keys,
// suitable for attaching to a session as an owned snapshot.
func (w *Workorder) Clone() *Workorder {
	cp := Workorder{
		ERPID:        w.ERPID,
		BatchNumber:  w.BatchNumber,
		BatchType:    w.BatchType,
		Name:         w.Name,
		ERPConfirmed: w.ERPConfirmed,
		Lines:        make([]BOMLine, len(w.Lines)),
	}
	for i, l := range w.Lines {
		cp.Lines[i] = BOMLine{
			ItemCode:    l.ItemCode,
			ItemName:    l.ItemName,
			RequiredQty: l.RequiredQty,
		}
	}
	return &cp
}

// RequiredQuantities maps item code to required quantity.
func (w *Workorder) RequiredQuantities() map[string]int {
	req := make(map[string]int, len(w.Lines))
	for _, l := range w.Lines {
		req[l.ItemCode] += l.RequiredQty
	}
	return req
}
