package models

import (
	"time"
)

// CatalogItem caches the ERP item master, keyed by scanner barcode.
// Refreshed periodically by the ERP sync service; the scan validator
// resolves barcodes against this table so scanning keeps working while
// the ERP is unreachable.
type CatalogItem struct {
	ID           int64     `gorm:"primaryKey" json:"id"` // ERP record id
	Barcode      string    `gorm:"size:128;uniqueIndex" json:"barcode"`
	ItemCode     string    `gorm:"size:64;not null;index" json:"itemCode"`
	Name         string    `gorm:"size:255" json:"name"`
	Active       bool      `gorm:"default:true" json:"active"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (CatalogItem) TableName() string {
	return "catalog_items"
}
