package station

import (
	"errors"

	"github.com/xelth-com/mixstationgo/internal/database"
	"github.com/xelth-com/mixstationgo/internal/models"
	"gorm.io/gorm"
)

// CatalogResolver resolves barcodes against the ERP-synced item catalog.
type CatalogResolver struct {
	db *database.DB
}

// NewCatalogResolver builds a resolver over the local catalog cache.
func NewCatalogResolver(db *database.DB) *CatalogResolver {
	return &CatalogResolver{db: db}
}

// Resolve looks the barcode up in catalog_items. Inactive items resolve
// like unknown ones: the operator must not stage retired materials.
func (r *CatalogResolver) Resolve(barcode string) (string, string, error) {
	var item models.CatalogItem
	err := r.db.Where("barcode = ? AND active = ?", barcode, true).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", NewUnknownItem(barcode, "barcode not in item catalog")
	}
	if err != nil {
		return "", "", err
	}
	return item.ItemCode, item.Name, nil
}
