package handlers

import (
	"errors"
	"time"

	"github.com/xelth-com/mixstationgo/internal/database"
	"github.com/xelth-com/mixstationgo/internal/models"
	"github.com/xelth-com/mixstationgo/internal/station"
	"gorm.io/gorm"
)

// GormWorkorderSource serves workorder templates from the local cache.
type GormWorkorderSource struct {
	db *database.DB
}

func NewGormWorkorderSource(db *database.DB) *GormWorkorderSource {
	return &GormWorkorderSource{db: db}
}

// ByBatch finds the template (a workorder not owned by any session) for
// the given batch number and type.
func (s *GormWorkorderSource) ByBatch(batchNumber, batchType string) (*models.Workorder, error) {
	var wo models.Workorder
	err := s.db.Preload("Lines").
		Where("batch_number = ? AND batch_type = ? AND session_id IS NULL", batchNumber, batchType).
		First(&wo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, station.NewNotFound("workorder", batchNumber)
	}
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

// List returns every loadable template, newest first.
func (s *GormWorkorderSource) List() ([]models.Workorder, error) {
	var orders []models.Workorder
	err := s.db.Preload("Lines").
		Where("session_id IS NULL").
		Order("updated_at DESC").
		Find(&orders).Error
	return orders, err
}

// GormSessionSource reads historical sessions by their batch number.
type GormSessionSource struct {
	db *database.DB
}

func NewGormSessionSource(db *database.DB) *GormSessionSource {
	return &GormSessionSource{db: db}
}

// ByBatch returns the most recent session whose workorder snapshot carries
// the batch number.
func (s *GormSessionSource) ByBatch(batchNumber string) (*models.Session, error) {
	var wo models.Workorder
	err := s.db.Where("batch_number = ? AND session_id IS NOT NULL", batchNumber).
		Order("updated_at DESC").
		First(&wo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, station.NewNotFound("batch", batchNumber)
	}
	if err != nil {
		return nil, err
	}

	var sess models.Session
	err = s.db.Preload("Workorder").Preload("Workorder.Lines").
		Preload("Scans", func(tx *gorm.DB) *gorm.DB { return tx.Order("scan_events.id ASC") }).
		First(&sess, "id = ?", *wo.SessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, station.NewNotFound("session", *wo.SessionID)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GormUserStore looks up operator accounts.
type GormUserStore struct {
	db *database.DB
}

func NewGormUserStore(db *database.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

func (s *GormUserStore) ByUsername(username string) (*models.UserAuth, error) {
	var user models.UserAuth
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// TouchLogin stamps the account's last successful login.
func (s *GormUserStore) TouchLogin(user *models.UserAuth) error {
	now := time.Now().UTC()
	user.LastLogin = &now
	return s.db.Model(user).Update("last_login", now).Error
}
