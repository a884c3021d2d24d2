package erp

import (
	"errors"

	"github.com/xelth-com/mixstationgo/internal/database"
	"github.com/xelth-com/mixstationgo/internal/models"
	"gorm.io/gorm"
)

// JobStore persists ERP sync jobs. The GORM implementation is the
// production one; tests use an in-memory fake.
type JobStore interface {
	// Enqueue creates the job for (sessionID, operation) or returns the
	// existing one. The bool reports whether a new job was created.
	Enqueue(job *models.ERPSyncJob) (*models.ERPSyncJob, bool, error)
	Pending() ([]models.ERPSyncJob, error)
	Update(job *models.ERPSyncJob) error
	BySession(sessionID string) ([]models.ERPSyncJob, error)
}

// GormJobStore stores jobs in erp_sync_jobs.
type GormJobStore struct {
	db *database.DB
}

// NewGormJobStore wraps the database for job persistence.
func NewGormJobStore(db *database.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

// Enqueue is idempotent on the (session, operation) unique index: the
// payload snapshot of the first submission wins, re-submission reuses it.
func (s *GormJobStore) Enqueue(job *models.ERPSyncJob) (*models.ERPSyncJob, bool, error) {
	var existing models.ERPSyncJob
	err := s.db.Where("session_id = ? AND operation = ?", job.SessionID, job.Operation).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if err := s.db.Create(job).Error; err != nil {
		// Lost a race against a concurrent enqueue; reuse the winner.
		if ferr := s.db.Where("session_id = ? AND operation = ?", job.SessionID, job.Operation).First(&existing).Error; ferr == nil {
			return &existing, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

// Pending returns jobs awaiting delivery, oldest first.
func (s *GormJobStore) Pending() ([]models.ERPSyncJob, error) {
	var jobs []models.ERPSyncJob
	err := s.db.Where("status IN ?", []string{models.SyncStatusPending, models.SyncStatusSent}).
		Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// Update persists a job's delivery status.
func (s *GormJobStore) Update(job *models.ERPSyncJob) error {
	return s.db.Save(job).Error
}

// BySession returns all jobs for a session, for the status snapshot.
func (s *GormJobStore) BySession(sessionID string) ([]models.ERPSyncJob, error) {
	var jobs []models.ERPSyncJob
	err := s.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&jobs).Error
	return jobs, err
}
