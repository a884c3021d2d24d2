package station

import (
	"github.com/xelth-com/mixstationgo/internal/database"
	"github.com/xelth-com/mixstationgo/internal/models"
	"gorm.io/gorm"
)

// GormRepository persists sessions through the shared database handle.
type GormRepository struct {
	db *database.DB
}

// NewGormRepository wraps the database for session persistence.
func NewGormRepository(db *database.DB) *GormRepository {
	return &GormRepository{db: db}
}

// SaveSession upserts the session with its owned workorder snapshot and
// scan history.
func (r *GormRepository) SaveSession(s *models.Session) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if s.Workorder != nil {
			if s.Workorder.SessionID == nil {
				s.Workorder.SessionID = &s.ID
			}
			if err := tx.Save(s.Workorder).Error; err != nil {
				return err
			}
			s.WorkorderID = s.Workorder.ID
			for i := range s.Workorder.Lines {
				s.Workorder.Lines[i].WorkorderID = s.Workorder.ID
			}
			if len(s.Workorder.Lines) > 0 {
				if err := tx.Save(s.Workorder.Lines).Error; err != nil {
					return err
				}
			}
		}
		for i := range s.Scans {
			s.Scans[i].SessionID = s.ID
		}
		if len(s.Scans) > 0 {
			if err := tx.Save(s.Scans).Error; err != nil {
				return err
			}
		}
		return tx.Omit("Workorder", "Scans").Save(s).Error
	})
}

// LoadActiveSessions returns every non-terminal session, scans and
// workorder preloaded, for restart recovery.
func (r *GormRepository) LoadActiveSessions() ([]*models.Session, error) {
	var sessions []*models.Session
	err := r.db.
		Where("state NOT IN ?", []string{
			models.SessionIdle,
			models.SessionCompleted,
			models.SessionAbortComplete,
			models.SessionCancelled,
		}).
		Preload("Workorder").
		Preload("Workorder.Lines").
		Preload("Scans", func(db *gorm.DB) *gorm.DB {
			return db.Order("scan_events.id ASC")
		}).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// AppendAudit writes one audit entry.
func (r *GormRepository) AppendAudit(e *models.AuditEntry) error {
	return r.db.Create(e).Error
}
