package erp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/mixstationgo/internal/database"
	"github.com/xelth-com/mixstationgo/internal/models"
	"gorm.io/gorm/clause"
)

// Backend is the XML-RPC surface the service needs; Client implements it.
type Backend interface {
	Authenticate() (int, error)
	SearchRead(model string, domain []interface{}, fields []string, limit, offset int, result interface{}) error
	Create(model string, values map[string]interface{}) (int64, error)
	Write(model string, ids []int64, values map[string]interface{}) error
}

// Config holds ERP sync settings
type Config struct {
	URL          string
	Database     string
	Username     string
	Password     string
	SyncInterval int // minutes, catalog/workorder refresh
	MaxRetries   int // bounded attempts per sync job
	CallTimeout  time.Duration
}

// NonRetryableError marks a delivery failure that must not be retried
// (the ERP rejected the payload rather than being unreachable).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// Service owns the ERP side of a session's lifecycle: it drains queued
// sync jobs with bounded retries and keeps the local catalog and
// workorder templates fresh. It never touches session state; a job that
// exhausts its retries is surfaced as a reconciliation task, not rolled
// back into the session.
type Service struct {
	backend Backend
	jobs    JobStore
	db      *database.DB
	cfg     Config
	stop    chan struct{}

	// drainMu makes job delivery single-flight: the drain ticker and the
	// post-enqueue kicks may overlap, and a job delivered twice would
	// duplicate batch records in the ERP.
	drainMu sync.Mutex

	// sleep is replaced in tests so backoff does not slow them down.
	sleep func(time.Duration)
}

// NewService creates the synchronizer over a real XML-RPC client.
func NewService(db *database.DB, cfg Config) *Service {
	return &Service{
		backend: NewClient(cfg.URL, cfg.Database, cfg.Username, cfg.Password, cfg.CallTimeout),
		jobs:    NewGormJobStore(db),
		db:      db,
		cfg:     cfg,
		stop:    make(chan struct{}),
		sleep:   time.Sleep,
	}
}

// NewServiceWith wires explicit collaborators, for tests.
func NewServiceWith(backend Backend, jobs JobStore, cfg Config) *Service {
	return &Service{
		backend: backend,
		jobs:    jobs,
		cfg:     cfg,
		stop:    make(chan struct{}),
		sleep:   time.Sleep,
	}
}

// Start begins the background loops: a slow refresh of catalog and
// workorder templates, and a fast drain of pending sync jobs.
func (s *Service) Start() {
	if s.cfg.URL == "" {
		log.Println("ERP Sync disabled: ERP_URL not configured")
		return
	}

	go func() {
		log.Println("📡 ERP Sync Service started")

		authed := s.authenticate()
		if authed {
			time.Sleep(5 * time.Second)
			s.runRefresh()
		}

		interval := time.Duration(s.cfg.SyncInterval) * time.Minute
		if s.cfg.SyncInterval <= 0 {
			interval = 15 * time.Minute
		}

		refresh := time.NewTicker(interval)
		drain := time.NewTicker(5 * time.Second)
		defer refresh.Stop()
		defer drain.Stop()

		for {
			select {
			case <-refresh.C:
				if !authed {
					authed = s.authenticate()
				}
				if authed {
					s.runRefresh()
				}
			case <-drain.C:
				if !authed {
					authed = s.authenticate()
					if !authed {
						// Jobs stay queued until the ERP is reachable.
						continue
					}
				}
				s.ProcessPendingJobs()
			case <-s.stop:
				log.Println("🛑 ERP Sync Service stopped")
				return
			}
		}
	}()
}

// authenticate logs in to the ERP. A failure is retried on the next tick;
// a transient timeout at boot must not kill job delivery for the process
// lifetime.
func (s *Service) authenticate() bool {
	if _, err := s.backend.Authenticate(); err != nil {
		log.Printf("❌ ERP authentication failed (will retry): %v", err)
		return false
	}
	return true
}

// Stop halts the service
func (s *Service) Stop() {
	close(s.stop)
}

// Submit enqueues (or reuses) the sync job for the session and operation.
// The payload snapshot is immutable from this point on; the (session,
// operation) pair is the idempotency key.
func (s *Service) Submit(sessionID, operation string, payload map[string]interface{}) (*models.ERPSyncJob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot payload: %w", err)
	}
	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	job := &models.ERPSyncJob{
		SessionID:  sessionID,
		Operation:  operation,
		Payload:    raw,
		Status:     models.SyncStatusPending,
		MaxRetries: maxRetries,
	}
	job, created, err := s.jobs.Enqueue(job)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("📤 Queued ERP sync: session=%s op=%s", sessionID, operation)
	}
	return job, nil
}

// ProcessPendingJobs delivers every queued job. Called from the drain
// ticker and after each enqueue-producing operation; overlapping calls
// serialize on drainMu so no job is ever in flight twice. A late drain
// re-reads the queue and finds the jobs already acked.
func (s *Service) ProcessPendingJobs() {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	jobs, err := s.jobs.Pending()
	if err != nil {
		log.Printf("❌ ERP: failed to list pending jobs: %v", err)
		return
	}
	for i := range jobs {
		s.deliverWithRetry(&jobs[i])
	}
}

// deliverWithRetry attempts delivery with exponential backoff (2s, 4s,
// 8s, ...) up to the job's bounded attempt count. Exhaustion marks the
// job failed for manual reconciliation; it is never silently dropped.
func (s *Service) deliverWithRetry(job *models.ERPSyncJob) {
	baseDelay := 2 * time.Second

	for job.RetryCount < job.MaxRetries {
		now := time.Now().UTC()
		job.Status = models.SyncStatusSent
		job.SentAt = &now
		// Persist the claim before calling out: a crash mid-delivery leaves
		// the job marked sent, not silently pending.
		if uerr := s.jobs.Update(job); uerr != nil {
			log.Printf("⚠️ ERP: failed to claim job %d, skipping: %v", job.ID, uerr)
			return
		}

		err := s.deliver(job)
		if err == nil {
			job.Status = models.SyncStatusAcked
			acked := time.Now().UTC()
			job.AckedAt = &acked
			job.LastError = nil
			if uerr := s.jobs.Update(job); uerr != nil {
				log.Printf("⚠️ ERP: failed to persist ack for job %d: %v", job.ID, uerr)
			}
			log.Printf("✅ ERP sync acked: session=%s op=%s", job.SessionID, job.Operation)
			return
		}

		job.RetryCount++
		msg := err.Error()
		job.LastError = &msg
		job.Status = models.SyncStatusPending

		var fatal *NonRetryableError
		if errors.As(err, &fatal) || job.RetryCount >= job.MaxRetries {
			break
		}
		if uerr := s.jobs.Update(job); uerr != nil {
			log.Printf("⚠️ ERP: failed to persist retry state for job %d: %v", job.ID, uerr)
		}

		delay := baseDelay * time.Duration(1<<uint(job.RetryCount-1)) // 2s, 4s, 8s
		log.Printf("ERP sync failed (attempt %d/%d), retrying in %v: %v", job.RetryCount, job.MaxRetries, delay, err)
		s.sleep(delay)
	}

	job.Status = models.SyncStatusFailed
	if err := s.jobs.Update(job); err != nil {
		log.Printf("⚠️ ERP: failed to persist failure for job %d: %v", job.ID, err)
	}
	log.Printf("❌ ERP sync exhausted retries: session=%s op=%s retries=%d", job.SessionID, job.Operation, job.RetryCount)
}

// deliver performs one delivery attempt against the ERP.
func (s *Service) deliver(job *models.ERPSyncJob) error {
	var payload map[string]interface{}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return &NonRetryableError{Err: fmt.Errorf("corrupt payload snapshot: %w", err)}
	}

	switch job.Operation {
	case models.SyncOpUpdateWorkorder:
		erpID := payloadInt(payload, "erpId")
		if erpID == 0 {
			return &NonRetryableError{Err: fmt.Errorf("payload has no ERP workorder id")}
		}
		values := map[string]interface{}{
			"state": payload["state"],
		}
		if reason, ok := payload["abortReason"]; ok && reason != nil {
			values["x_abort_reason"] = reason
		}
		return s.backend.Write("mrp.production", []int64{erpID}, values)

	case models.SyncOpCreateBatch:
		id, err := s.backend.Create("stock.lot", map[string]interface{}{
			"name":       payload["batchNumber"],
			"ref":        payload["sessionId"],
			"company_id": 1,
		})
		if err != nil {
			return err
		}
		job.ERPRecord = id
		return nil

	default:
		return &NonRetryableError{Err: fmt.Errorf("unknown sync operation %q", job.Operation)}
	}
}

// JobsForSession reports the sync jobs (and their retry state) for the
// status snapshot.
func (s *Service) JobsForSession(sessionID string) ([]models.ERPSyncJob, error) {
	return s.jobs.BySession(sessionID)
}

// erpWorkorder is the wire shape of an ERP manufacturing order.
type erpWorkorder struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	BatchNumber string `json:"x_batch_number"`
	BatchType   string `json:"x_batch_type"`
	State       string `json:"state"`
}

// erpBOMLine is the wire shape of one bill-of-materials line.
type erpBOMLine struct {
	ID          int64   `json:"id"`
	ProductCode string  `json:"product_default_code"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"product_qty"`
}

// erpProduct is the wire shape of an item-master record.
type erpProduct struct {
	ID          int64  `json:"id"`
	Barcode     string `json:"barcode"`
	DefaultCode string `json:"default_code"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
}

// ListWorkorders fetches confirmed manufacturing orders from the ERP.
func (s *Service) ListWorkorders() ([]map[string]interface{}, error) {
	var orders []erpWorkorder
	domain := []interface{}{
		[]interface{}{"state", "in", []interface{}{"confirmed", "progress"}},
	}
	err := s.backend.SearchRead("mrp.production", domain, []string{
		"name", "x_batch_number", "x_batch_type", "state",
	}, 200, 0, &orders)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(orders))
	for i, o := range orders {
		out[i] = map[string]interface{}{
			"erpId":       o.ID,
			"name":        o.Name,
			"batchNumber": o.BatchNumber,
			"batchType":   o.BatchType,
			"state":       o.State,
		}
	}
	return out, nil
}

// FetchBOM fetches the bill of materials for an ERP workorder.
func (s *Service) FetchBOM(erpID int64) ([]models.BOMLine, error) {
	var lines []erpBOMLine
	domain := []interface{}{
		[]interface{}{"production_id", "=", erpID},
	}
	err := s.backend.SearchRead("mrp.bom.line", domain, []string{
		"product_default_code", "product_name", "product_qty",
	}, 500, 0, &lines)
	if err != nil {
		return nil, err
	}
	out := make([]models.BOMLine, len(lines))
	for i, l := range lines {
		out[i] = models.BOMLine{
			ItemCode:    l.ProductCode,
			ItemName:    l.ProductName,
			RequiredQty: int(l.Quantity),
		}
	}
	return out, nil
}

// UpdateWorkorder writes directly to the ERP workorder, for the manual
// reconciliation endpoint.
func (s *Service) UpdateWorkorder(erpID int64, values map[string]interface{}) error {
	return s.backend.Write("mrp.production", []int64{erpID}, values)
}

// CreateBatch creates a batch record directly, for the manual
// reconciliation endpoint.
func (s *Service) CreateBatch(values map[string]interface{}) (int64, error) {
	return s.backend.Create("stock.lot", values)
}

// runRefresh updates the local caches the station depends on.
func (s *Service) runRefresh() {
	log.Println("🔄 ERP: Starting refresh...")
	s.refreshCatalog()
	s.refreshWorkorders()
	s.ProcessPendingJobs()
	log.Println("✅ ERP: Refresh completed")
}

// refreshCatalog pulls the item master into catalog_items so barcode
// resolution keeps working while the ERP is unreachable.
func (s *Service) refreshCatalog() {
	if s.db == nil {
		return
	}

	var products []erpProduct
	domain := []interface{}{
		[]interface{}{"barcode", "!=", false},
	}
	err := s.backend.SearchRead("product.product", domain, []string{
		"barcode", "default_code", "name", "active",
	}, 1000, 0, &products)
	if err != nil {
		log.Printf("❌ ERP Refresh Error (Catalog): %v", err)
		return
	}

	count := 0
	for _, p := range products {
		item := models.CatalogItem{
			ID:           p.ID,
			Barcode:      p.Barcode,
			ItemCode:     p.DefaultCode,
			Name:         p.Name,
			Active:       p.Active,
			LastSyncedAt: time.Now().UTC(),
		}
		if err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&item).Error; err != nil {
			log.Printf("Failed to save catalog item %d: %v", p.ID, err)
		} else {
			count++
		}
	}
	if count > 0 {
		log.Printf("✅ ERP: Updated %d catalog items", count)
	}
}

// refreshWorkorders pulls confirmed manufacturing orders into local
// workorder templates (rows without a session).
func (s *Service) refreshWorkorders() {
	if s.db == nil {
		return
	}

	var orders []erpWorkorder
	domain := []interface{}{
		[]interface{}{"state", "in", []interface{}{"confirmed", "progress"}},
	}
	err := s.backend.SearchRead("mrp.production", domain, []string{
		"name", "x_batch_number", "x_batch_type", "state",
	}, 200, 0, &orders)
	if err != nil {
		log.Printf("❌ ERP Refresh Error (Workorders): %v", err)
		return
	}

	count := 0
	for _, o := range orders {
		batchType := o.BatchType
		if batchType == "" {
			batchType = models.BatchTypeCompound
		}
		var wo models.Workorder
		err := s.db.Where("erp_id = ? AND session_id IS NULL", o.ID).First(&wo).Error
		if err != nil {
			wo = models.Workorder{ERPID: o.ID}
		}
		wo.BatchNumber = o.BatchNumber
		wo.BatchType = batchType
		wo.Name = o.Name
		wo.ERPConfirmed = true
		if err := s.db.Save(&wo).Error; err != nil {
			log.Printf("Failed to save workorder template %d: %v", o.ID, err)
			continue
		}

		lines, err := s.FetchBOM(o.ID)
		if err != nil {
			log.Printf("Failed to fetch BOM for workorder %d: %v", o.ID, err)
			continue
		}
		s.db.Where("workorder_id = ?", wo.ID).Delete(&models.BOMLine{})
		for i := range lines {
			lines[i].WorkorderID = wo.ID
		}
		if len(lines) > 0 {
			if err := s.db.Create(&lines).Error; err != nil {
				log.Printf("Failed to save BOM for workorder %d: %v", o.ID, err)
			}
		}
		count++
	}
	if count > 0 {
		log.Printf("✅ ERP: Updated %d workorder templates", count)
	}
}

func payloadInt(payload map[string]interface{}, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
