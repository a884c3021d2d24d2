package station

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/mixstationgo/internal/models"
	"gorm.io/datatypes"
)

// Repository is the narrow persistence surface the store needs. The GORM
// implementation lives in repo.go; tests use an in-memory fake.
type Repository interface {
	SaveSession(s *models.Session) error
	LoadActiveSessions() ([]*models.Session, error)
	AppendAudit(e *models.AuditEntry) error
}

// Notifier receives a session snapshot after every committed update.
// The websocket hub implements it; a nil notifier is allowed.
type Notifier interface {
	BroadcastSession(s *models.Session)
}

// Store is the source of truth for active sessions. Operations on
// different sessions proceed in parallel; operations on the same session
// serialize on a per-session mutex so transition evaluation never races
// against itself.
type Store struct {
	mu        sync.RWMutex
	repo      Repository
	notifier  Notifier
	sessions  map[string]*sessionEntry // by session id
	byStation map[string]string        // station id -> active session id
}

type sessionEntry struct {
	mu   sync.Mutex
	sess *models.Session
}

// NewStore builds a store and reloads every non-terminal session from the
// repository so a process restart resumes in-progress work instead of
// dropping it.
func NewStore(repo Repository, notifier Notifier) (*Store, error) {
	s := &Store{
		repo:      repo,
		notifier:  notifier,
		sessions:  make(map[string]*sessionEntry),
		byStation: make(map[string]string),
	}
	active, err := repo.LoadActiveSessions()
	if err != nil {
		return nil, err
	}
	for _, sess := range active {
		s.sessions[sess.ID] = &sessionEntry{sess: sess}
		s.byStation[sess.StationID] = sess.ID
		log.Printf("🔁 Resumed session %s (station %s, state %s)", sess.ID, sess.StationID, sess.State)
	}
	return s, nil
}

// Get returns a snapshot of the session, or NotFound.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, NewNotFound("session", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.sess), nil
}

// ActiveForStation returns the station's current non-terminal session.
func (s *Store) ActiveForStation(stationID string) (*models.Session, bool) {
	s.mu.RLock()
	id, ok := s.byStation[stationID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sess, err := s.Get(id)
	if err != nil {
		return nil, false
	}
	return sess, true
}

// ListActive returns snapshots of every non-terminal session.
func (s *Store) ListActive() []*models.Session {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byStation))
	for _, id := range s.byStation {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		if sess, err := s.Get(id); err == nil {
			out = append(out, sess)
		}
	}
	return out
}

// Create attaches a new session to a workorder snapshot. Fails with
// Conflict while the station still has a non-terminal session.
func (s *Store) Create(stationID string, wo *models.Workorder, actor string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byStation[stationID]; ok {
		return nil, NewConflict(stationID, existing)
	}

	initial, _, err := Apply(StateIdle, EventLoadWorkorder)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		StationID: stationID,
		State:     string(initial),
		Workorder: wo.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.SaveSession(sess); err != nil {
		return nil, err
	}
	s.sessions[sess.ID] = &sessionEntry{sess: sess}
	s.byStation[stationID] = sess.ID

	s.audit(sess, EventLoadWorkorder, StateIdle, initial, actor, true, map[string]interface{}{
		"batchNumber": wo.BatchNumber,
		"batchType":   wo.BatchType,
	})
	s.broadcast(sess)
	return snapshot(sess), nil
}

// ApplyEvent evaluates the event against the session's current state under
// the session lock, runs the optional mutator, persists and audits the
// result, and returns a snapshot plus the effects the caller must execute.
//
// If the mutator returns an error the transition is not applied, but
// mutations it already made (appended scan events) are persisted: scan
// history is append-only even for rejected scans.
func (s *Store) ApplyEvent(id string, event Event, actor string, mutate func(*models.Session) error) (*models.Session, []Effect, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, NewNotFound("session", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := entry.sess
	from := State(sess.State)
	next, fx, err := Apply(from, event)
	if err != nil {
		s.audit(sess, event, from, from, actor, false, nil)
		return snapshot(sess), nil, err
	}

	if mutate != nil {
		if merr := mutate(sess); merr != nil {
			sess.UpdatedAt = time.Now().UTC()
			if serr := s.repo.SaveSession(sess); serr != nil {
				log.Printf("⚠️ Failed to persist rejected mutation for session %s: %v", sess.ID, serr)
			}
			s.audit(sess, event, from, from, actor, false, errDetail(merr))
			return snapshot(sess), nil, merr
		}
	}

	sess.State = string(next)
	sess.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveSession(sess); err != nil {
		sess.State = string(from)
		return nil, nil, err
	}

	if IsTerminal(next) {
		s.mu.Lock()
		if s.byStation[sess.StationID] == sess.ID {
			delete(s.byStation, sess.StationID)
		}
		s.mu.Unlock()
	}

	s.audit(sess, event, from, next, actor, true, nil)
	s.broadcast(sess)
	return snapshot(sess), fx, nil
}

// CheckTransitions returns the events legal from the session's current
// state. Read-only; never mutates.
func (s *Store) CheckTransitions(id string) ([]Event, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return LegalEvents(State(sess.State)), nil
}

func (s *Store) audit(sess *models.Session, event Event, from, to State, actor string, accepted bool, detail map[string]interface{}) {
	entry := &models.AuditEntry{
		SessionID: sess.ID,
		Event:     string(event),
		FromState: string(from),
		ToState:   string(to),
		Actor:     actor,
		Accepted:  accepted,
		CreatedAt: time.Now().UTC(),
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = datatypes.JSON(raw)
		}
	}
	if err := s.repo.AppendAudit(entry); err != nil {
		log.Printf("⚠️ Failed to append audit entry for session %s: %v", sess.ID, err)
	}
}

func (s *Store) broadcast(sess *models.Session) {
	if s.notifier != nil {
		s.notifier.BroadcastSession(snapshot(sess))
	}
}

func errDetail(err error) map[string]interface{} {
	detail := map[string]interface{}{"error": err.Error()}
	if kind := KindOf(err); kind != "" {
		detail["kind"] = string(kind)
	}
	return detail
}

// snapshot copies the session so callers never share the locked instance.
func snapshot(sess *models.Session) *models.Session {
	cp := *sess
	if sess.Workorder != nil {
		wo := *sess.Workorder
		wo.Lines = append([]models.BOMLine(nil), sess.Workorder.Lines...)
		cp.Workorder = &wo
	}
	cp.Scans = append([]models.ScanEvent(nil), sess.Scans...)
	return &cp
}
