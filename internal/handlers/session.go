package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/xelth-com/mixstationgo/internal/middleware"
	"github.com/xelth-com/mixstationgo/internal/models"
	"github.com/xelth-com/mixstationgo/internal/station"
)

// sessionRef addresses a session explicitly or by station. Omitted, the
// station configured for this instance is assumed, so a panel never has to
// track session ids.
type sessionRef struct {
	SessionID string `json:"sessionId"`
	StationID string `json:"stationId"`
}

// stateOf tolerates the nil snapshot a failed persistence returns.
func stateOf(s *models.Session) string {
	if s == nil {
		return ""
	}
	return s.State
}

func (ref sessionRef) station(fallback string) string {
	if ref.StationID != "" {
		return ref.StationID
	}
	return fallback
}

// resolveSession finds the addressed session: by id if given, otherwise the
// station's active one.
func (r *Router) resolveSession(ref sessionRef) (*models.Session, error) {
	if ref.SessionID != "" {
		return r.store.Get(ref.SessionID)
	}
	sess, ok := r.store.ActiveForStation(ref.station(r.cfg.StationID))
	if !ok {
		return nil, station.NewNotFound("active session for station", ref.station(r.cfg.StationID))
	}
	return sess, nil
}

// runEffects executes the declarative effects a committed transition
// produced. Sync jobs are queued durably first; delivery happens in the
// background so a slow ERP never blocks the operator.
func (r *Router) runEffects(sess *models.Session, fx []station.Effect) {
	queued := false
	for _, ef := range fx {
		switch ef.Type {
		case station.EffectEnqueueSync:
			if _, err := r.erp.Submit(sess.ID, ef.Operation, syncPayload(sess)); err != nil {
				log.Printf("❌ Failed to queue ERP sync %s for session %s: %v", ef.Operation, sess.ID, err)
				continue
			}
			queued = true
		case station.EffectPrintLabel:
			log.Printf("🖨️ Batch label ready: %s (session %s)", sess.Workorder.BatchNumber, sess.ID)
		}
	}
	if queued {
		go r.erp.ProcessPendingJobs()
	}
}

// syncPayload snapshots the fields the ERP cares about at transition time.
func syncPayload(sess *models.Session) map[string]interface{} {
	payload := map[string]interface{}{
		"sessionId":   sess.ID,
		"state":       sess.State,
		"erpId":       sess.Workorder.ERPID,
		"batchNumber": sess.Workorder.BatchNumber,
		"batchType":   sess.Workorder.BatchType,
	}
	if sess.AbortReason != nil {
		payload["abortReason"] = *sess.AbortReason
	}
	return payload
}

// sessionData is the snapshot block shared by status and mutation replies.
func (r *Router) sessionData(sess *models.Session) map[string]interface{} {
	data := map[string]interface{}{
		"session":     sess,
		"legalEvents": station.LegalEvents(station.State(sess.State)),
	}
	if sess.Workorder != nil {
		data["missingRunItems"] = station.MissingRunItems(sess)
	}
	if jobs, err := r.erp.JobsForSession(sess.ID); err == nil {
		data["syncJobs"] = jobs
		for _, j := range jobs {
			if j.Status == models.SyncStatusFailed {
				data["syncFailed"] = true
			}
		}
	}
	return data
}

// getStatus reports the current session (if any) for the addressed station.
// Safe to call at any time; never mutates.
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	stationID := req.URL.Query().Get("stationId")
	if stationID == "" {
		stationID = r.cfg.StationID
	}

	if id := req.URL.Query().Get("sessionId"); id != "" {
		sess, err := r.store.Get(id)
		if err != nil {
			respondError(w, "", err)
			return
		}
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}

	sess, ok := r.store.ActiveForStation(stationID)
	if !ok {
		respondOK(w, models.SessionIdle, map[string]interface{}{"stationId": stationID})
		return
	}
	respondOK(w, sess.State, r.sessionData(sess))
}

// checkTransitions lists the events legal from the session's current state.
func (r *Router) checkTransitions(w http.ResponseWriter, req *http.Request) {
	stationID := req.URL.Query().Get("stationId")
	ref := sessionRef{SessionID: req.URL.Query().Get("sessionId"), StationID: stationID}
	sess, err := r.resolveSession(ref)
	if err != nil {
		// An idle station legally accepts only load_workorder.
		if station.KindOf(err) == station.KindNotFound && ref.SessionID == "" {
			respondOK(w, models.SessionIdle, map[string]interface{}{
				"legalEvents": station.LegalEvents(station.StateIdle),
			})
			return
		}
		respondError(w, "", err)
		return
	}
	respondOK(w, sess.State, map[string]interface{}{
		"legalEvents": station.LegalEvents(station.State(sess.State)),
	})
}

type loadWorkorderRequest struct {
	sessionRef
	BatchNumber string `json:"batchNumber"`
	BatchType   string `json:"batchType"`
}

// loadWorkorder binds a workorder template to a new session. Retrying the
// same load against the session it already created is answered with that
// session instead of a conflict.
func (r *Router) loadWorkorder(w http.ResponseWriter, req *http.Request) {
	var body loadWorkorderRequest
	if err := decodeBody(req, &body); err != nil || body.BatchNumber == "" {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "batchNumber is required",
		}})
		return
	}
	if body.BatchType == "" {
		body.BatchType = models.BatchTypeCompound
	}

	stationID := body.station(r.cfg.StationID)

	// Replay detection: the station's active session already carries this
	// exact workorder.
	if existing, ok := r.store.ActiveForStation(stationID); ok {
		if existing.Workorder != nil &&
			existing.Workorder.BatchNumber == body.BatchNumber &&
			existing.Workorder.BatchType == body.BatchType {
			respondOK(w, existing.State, r.sessionData(existing))
			return
		}
		respondError(w, existing.State, station.NewConflict(stationID, existing.ID))
		return
	}

	wo, err := r.workorders.ByBatch(body.BatchNumber, body.BatchType)
	if err != nil {
		respondError(w, models.SessionIdle, err)
		return
	}

	sess, err := r.store.Create(stationID, wo, middleware.Actor(req))
	if err != nil {
		respondError(w, models.SessionIdle, err)
		return
	}
	log.Printf("📦 Workorder %s loaded on %s (session %s)", wo.BatchNumber, stationID, sess.ID)
	respondOK(w, sess.State, r.sessionData(sess))
}

type scanRequest struct {
	sessionRef
	Barcode string `json:"barcode"`
}

// prescanItem validates one staging scan against the BOM.
func (r *Router) prescanItem(w http.ResponseWriter, req *http.Request) {
	var body scanRequest
	if err := decodeBody(req, &body); err != nil || body.Barcode == "" {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "barcode is required",
		}})
		return
	}
	sess, err := r.resolveSession(body.sessionRef)
	if err != nil {
		respondError(w, "", err)
		return
	}

	var recorded *models.ScanEvent
	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventPrescanItem, middleware.Actor(req), func(s *models.Session) error {
		ev, verr := r.validator.Prescan(s, body.Barcode)
		recorded = ev
		return verr
	})
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	data := r.sessionData(sess)
	data["scan"] = recorded
	respondOK(w, sess.State, data)
}

// confirmPrescan asserts that every BOM line has been staged. Idempotent:
// confirming an already confirmed session repeats the answer.
func (r *Router) confirmPrescan(w http.ResponseWriter, req *http.Request) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.PrescanConfirmed {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}

	actor := middleware.Actor(req)
	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventConfirmPrescan, actor, func(s *models.Session) error {
		if verr := r.validator.ConfirmPrescan(s); verr != nil {
			return verr
		}
		now := time.Now().UTC()
		s.PrescanConfirmed = true
		s.PrescanConfirmedBy = actor
		s.PrescanConfirmedAt = &now
		return nil
	})
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	log.Printf("✅ Prescan confirmed for session %s by %s", sess.ID, actor)
	respondOK(w, sess.State, r.sessionData(sess))
}

// startRun moves a confirmed session into the running phase.
func (r *Router) startRun(w http.ResponseWriter, req *http.Request) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.State == models.SessionRunning {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}
	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventStartRun, middleware.Actor(req), nil)
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	respondOK(w, sess.State, r.sessionData(sess))
}

// scanItem validates one run-time consumption scan. A scan arriving right
// after confirmation implicitly starts the run.
func (r *Router) scanItem(w http.ResponseWriter, req *http.Request) {
	var body scanRequest
	if err := decodeBody(req, &body); err != nil || body.Barcode == "" {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "barcode is required",
		}})
		return
	}
	sess, err := r.resolveSession(body.sessionRef)
	if err != nil {
		respondError(w, "", err)
		return
	}
	actor := middleware.Actor(req)

	if sess.State == models.SessionConfirmed {
		sess, _, err = r.store.ApplyEvent(sess.ID, station.EventStartRun, actor, nil)
		if err != nil {
			respondError(w, stateOf(sess), err)
			return
		}
	}

	var recorded *models.ScanEvent
	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventScanItem, actor, func(s *models.Session) error {
		ev, verr := r.validator.Scan(s, body.Barcode)
		recorded = ev
		return verr
	})
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	data := r.sessionData(sess)
	data["scan"] = recorded
	respondOK(w, sess.State, data)
}

type abortRequest struct {
	sessionRef
	Reason string `json:"reason"`
}

// abortProcess interrupts a running session. Already aborting counts as
// done.
func (r *Router) abortProcess(w http.ResponseWriter, req *http.Request) {
	var body abortRequest
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body.sessionRef)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.State == models.SessionAborting {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}

	sess, fx, err := r.store.ApplyEvent(sess.ID, station.EventAbort, middleware.Actor(req), func(s *models.Session) error {
		if body.Reason != "" {
			s.AbortReason = &body.Reason
		}
		return nil
	})
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	log.Printf("⚠️ Session %s aborting: %s", sess.ID, body.Reason)
	r.runEffects(sess, fx)
	respondOK(w, sess.State, r.sessionData(sess))
}

// resumeProcess returns an aborting session to the running phase. The
// abort reason is kept on record even after a resume.
func (r *Router) resumeProcess(w http.ResponseWriter, req *http.Request) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.State == models.SessionRunning {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}
	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventResume, middleware.Actor(req), nil)
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	log.Printf("🔄 Session %s resumed", sess.ID)
	respondOK(w, sess.State, r.sessionData(sess))
}

// completeAbort finishes an abort: the session is marked aborted, the ERP
// update is queued, and the session is closed out. Replays against an
// already closed abort repeat the answer.
func (r *Router) completeAbort(w http.ResponseWriter, req *http.Request) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		respondError(w, "", err)
		return
	}
	actor := middleware.Actor(req)

	switch sess.State {
	case models.SessionAbortComplete:
		respondOK(w, sess.State, r.sessionData(sess))
		return
	case models.SessionAborted:
		// Earlier attempt stopped between the two steps; finish it.
	default:
		var fx []station.Effect
		sess, fx, err = r.store.ApplyEvent(sess.ID, station.EventCompleteAbort, actor, nil)
		if err != nil {
			respondError(w, stateOf(sess), err)
			return
		}
		r.runEffects(sess, fx)
	}

	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventFinalizeAbort, actor, nil)
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	log.Printf("🛑 Session %s abort completed", sess.ID)
	respondOK(w, sess.State, r.sessionData(sess))
}

// cancelProcess discards the session from any non-terminal state. Sync
// jobs already queued stay queued; cancel abandons the physical run, not
// the bookkeeping.
func (r *Router) cancelProcess(w http.ResponseWriter, req *http.Request) {
	r.closeout(w, req, station.EventCancel, models.SessionCancelled)
}

// resetProcess clears the station back to idle from any non-terminal
// state, without the cancelled stigma in the audit trail.
func (r *Router) resetProcess(w http.ResponseWriter, req *http.Request) {
	r.closeout(w, req, station.EventReset, models.SessionIdle)
}

// closeout implements cancel and reset: both are legal everywhere short of
// a terminal state, and both are no-ops when the target state already
// holds.
func (r *Router) closeout(w http.ResponseWriter, req *http.Request, event station.Event, satisfied string) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		// No active session: the station is already idle, which is what
		// both operations want.
		if station.KindOf(err) == station.KindNotFound && body.SessionID == "" {
			respondOK(w, models.SessionIdle, map[string]interface{}{
				"stationId": body.station(r.cfg.StationID),
			})
			return
		}
		respondError(w, "", err)
		return
	}
	if sess.State == satisfied {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}

	sess, _, err = r.store.ApplyEvent(sess.ID, event, middleware.Actor(req), nil)
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	log.Printf("🛑 Session %s closed out via %s", sess.ID, event)
	respondOK(w, sess.State, r.sessionData(sess))
}

// confirmCompletion declares the physical run finished. Run-phase BOM
// coverage is reported but not enforced; the operator has the final word
// on the physical process.
func (r *Router) confirmCompletion(w http.ResponseWriter, req *http.Request) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.State == models.SessionCompleting || sess.State == models.SessionCompleted {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}
	sess, _, err = r.store.ApplyEvent(sess.ID, station.EventConfirmCompletion, middleware.Actor(req), nil)
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	respondOK(w, sess.State, r.sessionData(sess))
}

// saveWorkorder finalizes a completing session: the ERP updates are queued
// durably, the batch label becomes printable, and the session goes
// terminal. Retries against the completed session repeat the answer
// without re-queueing anything; the (session, operation) pair dedupes at
// the job store as well.
func (r *Router) saveWorkorder(w http.ResponseWriter, req *http.Request) {
	var body sessionRef
	if err := decodeBody(req, &body); err != nil {
		respondError(w, "", err)
		return
	}
	sess, err := r.resolveSession(body)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.State == models.SessionCompleted {
		respondOK(w, sess.State, r.sessionData(sess))
		return
	}

	sess, fx, err := r.store.ApplyEvent(sess.ID, station.EventSaveWorkorder, middleware.Actor(req), nil)
	if err != nil {
		respondError(w, stateOf(sess), err)
		return
	}
	log.Printf("✅ Session %s completed, batch %s", sess.ID, sess.Workorder.BatchNumber)
	r.runEffects(sess, fx)
	respondOK(w, sess.State, r.sessionData(sess))
}
