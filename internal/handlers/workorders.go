package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/mixstationgo/internal/models"
	"github.com/xelth-com/mixstationgo/internal/services/printer"
	"github.com/xelth-com/mixstationgo/internal/station"
)

// listWorkorders returns the locally cached workorder templates a station
// can load. The cache is refreshed from the ERP in the background, so this
// answers even while the ERP is down.
func (r *Router) listWorkorders(w http.ResponseWriter, req *http.Request) {
	orders, err := r.workorders.List()
	if err != nil {
		respondError(w, "", err)
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: map[string]interface{}{
		"workorders": orders,
	}})
}

// batchSession finds the session behind a batch number: the station's
// live one if it matches, otherwise the completed historical record.
func (r *Router) batchSession(batchNumber string) (*models.Session, error) {
	for _, sess := range r.store.ListActive() {
		if sess.Workorder != nil && sess.Workorder.BatchNumber == batchNumber {
			return sess, nil
		}
	}
	return r.sessions.ByBatch(batchNumber)
}

// getBatch reports one batch by its number: the owning session, its scan
// history and the ERP sync state.
func (r *Router) getBatch(w http.ResponseWriter, req *http.Request) {
	batchNumber := mux.Vars(req)["id"]
	sess, err := r.batchSession(batchNumber)
	if err != nil {
		respondError(w, "", err)
		return
	}
	respondOK(w, sess.State, r.sessionData(sess))
}

// getBatchLabel renders the printable PDF label for a completed batch.
func (r *Router) getBatchLabel(w http.ResponseWriter, req *http.Request) {
	batchNumber := mux.Vars(req)["id"]
	sess, err := r.batchSession(batchNumber)
	if err != nil {
		respondError(w, "", err)
		return
	}
	if sess.State != models.SessionCompleted {
		respondError(w, sess.State, &station.Error{
			Kind:    station.KindInvalidTransition,
			Message: "batch label is only available for completed sessions",
			Detail:  map[string]interface{}{"state": sess.State},
		})
		return
	}

	pdf, err := printer.GenerateBatchLabelPDF(printer.BatchLabel{
		BatchNumber: sess.Workorder.BatchNumber,
		BatchType:   sess.Workorder.BatchType,
		Workorder:   sess.Workorder.Name,
		SessionID:   sess.ID,
		CompletedAt: sess.UpdatedAt,
	})
	if err != nil {
		respondError(w, sess.State, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=batch_%s.pdf", batchNumber))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}
