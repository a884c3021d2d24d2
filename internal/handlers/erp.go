package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xelth-com/mixstationgo/internal/station"
)

// erpWorkorders lists manufacturing orders straight from the ERP, for
// reconciliation against the local template cache.
func (r *Router) erpWorkorders(w http.ResponseWriter, req *http.Request) {
	orders, err := r.erp.ListWorkorders()
	if err != nil {
		respondError(w, "", &station.Error{Kind: station.KindSyncFailed, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: map[string]interface{}{
		"workorders": orders,
	}})
}

// erpBOM fetches the bill of materials for one ERP workorder.
func (r *Router) erpBOM(w http.ResponseWriter, req *http.Request) {
	erpID, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "invalid workorder id",
		}})
		return
	}
	lines, err := r.erp.FetchBOM(erpID)
	if err != nil {
		respondError(w, "", &station.Error{Kind: station.KindSyncFailed, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: map[string]interface{}{
		"lines": lines,
	}})
}

type erpUpdateRequest struct {
	ERPID  int64                  `json:"erpId"`
	Values map[string]interface{} `json:"values"`
}

// erpUpdateWorkorder writes fields on an ERP workorder directly, the
// manual path for reconciling a failed sync job.
func (r *Router) erpUpdateWorkorder(w http.ResponseWriter, req *http.Request) {
	var body erpUpdateRequest
	if err := decodeBody(req, &body); err != nil || body.ERPID == 0 || len(body.Values) == 0 {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "erpId and values are required",
		}})
		return
	}
	if err := r.erp.UpdateWorkorder(body.ERPID, body.Values); err != nil {
		respondError(w, "", &station.Error{Kind: station.KindSyncFailed, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Status: "ok"})
}

type erpCreateBatchRequest struct {
	Values map[string]interface{} `json:"values"`
}

// erpCreateBatch creates a batch record in the ERP directly, the manual
// path for reconciling a failed create_batch job.
func (r *Router) erpCreateBatch(w http.ResponseWriter, req *http.Request) {
	var body erpCreateBatchRequest
	if err := decodeBody(req, &body); err != nil || len(body.Values) == 0 {
		respondJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: &apiError{
			Kind: "BadRequest", Message: "values is required",
		}})
		return
	}
	id, err := r.erp.CreateBatch(body.Values)
	if err != nil {
		respondError(w, "", &station.Error{Kind: station.KindSyncFailed, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: map[string]interface{}{
		"erpId": id,
	}})
}
