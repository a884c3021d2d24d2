package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/xelth-com/mixstationgo/internal/config"
	"github.com/xelth-com/mixstationgo/internal/middleware"
	"github.com/xelth-com/mixstationgo/internal/models"
	"github.com/xelth-com/mixstationgo/internal/station"
	ws "github.com/xelth-com/mixstationgo/internal/websocket"
)

// ERPService is the synchronizer surface the handlers dispatch to.
type ERPService interface {
	Submit(sessionID, operation string, payload map[string]interface{}) (*models.ERPSyncJob, error)
	ProcessPendingJobs()
	JobsForSession(sessionID string) ([]models.ERPSyncJob, error)
	ListWorkorders() ([]map[string]interface{}, error)
	FetchBOM(erpID int64) ([]models.BOMLine, error)
	UpdateWorkorder(erpID int64, values map[string]interface{}) error
	CreateBatch(values map[string]interface{}) (int64, error)
}

// WorkorderSource serves workorder templates for load_workorder and the
// read-only listings.
type WorkorderSource interface {
	ByBatch(batchNumber, batchType string) (*models.Workorder, error)
	List() ([]models.Workorder, error)
}

// SessionSource reads historical (terminal) sessions the in-memory store
// no longer tracks.
type SessionSource interface {
	ByBatch(batchNumber string) (*models.Session, error)
}

// UserStore looks up operator accounts for login.
type UserStore interface {
	ByUsername(username string) (*models.UserAuth, error)
	TouchLogin(user *models.UserAuth) error
}

// Router wraps the mux router and the station's collaborators.
type Router struct {
	*mux.Router
	cfg        *config.Config
	store      *station.Store
	validator  *station.Validator
	erp        ERPService
	workorders WorkorderSource
	sessions   SessionSource
	users      UserStore
	hub        *ws.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(cfg *config.Config, store *station.Store, validator *station.Validator, erp ERPService, workorders WorkorderSource, sessions SessionSource, users UserStore, hub *ws.Hub) *Router {
	r := &Router{
		Router:     mux.NewRouter(),
		cfg:        cfg,
		store:      store,
		validator:  validator,
		erp:        erp,
		workorders: workorders,
		sessions:   sessions,
		users:      users,
		hub:        hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth
	r.HandleFunc("/api/login", r.login).Methods("POST")

	// Protected API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))

	api.HandleFunc("/status", r.getStatus).Methods("GET")
	api.HandleFunc("/check_transitions", r.checkTransitions).Methods("GET")

	api.HandleFunc("/load_workorder", r.loadWorkorder).Methods("POST")
	api.HandleFunc("/prescan", r.prescanItem).Methods("POST")
	api.HandleFunc("/confirm_prescan", r.confirmPrescan).Methods("POST")
	api.HandleFunc("/start_run", r.startRun).Methods("POST")
	api.HandleFunc("/scan", r.scanItem).Methods("POST")

	api.HandleFunc("/abort", r.abortProcess).Methods("POST")
	api.HandleFunc("/resume", r.resumeProcess).Methods("POST")
	api.HandleFunc("/complete_abort", r.completeAbort).Methods("POST")

	api.HandleFunc("/cancel", r.cancelProcess).Methods("POST")
	api.HandleFunc("/reset", r.resetProcess).Methods("POST")

	api.HandleFunc("/confirm_completion", r.confirmCompletion).Methods("POST")
	api.HandleFunc("/save_workorder", r.saveWorkorder).Methods("POST")

	api.HandleFunc("/workorders", r.listWorkorders).Methods("GET")
	api.HandleFunc("/batches/{id}", r.getBatch).Methods("GET")
	api.HandleFunc("/batches/{id}/label", r.getBatchLabel).Methods("GET")

	// ERP collaborator interface
	api.HandleFunc("/erp/workorders", r.erpWorkorders).Methods("GET")
	api.HandleFunc("/erp/bom/{id}", r.erpBOM).Methods("GET")
	api.HandleFunc("/erp/update_workorder", r.erpUpdateWorkorder).Methods("POST")
	api.HandleFunc("/erp/create_batch", r.erpCreateBatch).Methods("POST")

	// Live status stream for operator panels
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"station":        r.cfg.StationID,
		"activeSessions": len(r.store.ListActive()),
	})
}

// apiError is the structured error half of the response envelope.
type apiError struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

// apiResponse is the uniform protocol envelope.
type apiResponse struct {
	Status string      `json:"status"` // ok | error
	State  string      `json:"state,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  *apiError   `json:"error,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondOK sends a success envelope.
func respondOK(w http.ResponseWriter, state string, data interface{}) {
	respondJSON(w, http.StatusOK, apiResponse{Status: "ok", State: state, Data: data})
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(w http.ResponseWriter, state string, err error) {
	kind := station.KindOf(err)

	code := http.StatusInternalServerError
	switch kind {
	case station.KindInvalidTransition, station.KindConflict:
		code = http.StatusConflict
	case station.KindUnknownItem, station.KindDuplicateOrExcess, station.KindIncompletePrescan:
		code = http.StatusBadRequest
	case station.KindUnauthorized:
		code = http.StatusUnauthorized
	case station.KindNotFound:
		code = http.StatusNotFound
	case station.KindSyncFailed:
		code = http.StatusBadGateway
	}

	resp := apiResponse{Status: "error", State: state, Error: &apiError{Kind: string(kind), Message: err.Error()}}
	var serr *station.Error
	if errors.As(err, &serr) {
		resp.Error.Message = serr.Message
		resp.Error.Detail = serr.Detail
	}
	respondJSON(w, code, resp)
}

// decodeBody decodes a JSON body, tolerating an empty one: most control
// operations carry no parameters.
func decodeBody(req *http.Request, v interface{}) error {
	if req.Body == nil {
		return nil
	}
	err := json.NewDecoder(req.Body).Decode(v)
	if err != nil && err.Error() == "EOF" {
		return nil
	}
	return err
}
