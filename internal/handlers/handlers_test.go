package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/xelth-com/mixstationgo/internal/config"
	"github.com/xelth-com/mixstationgo/internal/models"
	"github.com/xelth-com/mixstationgo/internal/station"
	"github.com/xelth-com/mixstationgo/internal/utils"
	"github.com/xelth-com/mixstationgo/internal/websocket"
)

// memRepo is an in-memory station.Repository.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	audits   []models.AuditEntry
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]models.Session)}
}

func (r *memRepo) SaveSession(s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memRepo) LoadActiveSessions() ([]*models.Session, error) {
	return nil, nil
}

func (r *memRepo) AppendAudit(e *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, *e)
	return nil
}

// memResolver resolves barcodes from a fixed table.
type memResolver struct {
	items map[string]string
}

func (r *memResolver) Resolve(barcode string) (string, string, error) {
	code, ok := r.items[barcode]
	if !ok {
		return "", "", station.NewUnknownItem(barcode, "barcode not in item catalog")
	}
	return code, "item " + code, nil
}

// fakeERP records submissions and acks them on demand.
type fakeERP struct {
	mu   sync.Mutex
	next uint
	jobs []models.ERPSyncJob
}

func (f *fakeERP) Submit(sessionID, operation string, payload map[string]interface{}) (*models.ERPSyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].SessionID == sessionID && f.jobs[i].Operation == operation {
			cp := f.jobs[i]
			return &cp, nil
		}
	}
	raw, _ := json.Marshal(payload)
	f.next++
	job := models.ERPSyncJob{
		ID: f.next, SessionID: sessionID, Operation: operation,
		Payload: raw, Status: models.SyncStatusPending, MaxRetries: 3,
	}
	f.jobs = append(f.jobs, job)
	return &job, nil
}

func (f *fakeERP) ProcessPendingJobs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].Status == models.SyncStatusPending {
			f.jobs[i].Status = models.SyncStatusAcked
		}
	}
}

func (f *fakeERP) JobsForSession(sessionID string) ([]models.ERPSyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ERPSyncJob
	for _, j := range f.jobs {
		if j.SessionID == sessionID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeERP) operations(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, j := range f.jobs {
		if j.SessionID == sessionID {
			out = append(out, j.Operation)
		}
	}
	return out
}

func (f *fakeERP) ListWorkorders() ([]map[string]interface{}, error) { return nil, nil }
func (f *fakeERP) FetchBOM(erpID int64) ([]models.BOMLine, error)   { return nil, nil }
func (f *fakeERP) UpdateWorkorder(erpID int64, values map[string]interface{}) error {
	return nil
}
func (f *fakeERP) CreateBatch(values map[string]interface{}) (int64, error) { return 7001, nil }

// memWorkorders serves templates from a map keyed by batch number.
type memWorkorders struct {
	templates map[string]*models.Workorder
}

func (s *memWorkorders) ByBatch(batchNumber, batchType string) (*models.Workorder, error) {
	wo, ok := s.templates[batchNumber]
	if !ok || wo.BatchType != batchType {
		return nil, station.NewNotFound("workorder", batchNumber)
	}
	return wo.Clone(), nil
}

func (s *memWorkorders) List() ([]models.Workorder, error) {
	var out []models.Workorder
	for _, wo := range s.templates {
		out = append(out, *wo)
	}
	return out, nil
}

// memSessions has no historical sessions.
type memSessions struct{}

func (memSessions) ByBatch(batchNumber string) (*models.Session, error) {
	return nil, station.NewNotFound("batch", batchNumber)
}

// memUsers holds one operator account.
type memUsers struct {
	user *models.UserAuth
}

func (s *memUsers) ByUsername(username string) (*models.UserAuth, error) {
	if s.user == nil || s.user.Username != username {
		return nil, station.NewNotFound("user", username)
	}
	return s.user, nil
}

func (s *memUsers) TouchLogin(*models.UserAuth) error { return nil }

// testEnv wires a router over in-memory collaborators.
type testEnv struct {
	router *Router
	erp    *fakeERP
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Env:       "test",
		Port:      "0",
		JWTSecret: "test-secret",
		StationID: "KNEADER-1",
	}

	repo := newMemRepo()
	store, err := station.NewStore(repo, nil)
	if err != nil {
		t.Fatal(err)
	}
	validator := station.NewValidator(&memResolver{items: map[string]string{
		"4001": "FLOUR",
		"4002": "WATER",
	}})

	hash, err := utils.HashPassword("shift-pass")
	if err != nil {
		t.Fatal(err)
	}
	user := &models.UserAuth{ID: "u-1", Username: "alice", Password: hash, Role: "operator", IsActive: true}

	templates := &memWorkorders{templates: map[string]*models.Workorder{
		"B-1001": {
			ERPID:       42,
			BatchNumber: "B-1001",
			BatchType:   models.BatchTypeCompound,
			Name:        "Dough base",
			Lines: []models.BOMLine{
				{ItemCode: "FLOUR", RequiredQty: 2},
				{ItemCode: "WATER", RequiredQty: 1},
			},
		},
	}}

	hub := websocket.NewHub()
	go hub.Run()

	erp := &fakeERP{}
	router := NewRouter(cfg, store, validator, erp, templates, memSessions{}, &memUsers{user: user}, hub)

	token, _, err := utils.GenerateTokens(user, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{router: router, erp: erp, token: token}
}

type envelope struct {
	Status string                 `json:"status"`
	State  string                 `json:"state"`
	Data   map[string]interface{} `json:"data"`
	Error  *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// do performs one authenticated request and decodes the envelope.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		json.NewDecoder(rec.Body).Decode(&env)
	}
	return rec.Code, env
}

// expect runs a request and asserts HTTP code and session state.
func (e *testEnv) expect(t *testing.T, method, path string, body interface{}, wantCode int, wantState string) envelope {
	t.Helper()
	code, env := e.do(t, method, path, body)
	if code != wantCode {
		t.Fatalf("%s %s: code = %d, want %d (error: %+v)", method, path, code, wantCode, env.Error)
	}
	if wantState != "" && env.State != wantState {
		t.Fatalf("%s %s: state = %s, want %s", method, path, env.State, wantState)
	}
	return env
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.token = "" // login is unauthenticated

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"username": "alice", "password": "shift-pass"})
	req := httptest.NewRequest("POST", "/api/login", &buf)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login code = %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if token, _ := resp["token"].(string); token == "" {
		t.Error("login response has no token")
	}

	buf.Reset()
	json.NewEncoder(&buf).Encode(map[string]string{"username": "alice", "password": "wrong"})
	req = httptest.NewRequest("POST", "/api/login", &buf)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password code = %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	code, _ := env.do(t, "GET", "/api/status", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", code)
	}
}

func TestStatusOnIdleStation(t *testing.T) {
	env := newTestEnv(t)
	env.expect(t, "GET", "/api/status", nil, http.StatusOK, models.SessionIdle)
}

func TestFullRunScenario(t *testing.T) {
	env := newTestEnv(t)

	resp := env.expect(t, "POST", "/api/load_workorder",
		map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	sessData, _ := resp.Data["session"].(map[string]interface{})
	sessionID, _ := sessData["id"].(string)
	if sessionID == "" {
		t.Fatal("load_workorder returned no session id")
	}

	// Stage one of each BOM item.
	env.expect(t, "POST", "/api/prescan", map[string]string{"barcode": "4001"}, http.StatusOK, models.SessionPrescanning)
	env.expect(t, "POST", "/api/prescan", map[string]string{"barcode": "4002"}, http.StatusOK, models.SessionPrescanning)
	env.expect(t, "POST", "/api/confirm_prescan", nil, http.StatusOK, models.SessionConfirmed)

	// First run scan implicitly starts the run.
	env.expect(t, "POST", "/api/scan", map[string]string{"barcode": "4001"}, http.StatusOK, models.SessionRunning)
	env.expect(t, "POST", "/api/scan", map[string]string{"barcode": "4001"}, http.StatusOK, models.SessionRunning)
	env.expect(t, "POST", "/api/scan", map[string]string{"barcode": "4002"}, http.StatusOK, models.SessionRunning)

	// A third flour scan exceeds the required quantity.
	code, env2 := env.do(t, "POST", "/api/scan", map[string]string{"barcode": "4001"})
	if code != http.StatusBadRequest || env2.Error == nil || env2.Error.Kind != string(station.KindDuplicateOrExcess) {
		t.Fatalf("excess scan: code=%d error=%+v", code, env2.Error)
	}

	env.expect(t, "POST", "/api/confirm_completion", nil, http.StatusOK, models.SessionCompleting)
	env.expect(t, "POST", "/api/save_workorder", nil, http.StatusOK, models.SessionCompleted)

	ops := env.erp.operations(sessionID)
	if len(ops) != 2 || ops[0] != models.SyncOpUpdateWorkorder || ops[1] != models.SyncOpCreateBatch {
		t.Errorf("queued operations = %v, want [update_workorder create_batch]", ops)
	}

	// Replaying the final call repeats the answer without new jobs.
	env.expect(t, "POST", "/api/save_workorder", map[string]string{"sessionId": sessionID}, http.StatusOK, models.SessionCompleted)
	if ops := env.erp.operations(sessionID); len(ops) != 2 {
		t.Errorf("replay queued extra jobs: %v", ops)
	}

	// The station is free again.
	env.expect(t, "GET", "/api/status", nil, http.StatusOK, models.SessionIdle)
}

func TestLoadWorkorderReplayAndConflict(t *testing.T) {
	env := newTestEnv(t)

	first := env.expect(t, "POST", "/api/load_workorder",
		map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)

	// The identical retry is answered with the existing session.
	replay := env.expect(t, "POST", "/api/load_workorder",
		map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	firstSess, _ := first.Data["session"].(map[string]interface{})
	replaySess, _ := replay.Data["session"].(map[string]interface{})
	if firstSess["id"] != replaySess["id"] {
		t.Error("replayed load_workorder created a second session")
	}

	// A different workorder conflicts while the first is active.
	code, resp := env.do(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-9999"})
	if code != http.StatusConflict || resp.Error == nil || resp.Error.Kind != string(station.KindConflict) {
		t.Errorf("conflicting load: code=%d error=%+v", code, resp.Error)
	}
}

func TestLoadUnknownWorkorderIs404(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-9999"})
	if code != http.StatusNotFound || resp.Error == nil || resp.Error.Kind != string(station.KindNotFound) {
		t.Errorf("unknown workorder: code=%d error=%+v", code, resp.Error)
	}
}

func TestConfirmPrescanIncomplete(t *testing.T) {
	env := newTestEnv(t)
	env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	env.expect(t, "POST", "/api/prescan", map[string]string{"barcode": "4002"}, http.StatusOK, models.SessionPrescanning)

	code, resp := env.do(t, "POST", "/api/confirm_prescan", nil)
	if code != http.StatusBadRequest || resp.Error == nil || resp.Error.Kind != string(station.KindIncompletePrescan) {
		t.Fatalf("incomplete confirm: code=%d error=%+v", code, resp.Error)
	}
	// The session stays in PRESCANNING.
	env.expect(t, "GET", "/api/status", nil, http.StatusOK, models.SessionPrescanning)
}

func TestAbortResumeAndCompleteAbort(t *testing.T) {
	env := newTestEnv(t)

	resp := env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	sessData, _ := resp.Data["session"].(map[string]interface{})
	sessionID, _ := sessData["id"].(string)

	env.expect(t, "POST", "/api/prescan", map[string]string{"barcode": "4001"}, http.StatusOK, models.SessionPrescanning)
	env.expect(t, "POST", "/api/prescan", map[string]string{"barcode": "4002"}, http.StatusOK, models.SessionPrescanning)
	env.expect(t, "POST", "/api/confirm_prescan", nil, http.StatusOK, models.SessionConfirmed)
	env.expect(t, "POST", "/api/start_run", nil, http.StatusOK, models.SessionRunning)

	env.expect(t, "POST", "/api/abort", map[string]string{"reason": "motor jam"}, http.StatusOK, models.SessionAborting)
	// Abort retries are satisfied, not rejected.
	env.expect(t, "POST", "/api/abort", nil, http.StatusOK, models.SessionAborting)

	env.expect(t, "POST", "/api/resume", nil, http.StatusOK, models.SessionRunning)

	env.expect(t, "POST", "/api/abort", map[string]string{"reason": "motor jam again"}, http.StatusOK, models.SessionAborting)
	env.expect(t, "POST", "/api/complete_abort", nil, http.StatusOK, models.SessionAbortComplete)

	ops := env.erp.operations(sessionID)
	if len(ops) != 1 || ops[0] != models.SyncOpUpdateWorkorder {
		t.Errorf("queued operations = %v, want [update_workorder]", ops)
	}

	// Replay after completion repeats the terminal answer.
	env.expect(t, "POST", "/api/complete_abort", map[string]string{"sessionId": sessionID}, http.StatusOK, models.SessionAbortComplete)
}

func TestCancelFromAnyStateAndWhenIdle(t *testing.T) {
	env := newTestEnv(t)

	// Cancel with nothing loaded is already satisfied.
	env.expect(t, "POST", "/api/cancel", nil, http.StatusOK, models.SessionIdle)

	env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	env.expect(t, "POST", "/api/cancel", nil, http.StatusOK, models.SessionCancelled)

	// Station is free to load again, and reset behaves the same way.
	env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	env.expect(t, "POST", "/api/reset", nil, http.StatusOK, models.SessionIdle)
	env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
}

func TestCheckTransitions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.expect(t, "GET", "/api/check_transitions", nil, http.StatusOK, models.SessionIdle)
	events, _ := resp.Data["legalEvents"].([]interface{})
	if len(events) != 1 || events[0] != "load_workorder" {
		t.Errorf("idle legal events = %v, want [load_workorder]", events)
	}

	env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)
	resp = env.expect(t, "GET", "/api/check_transitions", nil, http.StatusOK, models.SessionLoaded)
	events, _ = resp.Data["legalEvents"].([]interface{})
	want := map[string]bool{"prescan_item": true, "cancel": true, "reset": true}
	if len(events) != len(want) {
		t.Fatalf("loaded legal events = %v", events)
	}
	for _, e := range events {
		if !want[e.(string)] {
			t.Errorf("unexpected legal event %v", e)
		}
	}
}

func TestInvalidTransitionIs409(t *testing.T) {
	env := newTestEnv(t)
	env.expect(t, "POST", "/api/load_workorder", map[string]string{"batchNumber": "B-1001"}, http.StatusOK, models.SessionLoaded)

	code, resp := env.do(t, "POST", "/api/scan", map[string]string{"barcode": "4001"})
	if code != http.StatusConflict || resp.Error == nil || resp.Error.Kind != string(station.KindInvalidTransition) {
		t.Errorf("scan while loaded: code=%d error=%+v", code, resp.Error)
	}
}
