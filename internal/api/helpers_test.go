package api

import (
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"

	"github.com/tandemapp/tandem-server/internal/backoff"
	"github.com/tandemapp/tandem-server/internal/config"
	"github.com/tandemapp/tandem-server/internal/records"
	"github.com/tandemapp/tandem-server/internal/store"
	"github.com/tandemapp/tandem-server/internal/sync"
)

// sharedDB is the couple's shared database in the fake records service.
const sharedDB = "db-shared"

// testEnvelope mirrors the response envelope for decoding in tests.
type testEnvelope[T any] struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

// === Fake records service ===

// wireRecord is a record as the fake service stores it: raw fields plus
// the database it lives in.
type wireRecord struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"created_time"`
	Archived    bool           `json:"archived,omitempty"`
	Fields      map[string]any `json:"fields"`

	Database string `json:"-"`
}

// wireFilter matches the query filter the client sends.
type wireFilter struct {
	SourcePrivateID string `json:"source_private_id"`
	SourceUserID    string `json:"source_user_id"`
	PartnerRelevant *bool  `json:"partner_relevant"`
}

func (fl *wireFilter) matches(fields map[string]any) bool {
	if fl == nil {
		return true
	}
	if fl.SourcePrivateID != "" && fields["source_private_id"] != fl.SourcePrivateID {
		return false
	}
	if fl.SourceUserID != "" && fields["source_user_id"] != fl.SourceUserID {
		return false
	}
	if fl.PartnerRelevant != nil {
		b, ok := fields["partner_relevant"].(bool)
		if !ok || b != *fl.PartnerRelevant {
			return false
		}
	}
	return true
}

// fakeRecordsService is an in-memory stand-in for the hosted records
// API: per-database records, merge semantics on PATCH, filterable
// queries, soft-delete via archive. Queries return archived rows the
// way the real service does; filtering them is the client's job.
type fakeRecordsService struct {
	srv *httptest.Server

	mu       gosync.Mutex
	nextID   int
	records  map[string]*wireRecord
	order    []string
	pingDown bool
}

func newFakeRecordsService(t *testing.T) *fakeRecordsService {
	t.Helper()

	f := &fakeRecordsService{records: make(map[string]*wireRecord)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ping", f.handlePing)
	mux.HandleFunc("POST /v1/databases/{db}/records", f.handleCreate)
	mux.HandleFunc("POST /v1/databases/{db}/query", f.handleQuery)
	mux.HandleFunc("GET /v1/records/{id}", f.handleGet)
	mux.HandleFunc("PATCH /v1/records/{id}", f.handlePatch)
	mux.HandleFunc("POST /v1/records/{id}/archive", f.handleArchive)

	f.srv = httptest.NewServer(requireBearer(mux))
	t.Cleanup(f.srv.Close)
	return f
}

// requireBearer rejects calls without a bearer token, as the hosted
// service would. Ping is the one unauthenticated endpoint.
func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ping" && !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeRecordsService) handlePing(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	down := f.pingDown
	f.mu.Unlock()

	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeRecordsService) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields map[string]any `json:"fields"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	f.mu.Lock()
	f.nextID++
	rec := &wireRecord{
		ID:          fmt.Sprintf("rec-%d", f.nextID),
		CreatedTime: time.Now().UTC(),
		Fields:      req.Fields,
		Database:    r.PathValue("db"),
	}
	f.records[rec.ID] = rec
	f.order = append(f.order, rec.ID)
	body, _ := json.Marshal(rec)
	f.mu.Unlock()

	writeBody(w, body)
}

func (f *fakeRecordsService) handleGet(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	rec, ok := f.records[r.PathValue("id")]
	var body []byte
	if ok {
		body, _ = json.Marshal(rec)
	}
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeBody(w, body)
}

func (f *fakeRecordsService) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields map[string]any `json:"fields"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	f.mu.Lock()
	rec, ok := f.records[r.PathValue("id")]
	var body []byte
	if ok {
		// Merge semantics: omitted fields keep their previous value.
		for k, v := range req.Fields {
			rec.Fields[k] = v
		}
		body, _ = json.Marshal(rec)
	}
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeBody(w, body)
}

func (f *fakeRecordsService) handleArchive(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	rec, ok := f.records[r.PathValue("id")]
	if ok {
		rec.Archived = true
	}
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeBody(w, []byte("{}"))
}

func (f *fakeRecordsService) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter   *wireFilter `json:"filter"`
		PageSize int         `json:"page_size"`
		Cursor   string      `json:"cursor"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	db := r.PathValue("db")

	f.mu.Lock()
	matches := make([]*wireRecord, 0)
	for _, id := range f.order {
		rec := f.records[id]
		if rec.Database != db || !req.Filter.matches(rec.Fields) {
			continue
		}
		matches = append(matches, rec)
	}
	body, _ := json.Marshal(map[string]any{
		"records":  matches,
		"has_more": false,
	})
	f.mu.Unlock()

	writeBody(w, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(r.Body)
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeBody(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// seed inserts a record directly, the way the mobile app writes straight
// to the remote database without going through this server.
func (f *fakeRecordsService) seed(db string, fields map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("rec-%d", f.nextID)
	f.records[id] = &wireRecord{
		ID:          id,
		CreatedTime: time.Now().UTC(),
		Fields:      fields,
		Database:    db,
	}
	f.order = append(f.order, id)
	return id
}

// record returns a snapshot of one stored record.
func (f *fakeRecordsService) record(id string) (wireRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return wireRecord{}, false
	}
	return snapshot(rec), true
}

// liveIn returns snapshots of the live records in one database, in
// creation order.
func (f *fakeRecordsService) liveIn(db string) []wireRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []wireRecord
	for _, id := range f.order {
		rec := f.records[id]
		if rec.Database != db || rec.Archived {
			continue
		}
		out = append(out, snapshot(rec))
	}
	return out
}

// setPingDown toggles the health of the ping endpoint.
func (f *fakeRecordsService) setPingDown(down bool) {
	f.mu.Lock()
	f.pingDown = down
	f.mu.Unlock()
}

func snapshot(rec *wireRecord) wireRecord {
	snap := *rec
	snap.Fields = make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		snap.Fields[k] = v
	}
	return snap
}

// privateFields builds the raw field map of a private record as the
// mobile app writes it.
func privateFields(title string, start time.Time, relevant bool) map[string]any {
	return map[string]any{
		"title":               title,
		"start":               start.Format(time.RFC3339),
		"partner_relevant":    relevant,
		"synced_to_shared_id": "",
	}
}

// mirrorFields builds the raw field map of a shared mirror.
func mirrorFields(title string, start time.Time, sourceID, userID string) map[string]any {
	return map[string]any{
		"title":             title,
		"start":             start.Format(time.RFC3339),
		"source_private_id": sourceID,
		"source_user_id":    userID,
	}
}

// === Test server ===

// testServer wraps the API server with its backing fakes. Everything is
// real except the records service, which runs in-process.
type testServer struct {
	*Server
	api     humatest.TestAPI
	fake    *fakeRecordsService
	cleanup func()
}

// setupTestServer wires a server against a fresh registry and a fake
// records service. The sync engine runs with a near-zero retry schedule
// so failure paths do not stall the tests.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	fake := newFakeRecordsService(t)

	registry, err := store.New(filepath.Join(t.TempDir(), "registry"), nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	opener := records.NewOpener(records.Config{
		BaseURL: fake.srv.URL,
		Timeout: 2 * time.Second,
		RPS:     1000,
		Burst:   1000,
	}, logger)

	engine := sync.NewEngine(sync.NewOpener(opener), registry, sync.Config{
		Policy:  backoff.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, Factor: 1},
		Timeout: 2 * time.Second,
	}, logger)

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		Sync:   config.SyncConfig{Timeout: 5 * time.Second},
	}

	s := NewServer(cfg, registry, opener, engine, logger)

	cleanup := func() {
		s.Close()
		opener.Close()
		_ = registry.Close()
	}

	return &testServer{
		Server:  s,
		api:     humatest.Wrap(t, s.api),
		fake:    fake,
		cleanup: cleanup,
	}
}

// createUser registers a user through the API. A paired user gets the
// couple's shared database; an unpaired one syncs nothing.
func (ts *testServer) createUser(t *testing.T, name string, paired bool) UserResponse {
	t.Helper()

	lower := strings.ToLower(name)
	body := map[string]any{
		"display_name":        name,
		"private_database_id": "db-" + lower,
		"private_token":       "tok-" + lower,
		"timezone":            "UTC",
	}
	if paired {
		body["shared_database_id"] = sharedDB
		body["shared_access"] = "owner"
	}

	resp := ts.api.Post("/api/v1/users", body)
	require.Equal(t, http.StatusOK, resp.Code, "create user failed: %s", resp.Body.String())

	var envelope testEnvelope[UserResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)
	require.NotEmpty(t, envelope.Data.ID)

	return envelope.Data
}

// createRecord adds a record through the API.
func (ts *testServer) createRecord(t *testing.T, userID string, body map[string]any) RecordResponse {
	t.Helper()

	resp := ts.api.Post("/api/v1/users/"+userID+"/records", body)
	require.Equal(t, http.StatusOK, resp.Code, "create record failed: %s", resp.Body.String())

	var envelope testEnvelope[RecordResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	return envelope.Data
}

// waitFor polls cond until it holds. Mirror propagation after a create
// runs in the background; against the in-process fake it completes in
// microseconds, so the deadline only trips when something is broken.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
