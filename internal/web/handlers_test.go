package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/docwatch/internal/db"
	"github.com/hpungsan/docwatch/internal/ops"
	"github.com/hpungsan/docwatch/internal/watch"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeWatcher struct {
	status watch.Status
	hub    *watch.Hub
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		status: watch.Status{
			State:      watch.StateIdle,
			Pending:    2,
			Repository: "/srv/docs",
			Collection: "handbook",
			Debounce:   60,
		},
		hub: watch.NewHub(),
	}
}

func (f *fakeWatcher) Status() watch.Status { return f.status }
func (f *fakeWatcher) Subscribe() (<-chan watch.Event, func()) { return f.hub.Subscribe() }

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// seedRun stores a finished run and returns its ID.
func seedRun(t *testing.T, database *sql.DB, id, collection string, succeeded bool) string {
	t.Helper()
	ctx := context.Background()
	if err := db.InsertRun(ctx, database, &db.Run{
		ID:         id,
		Collection: collection,
		Trigger:    "debounce",
		Files:      []string{"/srv/docs/intro.md"},
		StartedAt:  baseTime,
	}); err != nil {
		t.Fatalf("seed run %q: %v", id, err)
	}
	outcome := db.Outcome{Succeeded: succeeded, Output: "indexed 1 document", FinishedAt: baseTime.Add(2 * time.Second), Duration: 2 * time.Second}
	if !succeeded {
		outcome.FailedStep = "index"
		outcome.Error = "INDEXING_FAILED: index step failed"
	}
	if err := db.FinishRun(ctx, database, id, outcome); err != nil {
		t.Fatalf("finish run %q: %v", id, err)
	}
	return id
}

func newTestHandler(database *sql.DB, watcher StatusSource) http.Handler {
	return NewHandler(Options{DB: database, Watcher: watcher, Version: "test"})
}

func get(t *testing.T, handler http.Handler, target string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// --- Dashboard ---

func TestHandleDashboard(t *testing.T) {
	database := setupDB(t)
	seedRun(t, database, "01JHANDBOOK", "handbook", true)
	seedRun(t, database, "01JOTHER", "api", true)
	handler := newTestHandler(database, newFakeWatcher())

	w := get(t, handler, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<h1>handbook</h1>") {
		t.Error("dashboard should show the collection")
	}
	if !strings.Contains(body, `id="state" class="badge ok">idle`) {
		t.Error("dashboard should show the watcher state")
	}
	if !strings.Contains(body, "01JHANDBOOK") {
		t.Error("dashboard should list the watcher's runs")
	}
	if strings.Contains(body, "01JOTHER") {
		t.Error("dashboard should not list other collections by default")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

func TestHandleDashboard_WithoutWatcherOrDB(t *testing.T) {
	w := get(t, newTestHandler(nil, nil), "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Run history is not available") {
		t.Error("expected unavailable history notice")
	}
}

func TestHandleDashboard_EmptyLedger(t *testing.T) {
	w := get(t, newTestHandler(setupDB(t), newFakeWatcher()), "/", "")
	if !strings.Contains(w.Body.String(), "No runs recorded yet") {
		t.Error("expected empty ledger notice")
	}
}

// --- Status ---

func TestHandleStatus(t *testing.T) {
	w := get(t, newTestHandler(nil, newFakeWatcher()), "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["state"] != "idle" || got["pending"] != float64(2) || got["collection"] != "handbook" {
		t.Errorf("unexpected status body %v", got)
	}
}

func TestHandleStatus_NoWatcher(t *testing.T) {
	w := get(t, newTestHandler(nil, nil), "/status", "application/json")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

// --- Runs ---

func TestHandleRuns(t *testing.T) {
	database := setupDB(t)
	seedRun(t, database, "01JA", "handbook", true)
	seedRun(t, database, "01JB", "handbook", false)
	seedRun(t, database, "01JC", "api", true)
	handler := newTestHandler(database, newFakeWatcher())

	var out ops.ListOutput
	w := get(t, handler, "/runs?status=failed", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != "01JB" {
		t.Errorf("Items = %+v, want only 01JB", out.Items)
	}

	w = get(t, handler, "/runs?collection=all&limit=abc", "")
	out = ops.ListOutput{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Pagination.Total != 3 {
		t.Errorf("Total = %d, want 3 across collections", out.Pagination.Total)
	}
	if out.Pagination.Limit != ops.DefaultListLimit {
		t.Errorf("invalid limit should fall back to default, got %d", out.Pagination.Limit)
	}
}

func TestHandleRuns_InvalidStatus(t *testing.T) {
	w := get(t, newTestHandler(setupDB(t), nil), "/runs?status=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"INVALID_REQUEST"`) {
		t.Errorf("expected JSON error body, got %s", w.Body.String())
	}
}

// --- Run detail ---

func TestHandleRunDetail_HTML(t *testing.T) {
	database := setupDB(t)
	id := seedRun(t, database, "01JFAILED", "handbook", false)

	w := get(t, newTestHandler(database, nil), "/runs/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<h1>Run 01JFAILED</h1>") {
		t.Error("expected rendered report heading")
	}
	if !strings.Contains(body, "indexed 1 document") {
		t.Error("expected captured output in report")
	}
}

func TestHandleRunDetail_JSON(t *testing.T) {
	database := setupDB(t)
	id := seedRun(t, database, "01JOK", "handbook", true)

	w := get(t, newTestHandler(database, nil), "/runs/"+id, "application/json")
	var out ops.FetchOutput
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != id || out.Status != db.StatusSucceeded || out.Report == "" {
		t.Errorf("unexpected run %+v", out)
	}
}

func TestHandleRunDetail_NotFound(t *testing.T) {
	handler := newTestHandler(setupDB(t), nil)

	w := get(t, handler, "/runs/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "run not found: missing") {
		t.Error("expected error page message")
	}

	w = get(t, handler, "/runs/missing", "application/json")
	if !strings.Contains(w.Body.String(), `"code":"NOT_FOUND"`) {
		t.Errorf("expected JSON error, got %s", w.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	w := get(t, newTestHandler(nil, nil), "/static/style.css", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

// --- Events ---

func TestHandleEvents(t *testing.T) {
	watcher := newFakeWatcher()
	srv := httptest.NewServer(newTestHandler(nil, watcher))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first statusMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if first.Type != "status" || first.Status.Collection != "handbook" {
		t.Errorf("unexpected first message %+v", first)
	}

	watcher.hub.Publish(watch.Event{Type: watch.EventRunStarted, State: watch.StateRunning, RunID: "01JLIVE"})
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event["type"] != "run_started" || event["state"] != "running" || event["run_id"] != "01JLIVE" {
		t.Errorf("unexpected event %v", event)
	}

	watcher.hub.Close()
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestHandleEvents_RejectsForeignOrigin(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(nil, newFakeWatcher()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	cases := []struct {
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"", "localhost:8765", nil, true},
		{"http://localhost:8765", "localhost:8765", nil, true},
		{"http://evil.example", "localhost:8765", nil, false},
		{"http://dash.internal", "localhost:8765", []string{"dash.internal"}, true},
		{"http://[::1]:8765", "[::1]:8765", nil, true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := isOriginAllowed(req, tc.allowed); got != tc.want {
			t.Errorf("isOriginAllowed(%q, host %q) = %v, want %v", tc.origin, tc.host, got, tc.want)
		}
	}
}

func TestParseIntParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/runs?limit=5&offset=x", nil)
	if got := parseIntParam(req, "limit", 20); got != 5 {
		t.Errorf("limit = %d, want 5", got)
	}
	if got := parseIntParam(req, "offset", 0); got != 0 {
		t.Errorf("offset = %d, want fallback 0", got)
	}
	if got := parseIntParam(req, "missing", 7); got != 7 {
		t.Errorf("missing = %d, want 7", got)
	}
}
