package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"tickq/internal/eventbus"
	"tickq/internal/history"
	"tickq/internal/task/queue"
	"tickq/pkg/clock"
	"tickq/pkg/logx"
)

func newTestService(t *testing.T, archive *history.Archive) (*Service, *queue.Queue, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(0)
	q := queue.New(queue.Config{}, clk, logx.Nop(), eventbus.New())
	return New(Config{Listen: "127.0.0.1:0"}, q, archive, logx.Nop()), q, clk
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t, nil)
	rec := get(t, s.routes(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["state"] != "idle" {
		t.Fatalf("body = %v", body)
	}
}

func TestQueueSnapshot(t *testing.T) {
	t.Parallel()

	s, q, clk := newTestService(t, nil)
	if _, err := q.Enqueue(queue.Spec{Action: func() error { return nil }}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(1)
	q.Tick()

	rec := get(t, s.routes(), "/queue")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap queue.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Completed != 1 {
		t.Fatalf("completed = %d, want 1", snap.Completed)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	a, err := history.Open(history.Config{Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	a.Record(queue.TaskRecord{ID: "t-1", Status: queue.StatusCompleted})

	s, _, _ := newTestService(t, a)
	rec := get(t, s.routes(), "/history?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "t-1" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t, nil)
	if rec := get(t, s.routes(), "/history"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHistoryBadLimit(t *testing.T) {
	t.Parallel()

	a, err := history.Open(history.Config{Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })

	s, _, _ := newTestService(t, a)
	if rec := get(t, s.routes(), "/history?limit=0"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
