package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"calibkit/internal/geometry"
	"calibkit/internal/pipeline"
	"calibkit/internal/storage"
)

func newTestServer(t *testing.T, store *storage.Store) (*httptest.Server, *Metrics) {
	t.Helper()
	m := NewMetrics()
	s := NewServer(":0", store, nil, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestSectionsPreview(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/cameras/r1/sections?naxis1=4200&naxis2=4210")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var res geometry.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Flipped || res.Camera != "R1" {
		t.Fatalf("unexpected preview %+v", res)
	}
	if got := res.Layout.Amp(1).Data.String(); got != "[10:2064,14:2075]" {
		t.Fatalf("DATASEC1 = %s", got)
	}

	resp, body = get(t, ts.URL+"/cameras/r1/sections?naxis1=4200&naxis2=4210&flip=false")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"flipped":false`) {
		t.Fatalf("unexpected unflipped preview %d: %s", resp.StatusCode, body)
	}
}

func TestSectionsErrors(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	cases := []struct {
		path string
		want int
	}{
		{"/cameras/b1/sections?naxis1=4200&naxis2=4210", http.StatusNotImplemented},
		{"/cameras/r1/sections?naxis1=abc&naxis2=4210", http.StatusBadRequest},
		{"/cameras/r1/sections?naxis1=4200", http.StatusBadRequest},
		{"/cameras/r1/sections?naxis1=4200&naxis2=4210&flip=maybe", http.StatusBadRequest},
	}
	for _, c := range cases {
		resp, body := get(t, ts.URL+c.path)
		if resp.StatusCode != c.want {
			t.Fatalf("%s: status %d, want %d (%s)", c.path, resp.StatusCode, c.want, body)
		}
	}
}

func TestRunsWithoutHistory(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, _ := get(t, ts.URL+"/runs")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("unexpected health %d %q", resp.StatusCode, body)
	}
}

func TestRunsAndMetrics(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	if err := store.RecordRunQueued(storage.RunRecord{ID: "rf-1", RunType: "reformat", Status: "queued", Camera: "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordRunResult("rf-1", "completed", map[string]any{"camera": "R1"}, ""); err != nil {
		t.Fatal(err)
	}

	ts, m := newTestServer(t, store)
	m.ObserveRun(pipeline.Job{ID: "rf-1", Type: pipeline.JobReformat}, "completed", 20*time.Millisecond)

	resp, body := get(t, ts.URL+"/runs?limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var runs []storage.RunRecord
	if err := json.Unmarshal([]byte(body), &runs); err != nil || len(runs) != 1 || runs[0].ID != "rf-1" {
		t.Fatalf("unexpected runs %s (%v)", body, err)
	}

	resp, body = get(t, ts.URL+"/runs/rf-1")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"camera":"R1"`) {
		t.Fatalf("unexpected meta %d: %s", resp.StatusCode, body)
	}
	resp, _ = get(t, ts.URL+"/runs/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	_, body = get(t, ts.URL+"/metrics")
	if !strings.Contains(body, `calibkit_runs_total{status="completed",type="reformat"} 1`) {
		t.Fatalf("run counter missing:\n%s", body)
	}
	if !strings.Contains(body, `calibkit_http_requests_total{route="/runs/{id}"}`) {
		t.Fatalf("route counter missing:\n%s", body)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestWebSocketReceivesRunEvents(t *testing.T) {
	s := NewServer(":0", nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.hub.publish(runEvent(pipeline.Result{
		Job:   pipeline.Job{ID: "rf-9", Type: pipeline.JobReformat},
		Error: geometry.ErrUnsupportedCamera,
	}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event["id"] != "rf-9" || event["type"] != "reformat" || event["error"] == nil {
		t.Fatalf("unexpected event %v", event)
	}
}
