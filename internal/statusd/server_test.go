package statusd

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/notisync/notisync/internal/model"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(testWriter{t}, "[statusd] ", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(50 * time.Millisecond)
	return server
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status: got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("undecodable health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health body: %+v", body)
	}
}

func TestStatusSnapshot(t *testing.T) {
	server := setupTestServer(t)

	server.Notify(model.SyncStatus{Activity: "calendar", Running: false, LastSync: time.Now()})
	server.Notify(model.SyncStatus{Activity: "tasks", Running: true})

	resp, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	var statuses map[string]model.SyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("undecodable status body: %v", err)
	}

	if len(statuses) != 2 {
		t.Fatalf("expected 2 activities, got %+v", statuses)
	}
	if !statuses["tasks"].Running {
		t.Errorf("tasks status: %+v", statuses["tasks"])
	}
}

func TestStatusKeepsLatestPerActivity(t *testing.T) {
	server := setupTestServer(t)

	server.Notify(model.SyncStatus{Activity: "calendar", Running: true})
	server.Notify(model.SyncStatus{Activity: "calendar", Running: false, Err: true})

	statuses := server.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 activity, got %+v", statuses)
	}
	if statuses["calendar"].Running || !statuses["calendar"].Err {
		t.Errorf("stale status kept: %+v", statuses["calendar"])
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	server := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	server.Notify(model.SyncStatus{Activity: "tasks", Running: true})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var status model.SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if status.Activity != "tasks" || !status.Running {
		t.Errorf("broadcast status: %+v", status)
	}
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	server := setupTestServer(t)

	server.Notify(model.SyncStatus{Activity: "calendar", LastSync: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	var status model.SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if status.Activity != "calendar" {
		t.Errorf("snapshot status: %+v", status)
	}
}

type fakeController struct {
	syncs   int
	paused  bool
	resumes int
}

func (f *fakeController) SyncNow()     { f.syncs++ }
func (f *fakeController) Pause()       { f.paused = true }
func (f *fakeController) Resume()      { f.paused = false; f.resumes++ }
func (f *fakeController) Paused() bool { return f.paused }

func TestControlEndpoints(t *testing.T) {
	server := NewServer(Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(testWriter{t}, "[statusd] ", 0),
	})
	calendar := &fakeController{}
	tasks := &fakeController{}
	server.AddController("calendar", calendar)
	server.AddController("tasks", tasks)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	time.Sleep(50 * time.Millisecond)

	post := func(path string) int {
		t.Helper()
		resp, err := http.Post("http://"+server.Addr()+path, "", nil)
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/sync?activity=calendar"); code != http.StatusNoContent {
		t.Errorf("sync status: %d", code)
	}
	if calendar.syncs != 1 || tasks.syncs != 0 {
		t.Errorf("targeted sync hit wrong controllers: %d %d", calendar.syncs, tasks.syncs)
	}

	if code := post("/pause"); code != http.StatusNoContent {
		t.Errorf("pause status: %d", code)
	}
	if !calendar.paused || !tasks.paused {
		t.Error("broadcast pause missed a controller")
	}

	post("/resume")
	if calendar.paused || tasks.paused {
		t.Error("resume missed a controller")
	}

	if code := post("/sync?activity=nope"); code != http.StatusNotFound {
		t.Errorf("unknown activity status: %d", code)
	}

	resp, err := http.Get("http://" + server.Addr() + "/sync")
	if err != nil {
		t.Fatalf("GET /sync failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET on control endpoint: %d", resp.StatusCode)
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
