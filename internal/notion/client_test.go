package notion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notisync/notisync/internal/model"
)

func setupTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		Token:      "test-token",
		CalendarDB: "cal-db",
		TasksDB:    "tasks-db",
		ProjectsDB: "proj-db",
		Timezone:   "Europe/Rome",
		BaseURL:    srv.URL,
		Logger:     log.New(testWriter{t}, "[notion] ", 0),
	})
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("undecodable request body: %v\n%s", err, raw)
	}
	return body
}

func TestExistsEventQueriesByID(t *testing.T) {
	var gotFilter map[string]any
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/databases/cal-db/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotFilter = decodeBody(t, r)["filter"].(map[string]any)
		w.Write([]byte(`{"results": [{"id": "page-1"}]}`))
	})

	pageID, err := client.ExistsEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("ExistsEvent failed: %v", err)
	}
	if pageID != "page-1" {
		t.Errorf("page id: got %q", pageID)
	}
	if gotFilter["property"] != "Id" {
		t.Errorf("filter property: %+v", gotFilter)
	}
	equals := gotFilter["rich_text"].(map[string]any)["equals"]
	if equals != "evt-1" {
		t.Errorf("filter equals: got %v", equals)
	}
}

func TestExistsTaskMissingReturnsEmpty(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	})

	pageID, err := client.ExistsTask(context.Background(), "t-404")
	if err != nil {
		t.Fatalf("ExistsTask failed: %v", err)
	}
	if pageID != "" {
		t.Errorf("expected empty page id, got %q", pageID)
	}
}

func TestCreateEventProperties(t *testing.T) {
	var got map[string]any
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/databases/proj-db/query":
			w.Write([]byte(`{"results": [
				{"id": "proj-work", "properties": {"Name": {"title": [{"text": {"content": "Work"}}]}}}
			]}`))
		case "/pages":
			got = decodeBody(t, r)
			w.Write([]byte(`{"id": "new-page"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if err := client.RefreshProjects(context.Background()); err != nil {
		t.Fatalf("RefreshProjects failed: %v", err)
	}

	start := time.Date(2024, time.June, 10, 14, 0, 0, 0, time.UTC)
	ev := model.Event{
		ID:      "evt-7",
		Subject: "Design review",
		Start:   start,
		End:     start.Add(90 * time.Minute),
		Project: "Work",
		Body:    "agenda attached",
	}
	if err := client.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	props := got["properties"].(map[string]any)

	date := props["Date"].(map[string]any)["date"].(map[string]any)
	if date["start"] != "2024-06-10" {
		t.Errorf("Date: got %v", date["start"])
	}

	interval := props["Interval"].(map[string]any)["date"].(map[string]any)
	if interval["time_zone"] != "Europe/Rome" {
		t.Errorf("Interval time zone: got %v", interval["time_zone"])
	}

	if hours := props["Hours"].(map[string]any)["number"]; hours != 1.5 {
		t.Errorf("Hours: got %v", hours)
	}

	relation := props["Project"].(map[string]any)["relation"].([]any)
	if len(relation) != 1 || relation[0].(map[string]any)["id"] != "proj-work" {
		t.Errorf("Project relation: got %+v", relation)
	}

	children := got["children"].([]any)
	if len(children) != 1 || children[0].(map[string]any)["type"] != "callout" {
		t.Errorf("body child block: got %+v", children)
	}
	if got["icon"] == nil {
		t.Error("page icon missing")
	}
}

func TestTaskPriorityInversion(t *testing.T) {
	var got map[string]any
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		w.Write([]byte(`{"id": "p"}`))
	})

	task := model.Task{ID: "t1", Content: "Urgent thing", Priority: 4}
	if err := client.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	props := got["properties"].(map[string]any)
	sel := props["Priority"].(map[string]any)["select"].(map[string]any)
	if sel["name"] != "1" {
		t.Errorf("priority 4 must invert to select 1, got %v", sel["name"])
	}
}

func TestTaskPriorityOneHasNoSelect(t *testing.T) {
	var got map[string]any
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		w.Write([]byte(`{"id": "p"}`))
	})

	task := model.Task{ID: "t2", Content: "Normal thing", Priority: 1}
	if err := client.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	props := got["properties"].(map[string]any)
	if _, ok := props["Priority"]; ok {
		t.Errorf("priority 1 must not produce a select: %+v", props["Priority"])
	}
}

func TestChangedTasksParsesPages(t *testing.T) {
	var gotFilter map[string]any
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/databases/proj-db/query":
			w.Write([]byte(`{"results": [
				{"id": "proj-home", "properties": {"Name": {"title": [{"text": {"content": "Home"}}]}}}
			]}`))
		case "/databases/tasks-db/query":
			body := decodeBody(t, r)
			if f, ok := body["filter"].(map[string]any); ok {
				gotFilter = f
			}
			w.Write([]byte(`{"results": [{
				"id": "page-9",
				"archived": false,
				"properties": {
					"Id": {"rich_text": [{"text": {"content": "t-9"}}]},
					"Name": {"title": [{"text": {"content": "Water plants"}}]},
					"Done": {"checkbox": false},
					"Priority": {"select": {"name": "2"}},
					"Date": {"date": {"start": "2024-06-20"}},
					"Project": {"relation": [{"id": "proj-home"}]},
					"Tags": {"multi_select": [{"name": "Next action"}]},
					"Recurrence": {"rich_text": []}
				}
			}]}`))
		case "/blocks/page-9/children":
			w.Write([]byte(`{"results": [
				{"type": "paragraph", "paragraph": {"rich_text": [{"text": {"content": "every other day"}}]}}
			]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if err := client.RefreshProjects(context.Background()); err != nil {
		t.Fatalf("RefreshProjects failed: %v", err)
	}

	from := time.Date(2024, time.June, 19, 8, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	tasks, err := client.ChangedTasks(context.Background(), from, to)
	if err != nil {
		t.Fatalf("ChangedTasks failed: %v", err)
	}

	and := gotFilter["and"].([]any)
	if len(and) != 2 {
		t.Fatalf("expected both window bounds in filter, got %+v", and)
	}
	lower := and[0].(map[string]any)["last_edited_time"].(map[string]any)
	if _, ok := lower["on_or_after"]; !ok {
		t.Errorf("lower bound must be inclusive: %+v", lower)
	}
	upper := and[1].(map[string]any)["last_edited_time"].(map[string]any)
	if _, ok := upper["before"]; !ok {
		t.Errorf("upper bound must be exclusive: %+v", upper)
	}

	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.PageID != "page-9" || got.Task.ID != "t-9" {
		t.Errorf("ids mismatch: %+v", got)
	}
	if got.Task.Priority != 3 {
		t.Errorf("select 2 must invert to priority 3, got %d", got.Task.Priority)
	}
	if got.Task.Project != "Home" {
		t.Errorf("project relation not resolved: %q", got.Task.Project)
	}
	if len(got.Task.Labels) != 1 || got.Task.Labels[0] != "next_action" {
		t.Errorf("label casing not reversed: %+v", got.Task.Labels)
	}
	if got.Task.Description != "every other day" {
		t.Errorf("description not read from child blocks: %q", got.Task.Description)
	}
	if got.Task.Due == nil || !got.Task.Due.Equal(time.Date(2024, time.June, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("due date mismatch: %v", got.Task.Due)
	}
}

func TestChangedTasksZeroFromOmitsLowerBound(t *testing.T) {
	var body map[string]any
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		w.Write([]byte(`{"results": []}`))
	})

	_, err := client.ChangedTasks(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("ChangedTasks failed: %v", err)
	}

	and := body["filter"].(map[string]any)["and"].([]any)
	if len(and) != 1 {
		t.Errorf("zero from must leave only the upper bound, got %+v", and)
	}
}

func TestUpdateTaskIDBackfill(t *testing.T) {
	var got map[string]any
	var gotMethod, gotPath string
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		got = decodeBody(t, r)
		w.Write([]byte(`{"id": "page-3"}`))
	})

	if err := client.UpdateTaskID(context.Background(), "page-3", "remote-55"); err != nil {
		t.Fatalf("UpdateTaskID failed: %v", err)
	}

	if gotMethod != http.MethodPatch || gotPath != "/pages/page-3" {
		t.Errorf("request: %s %s", gotMethod, gotPath)
	}
	props := got["properties"].(map[string]any)
	if len(props) != 1 {
		t.Errorf("backfill must touch only the Id property: %+v", props)
	}
}

func TestDeleteUsesBlocksEndpoint(t *testing.T) {
	var gotMethod, gotPath string
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Write([]byte(`{}`))
	})

	if err := client.DeleteTask(context.Background(), "page-5"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/blocks/page-5" {
		t.Errorf("request: %s %s", gotMethod, gotPath)
	}
}

func TestAPIErrorCarriesPayload(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"object": "error", "message": "bad filter"}`))
	})

	_, err := client.ExistsTask(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d", apiErr.StatusCode)
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
