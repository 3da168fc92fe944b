// Package notion implements the page/database sink for calendar events
// and tasks, including the Id-keyed existence queries, the property
// mapping for both databases, and the project relation cache.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/notisync/notisync/internal/model"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
)

// Config holds the sink settings. Token and the three database ids are
// required; Timezone names the zone recorded on event intervals.
type Config struct {
	Token      string
	CalendarDB string
	TasksDB    string
	ProjectsDB string
	Timezone   string
	BaseURL    string       // defaults to the public API endpoint
	HTTP       *http.Client // defaults to http.DefaultClient
	Logger     *log.Logger
}

// Client is the Notion sink. Project name resolution uses a cache
// filled by RefreshProjects; callers refresh once per sync pass.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *log.Logger

	projectIDs   map[string]string // name -> page id
	projectNames map[string]string // page id -> name
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[notion] ", log.LstdFlags)
	}
	return &Client{
		cfg:          cfg,
		httpc:        cfg.HTTP,
		logger:       cfg.Logger,
		projectIDs:   make(map[string]string),
		projectNames: make(map[string]string),
	}
}

// APIError is returned for any non-2xx response, with the body kept
// verbatim for the logs.
type APIError struct {
	StatusCode int
	Payload    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion API error (status %d): %s", e.StatusCode, e.Payload)
}

type queryResponse struct {
	Results []page `json:"results"`
}

// RefreshProjects reloads the project name/id cache from the projects
// database. Unknown project names then resolve to no relation rather
// than a stale id.
func (c *Client) RefreshProjects(ctx context.Context) error {
	var resp queryResponse
	if err := c.post(ctx, "/databases/"+c.cfg.ProjectsDB+"/query", map[string]any{}, &resp); err != nil {
		return fmt.Errorf("querying projects database: %w", err)
	}

	c.projectIDs = make(map[string]string, len(resp.Results))
	c.projectNames = make(map[string]string, len(resp.Results))
	for _, p := range resp.Results {
		name := plainText(p.Properties["Name"].Title)
		if name == "" {
			continue
		}
		c.projectIDs[name] = p.ID
		c.projectNames[p.ID] = name
	}
	return nil
}

// ExistsEvent returns the internal page id of the calendar page whose
// Id property equals id, or "" when no such page exists.
func (c *Client) ExistsEvent(ctx context.Context, id string) (string, error) {
	return c.findByID(ctx, c.cfg.CalendarDB, id)
}

// ExistsTask returns the internal page id of the task page whose Id
// property equals id, or "" when no such page exists.
func (c *Client) ExistsTask(ctx context.Context, id string) (string, error) {
	return c.findByID(ctx, c.cfg.TasksDB, id)
}

func (c *Client) findByID(ctx context.Context, dbID, id string) (string, error) {
	body := map[string]any{
		"filter": map[string]any{
			"property":  "Id",
			"rich_text": map[string]any{"equals": id},
		},
	}

	var resp queryResponse
	if err := c.post(ctx, "/databases/"+dbID+"/query", body, &resp); err != nil {
		return "", fmt.Errorf("looking up id %s: %w", id, err)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

// CreateEvent creates a calendar page for ev, with the body as a
// callout child block and a calendar icon.
func (c *Client) CreateEvent(ctx context.Context, ev model.Event) error {
	body := map[string]any{
		"parent":     map[string]any{"database_id": c.cfg.CalendarDB},
		"properties": c.eventProperties(ev),
		"icon":       calendarIcon(),
	}
	if children := eventChildren(ev); children != nil {
		body["children"] = children
	}
	return c.post(ctx, "/pages", body, nil)
}

// UpdateEvent rewrites the calendar page's properties from ev. Child
// blocks are left as created; the page body is not rewritten.
func (c *Client) UpdateEvent(ctx context.Context, pageID string, ev model.Event) error {
	body := map[string]any{
		"properties": c.eventProperties(ev),
		"icon":       calendarIcon(),
	}
	return c.patch(ctx, "/pages/"+pageID, body, nil)
}

// DeleteEvent archives the calendar page.
func (c *Client) DeleteEvent(ctx context.Context, pageID string) error {
	return c.delete(ctx, "/blocks/"+pageID)
}

// CreateTask creates a task page for task, with the description as a
// paragraph child block.
func (c *Client) CreateTask(ctx context.Context, task model.Task) error {
	body := map[string]any{
		"parent":     map[string]any{"database_id": c.cfg.TasksDB},
		"properties": c.taskProperties(task),
	}
	if children := taskChildren(task); children != nil {
		body["children"] = children
	}
	return c.post(ctx, "/pages", body, nil)
}

// UpdateTask rewrites the task page's properties from task.
func (c *Client) UpdateTask(ctx context.Context, pageID string, task model.Task) error {
	body := map[string]any{"properties": c.taskProperties(task)}
	return c.patch(ctx, "/pages/"+pageID, body, nil)
}

// CompleteTask ticks the Done checkbox without touching any other
// property. Completed items from the archive carry only id and content,
// so a full property rewrite would wipe the page.
func (c *Client) CompleteTask(ctx context.Context, pageID string) error {
	body := map[string]any{
		"properties": map[string]any{
			"Done": map[string]any{"checkbox": true},
		},
	}
	return c.patch(ctx, "/pages/"+pageID, body, nil)
}

// UpdateTaskID backfills the Id property of a page after the remote
// service assigned an id to a task that was first created in the sink.
func (c *Client) UpdateTaskID(ctx context.Context, pageID, id string) error {
	body := map[string]any{
		"properties": map[string]any{"Id": richTextProp(id)},
	}
	return c.patch(ctx, "/pages/"+pageID, body, nil)
}

// DeleteTask archives the task page.
func (c *Client) DeleteTask(ctx context.Context, pageID string) error {
	return c.delete(ctx, "/blocks/"+pageID)
}

// ChangedTasks returns the task pages edited within [from, to), parsed
// back into canonical tasks. A zero from drops the lower bound. The
// upper bound is exclusive so a page edited exactly at a pass boundary
// lands in exactly one window. Archived pages never appear in query
// results, so tasks deleted in the sink are not reported.
func (c *Client) ChangedTasks(ctx context.Context, from, to time.Time) ([]model.SinkTask, error) {
	var filters []map[string]any
	if !from.IsZero() {
		filters = append(filters, map[string]any{
			"timestamp":        "last_edited_time",
			"last_edited_time": map[string]any{"on_or_after": from.Format(time.RFC3339)},
		})
	}
	if !to.IsZero() {
		filters = append(filters, map[string]any{
			"timestamp":        "last_edited_time",
			"last_edited_time": map[string]any{"before": to.Format(time.RFC3339)},
		})
	}

	body := map[string]any{}
	if len(filters) > 0 {
		body["filter"] = map[string]any{"and": filters}
	}

	var resp queryResponse
	if err := c.post(ctx, "/databases/"+c.cfg.TasksDB+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("querying changed tasks: %w", err)
	}

	tasks := make([]model.SinkTask, 0, len(resp.Results))
	for _, p := range resp.Results {
		task := c.parseTaskPage(p)

		desc, err := c.pageBody(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("reading body of page %s: %w", p.ID, err)
		}
		task.Description = desc

		tasks = append(tasks, model.SinkTask{PageID: p.ID, Task: task})
	}
	return tasks, nil
}

type childrenResponse struct {
	Results []struct {
		Type      string `json:"type"`
		Paragraph *struct {
			RichText []richText `json:"rich_text"`
		} `json:"paragraph"`
		Callout *struct {
			RichText []richText `json:"rich_text"`
		} `json:"callout"`
	} `json:"results"`
}

// pageBody flattens the page's paragraph and callout children into a
// newline-joined plain text description.
func (c *Client) pageBody(ctx context.Context, pageID string) (string, error) {
	var resp childrenResponse
	if err := c.get(ctx, "/blocks/"+pageID+"/children", &resp); err != nil {
		return "", err
	}

	var lines []string
	for _, block := range resp.Results {
		switch {
		case block.Paragraph != nil:
			lines = append(lines, plainText(block.Paragraph.RichText))
		case block.Callout != nil:
			lines = append(lines, plainText(block.Callout.RichText))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	return c.send(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) patch(ctx context.Context, endpoint string, body any, out any) error {
	return c.send(ctx, http.MethodPatch, endpoint, body, out)
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.logger.Printf("Request: %s %s", req.Method, req.URL.Path)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Payload: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{StatusCode: resp.StatusCode, Payload: string(raw)}
		}
	}
	return nil
}
