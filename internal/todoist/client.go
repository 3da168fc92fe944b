// Package todoist implements a client for the Todoist Sync v9 API,
// covering the incremental read protocol (sync tokens), the completed
// items archive, and the command-based writes used by the push phase.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/notisync/notisync/internal/model"
)

const defaultBaseURL = "https://api.todoist.com/sync/v9"

// Config holds the client's settings. Token is required; the rest
// default sensibly.
type Config struct {
	Token   string
	BaseURL string       // defaults to the Sync v9 endpoint
	HTTP    *http.Client // defaults to http.DefaultClient
	Logger  *log.Logger
}

// Client talks to the Todoist Sync v9 API. It is not safe for
// concurrent use; the reconciler drives it from a single pass at a
// time.
type Client struct {
	token    string
	baseURL  string
	httpc    *http.Client
	logger   *log.Logger
	projects map[string]string // project id -> name, refreshed on ReadDelta
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
		cfg.Logger = log.New(os.Stderr, "[todoist] ", log.LstdFlags)
	}
	return &Client{
		token:    cfg.Token,
		baseURL:  cfg.BaseURL,
		httpc:    cfg.HTTP,
		logger:   cfg.Logger,
		projects: make(map[string]string),
	}
}

// APIError is returned for any non-2xx response or undecodable body.
// The payload is kept verbatim for the logs.
type APIError struct {
	StatusCode int
	Payload    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("todoist API error (status %d): %s", e.StatusCode, e.Payload)
}

type syncResponse struct {
	SyncToken string            `json:"sync_token"`
	Items     []apiItem         `json:"items"`
	Projects  []apiProject      `json:"projects"`
	Mapping   map[string]string `json:"temp_id_mapping"`
}

type apiItem struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Due         *apiDue  `json:"due"`
	ProjectID   string   `json:"project_id"`
	Labels      []string `json:"labels"`
	Checked     bool     `json:"checked"`
	IsDeleted   bool     `json:"is_deleted"`
}

type apiDue struct {
	Date        string `json:"date"`
	String      string `json:"string"`
	IsRecurring bool   `json:"is_recurring"`
}

type apiProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReadDelta fetches the item changes accumulated since token and
// returns them with the next token. An empty token requests a full
// read ("*" in the wire protocol). Project references are resolved to
// names using the projects resource returned in the same response.
func (c *Client) ReadDelta(ctx context.Context, token string) ([]model.Task, string, error) {
	if token == "" {
		token = "*"
	}

	params := url.Values{}
	params.Set("sync_token", token)
	params.Set("resource_types", `["items", "projects", "labels"]`)

	var resp syncResponse
	if err := c.get(ctx, "/sync", params, &resp); err != nil {
		return nil, "", err
	}

	for _, p := range resp.Projects {
		c.projects[p.ID] = p.Name
	}

	tasks := make([]model.Task, 0, len(resp.Items))
	for _, it := range resp.Items {
		task := model.Task{
			ID:          it.ID,
			Content:     it.Content,
			Description: it.Description,
			Priority:    it.Priority,
			Project:     c.projects[it.ProjectID],
			Labels:      it.Labels,
			Checked:     it.Checked,
			Deleted:     it.IsDeleted,
		}

		if !it.IsDeleted && it.Due != nil {
			due, err := parseDueDate(it.Due.Date)
			if err != nil {
				c.logger.Printf("Skipping unparseable due date %q on task %s: %v", it.Due.Date, it.ID, err)
			} else {
				task.Due = &due
			}
			if it.Due.IsRecurring {
				task.Recurrence = it.Due.String
			}
		}

		tasks = append(tasks, task)
	}

	return tasks, resp.SyncToken, nil
}

type completedResponse struct {
	Items []struct {
		TaskID  string `json:"task_id"`
		Content string `json:"content"`
	} `json:"items"`
}

// ReadCompleted fetches items completed at or after since from the
// completed archive. Completed items do not appear in the delta stream,
// which is why they need their own read. A zero since returns the whole
// archive. The returned tasks carry only id and content, checked.
func (c *Client) ReadCompleted(ctx context.Context, since time.Time) ([]model.Task, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format("2006-01-02T15:04:05"))
	}

	var resp completedResponse
	if err := c.get(ctx, "/completed/get_all", params, &resp); err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(resp.Items))
	for _, it := range resp.Items {
		tasks = append(tasks, model.Task{
			ID:      it.TaskID,
			Content: it.Content,
			Checked: true,
		})
	}
	return tasks, nil
}

type command struct {
	Type   string         `json:"type"`
	UUID   string         `json:"uuid"`
	TempID string         `json:"temp_id,omitempty"`
	Args   map[string]any `json:"args"`
}

// Create adds a new task remotely and returns its assigned id, taken
// from the temp id mapping of the command response.
func (c *Client) Create(ctx context.Context, task model.Task) (string, error) {
	tempID := uuid.NewString()
	cmd := command{
		Type:   "item_add",
		UUID:   uuid.NewString(),
		TempID: tempID,
		Args:   c.itemArgs(task),
	}

	var resp syncResponse
	if err := c.postCommands(ctx, []command{cmd}, &resp); err != nil {
		return "", err
	}

	id, ok := resp.Mapping[tempID]
	if !ok {
		return "", fmt.Errorf("item_add response missing temp id mapping for %s", tempID)
	}
	return id, nil
}

// Update applies task's content, due date, priority and labels to the
// remote item identified by task.ID.
func (c *Client) Update(ctx context.Context, task model.Task) error {
	args := c.itemArgs(task)
	args["id"] = task.ID
	delete(args, "project_id")

	cmd := command{
		Type: "item_update",
		UUID: uuid.NewString(),
		Args: args,
	}
	return c.postCommands(ctx, []command{cmd}, &syncResponse{})
}

// Exists reports whether an active item with the given id exists
// remotely. A 404 means it does not; other failures are surfaced.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	params := url.Values{}
	params.Set("item_id", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/items/get?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetching item %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return false, &APIError{StatusCode: resp.StatusCode, Payload: string(body)}
	}
	return true, nil
}

// itemArgs builds the command args shared by item_add and item_update.
func (c *Client) itemArgs(task model.Task) map[string]any {
	args := map[string]any{
		"content":     task.Content,
		"description": task.Description,
	}
	if task.Priority > 0 {
		args["priority"] = task.Priority
	}
	if len(task.Labels) > 0 {
		args["labels"] = task.Labels
	}
	if task.Due != nil {
		args["due"] = map[string]any{"date": task.Due.Format("2006-01-02")}
	}
	if task.Project != "" {
		if id := c.projectID(task.Project); id != "" {
			args["project_id"] = id
		}
	}
	return args
}

func (c *Client) projectID(name string) string {
	for id, n := range c.projects {
		if n == name {
			return id
		}
	}
	return ""
}

// parseDueDate accepts both date-only and datetime due values; only the
// date part is kept, matching the sink's day precision.
func parseDueDate(s string) (time.Time, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postCommands(ctx context.Context, cmds []command, out any) error {
	body, err := json.Marshal(map[string]any{"commands": cmds})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.logger.Printf("Request: %s %s", req.Method, req.URL.Path)
	req.Header.Set("Authorization", "Bearer "+c.token)

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
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Payload: string(raw)}
	}
	return nil
}
