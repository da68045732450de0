package flowtracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Flowtrack HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	SprintID    *string `json:"sprint_id,omitempty"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	StoryPoints *int    `json:"story_points,omitempty"`
}

// HistoryEntry represents a single change-log row.
type HistoryEntry struct {
	ID        int64   `json:"id"`
	TaskID    string  `json:"task_id"`
	ActorID   string  `json:"actor_id"`
	Action    string  `json:"action"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
	Comment   *string `json:"comment,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// Sprint represents the API sprint model.
type Sprint struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Velocity  *int   `json:"velocity,omitempty"`
}

// VelocityPoint is one completed sprint in the velocity series.
type VelocityPoint struct {
	SprintID       string  `json:"sprint_id"`
	SprintName     string  `json:"sprint_name"`
	Velocity       int     `json:"velocity"`
	RunningAverage float64 `json:"running_average"`
}

// BurndownDay is one day of a sprint burndown.
type BurndownDay struct {
	Date   string  `json:"date"`
	Ideal  float64 `json:"ideal"`
	Actual int     `json:"actual"`
}

// Burndown is the burndown chart for one sprint.
type Burndown struct {
	SprintID    string        `json:"sprint_id"`
	SprintName  string        `json:"sprint_name"`
	TotalPoints int           `json:"total_points"`
	Days        []BurndownDay `json:"days"`
}

// FlowDay is one day of the cumulative flow diagram.
type FlowDay struct {
	Date   string         `json:"date"`
	Counts map[string]int `json:"counts"`
}

// CycleTimeRecord is cycle/lead time for one completed task.
type CycleTimeRecord struct {
	TaskID      string  `json:"task_id"`
	Title       string  `json:"title"`
	CompletedAt string  `json:"completed_at"`
	CycleDays   float64 `json:"cycle_days"`
	LeadDays    float64 `json:"lead_days"`
}

// AssigneeStats is per-assignee delivery performance.
type AssigneeStats struct {
	AssigneeID      string  `json:"assignee_id"`
	TaskCount       int     `json:"task_count"`
	CompletedCount  int     `json:"completed_count"`
	CompletionRate  int     `json:"completion_rate"`
	PointsDelivered int     `json:"points_delivered"`
	MeanCycleDays   float64 `json:"mean_cycle_days"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task listings with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateTask creates a task in todo.
func (c *Client) CreateTask(ctx context.Context, title string, storyPoints *int) (Task, error) {
	body := map[string]any{
		"title": title,
	}
	if storyPoints != nil {
		body["story_points"] = *storyPoints
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.rootPath(fmt.Sprintf("tasks/%s", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// Tasks returns tasks for the project.
func (c *Client) Tasks(ctx context.Context, limit int) ([]Task, error) {
	page, err := c.TasksPage(ctx, limit, "")
	return page.Items, err
}

// TasksPage returns a paginated task listing.
func (c *Client) TasksPage(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := c.projectPath("tasks")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MoveTask transitions a task to another status. The comment must be at
// least 10 characters after trimming.
func (c *Client) MoveTask(ctx context.Context, taskID, status, comment string) (Task, error) {
	body := map[string]any{
		"status":  status,
		"comment": comment,
	}
	var resp Task
	endpoint := c.rootPath(fmt.Sprintf("tasks/%s/move", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddComment records a standalone comment on a task.
func (c *Client) AddComment(ctx context.Context, taskID, text string) (HistoryEntry, error) {
	body := map[string]any{"text": text}
	var resp HistoryEntry
	endpoint := c.rootPath(fmt.Sprintf("tasks/%s/comments", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TaskHistory returns the full change log of a task, oldest first.
func (c *Client) TaskHistory(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := c.rootPath(fmt.Sprintf("tasks/%s/history", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Sprints returns the project's sprints.
func (c *Client) Sprints(ctx context.Context) ([]Sprint, error) {
	var resp []Sprint
	err := c.do(ctx, http.MethodGet, c.projectPath("sprints"), nil, &resp)
	return resp, err
}

// Velocity returns the completed-sprint velocity series.
func (c *Client) Velocity(ctx context.Context) ([]VelocityPoint, error) {
	var resp []VelocityPoint
	err := c.do(ctx, http.MethodGet, c.projectPath("analytics/velocity"), nil, &resp)
	return resp, err
}

// Burndown returns the burndown for a sprint; with an empty sprintID the
// server uses the active sprint.
func (c *Client) Burndown(ctx context.Context, sprintID string) (Burndown, error) {
	endpoint := c.projectPath("analytics/burndown")
	if sprintID != "" {
		endpoint = fmt.Sprintf("%s?sprint_id=%s", endpoint, url.QueryEscape(sprintID))
	}
	var resp Burndown
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CumulativeFlow returns per-day column counts over the trailing window.
func (c *Client) CumulativeFlow(ctx context.Context) ([]FlowDay, error) {
	var resp []FlowDay
	err := c.do(ctx, http.MethodGet, c.projectPath("analytics/cumulative-flow"), nil, &resp)
	return resp, err
}

// CycleTimes returns cycle/lead times for recently completed tasks.
func (c *Client) CycleTimes(ctx context.Context) ([]CycleTimeRecord, error) {
	var resp []CycleTimeRecord
	err := c.do(ctx, http.MethodGet, c.projectPath("analytics/cycle-time"), nil, &resp)
	return resp, err
}

// TeamPerformance returns per-assignee delivery stats.
func (c *Client) TeamPerformance(ctx context.Context) ([]AssigneeStats, error) {
	var resp []AssigneeStats
	err := c.do(ctx, http.MethodGet, c.projectPath("analytics/team-performance"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) rootPath(p string) string {
	return "v0/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
