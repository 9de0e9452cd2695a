package sprintsheetsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Sprintsheet HTTP API client. BasePath must match the
// server's --base-path.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Sprint is a sprint summary row.
type Sprint struct {
	Number         int    `json:"sprint_number"`
	Name           string `json:"sprint_name"`
	CapacityPoints int    `json:"capacity_points"`
	PlannedPoints  int    `json:"planned_points"`
	TaskCount      int    `json:"task_count"`
	DoneCount      int    `json:"done_count"`
}

// Task is a planned task.
type Task struct {
	SprintNumber int    `json:"sprint_number"`
	SprintName   string `json:"sprint_name"`
	ID           string `json:"task_id"`
	Title        string `json:"title"`
	UserStory    string `json:"user_story"`
	Area         string `json:"area"`
	Type         string `json:"task_type"`
	AIFlag       string `json:"ai_flag"`
	Risk         string `json:"risk"`
	StoryPoints  int    `json:"story_points"`
	Dependencies string `json:"dependencies"`
}

// Problem is a blocking plan inconsistency.
type Problem struct {
	TaskID       string `json:"task_id"`
	SprintNumber int    `json:"sprint_number"`
	Reason       string `json:"reason"`
}

// Drift is a sprint total that disagrees with its tasks.
type Drift struct {
	SprintNumber int    `json:"sprint_number"`
	Field        string `json:"field"`
	Supplied     int    `json:"supplied"`
	FromTasks    int    `json:"from_tasks"`
}

// Check is the plan check result.
type Check struct {
	OK       bool      `json:"ok"`
	Problems []Problem `json:"problems"`
	Drift    []Drift   `json:"drift"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health calls the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "health", nil)
}

// Sprints returns sprint summaries in sprint-number order.
func (c *Client) Sprints(ctx context.Context) ([]Sprint, error) {
	var resp struct {
		Items []Sprint `json:"items"`
	}
	err := c.getJSON(ctx, "sprints", &resp)
	return resp.Items, err
}

// Tasks returns tasks in plan order; sprint > 0 filters to one sprint.
func (c *Client) Tasks(ctx context.Context, sprint int) ([]Task, error) {
	endpoint := "tasks"
	if sprint > 0 {
		endpoint = fmt.Sprintf("%s?sprint=%d", endpoint, sprint)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.getJSON(ctx, endpoint, &resp)
	return resp.Items, err
}

// Check returns integrity problems and drift.
func (c *Client) Check(ctx context.Context) (Check, error) {
	var resp Check
	err := c.getJSON(ctx, "check", &resp)
	return resp, err
}

// DownloadReport streams a freshly generated workbook into w.
func (c *Client) DownloadReport(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.get(ctx, "report.xlsx")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if prefix := strings.Trim(c.BasePath, "/"); prefix != "" {
		base += "/" + prefix
	}
	return base
}
