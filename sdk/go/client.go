package heraldsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Herald HTTP API client.
type Client struct {
	BaseURL string
	// BasePath is the API prefix, /v0 when empty.
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Objective is one measurable part of a goal.
type Objective struct {
	Description string             `json:"description"`
	Completed   bool               `json:"completed"`
	Progress    float64            `json:"progress"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Goal represents the API goal model.
type Goal struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Status      string             `json:"status"`
	Priority    int                `json:"priority"`
	Objectives  []Objective        `json:"objectives"`
	Metrics     map[string]float64 `json:"metrics"`
	Progress    float64            `json:"progress"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// GoalSummary is an active goal's progress snapshot.
type GoalSummary struct {
	GoalID   string             `json:"goal_id"`
	Name     string             `json:"name"`
	Progress float64            `json:"progress"`
	Metrics  map[string]float64 `json:"metrics"`
	Priority int                `json:"priority"`
}

// PriorityObjective is an incomplete objective ranked across goals.
type PriorityObjective struct {
	GoalID         string  `json:"goal_id"`
	GoalName       string  `json:"goal_name"`
	GoalPriority   int     `json:"goal_priority"`
	ObjectiveIndex int     `json:"objective_index"`
	Description    string  `json:"description"`
	Progress       float64 `json:"progress"`
}

// Task represents the API task model.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    int            `json:"priority"`
	Context     map[string]any `json:"context"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Signals is the decision evaluation context. Zero values are omitted.
type Signals struct {
	LastActionTime    *time.Time `json:"last_action_time,omitempty"`
	LastAnalysisTime  *time.Time `json:"last_analysis_time,omitempty"`
	Trends            []string   `json:"trends,omitempty"`
	CurrentFocus      string     `json:"current_focus,omitempty"`
	RecentDiscussions []string   `json:"recent_discussions,omitempty"`
	CommunityFocus    string     `json:"community_focus,omitempty"`
	Urgency           *float64   `json:"urgency,omitempty"`
	Complexity        *float64   `json:"complexity,omitempty"`
}

// Decision is a recorded evaluation.
type Decision struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Action    string             `json:"action_type"`
	Context   map[string]any     `json:"context"`
	Raw       map[string]float64 `json:"raw_scores"`
	Weighted  map[string]float64 `json:"weighted_scores"`
	Decision  struct {
		ShouldAct  bool    `json:"should_act"`
		Confidence float64 `json:"confidence"`
		Total      float64 `json:"total"`
		Threshold  float64 `json:"threshold"`
		Reasoning  string  `json:"reasoning"`
	} `json:"decision"`
}

// Weights is the current decision weight table.
type Weights struct {
	Weights      map[string]map[string]float64 `json:"weights"`
	Thresholds   map[string]float64            `json:"thresholds"`
	LearningRate float64                       `json:"learning_rate"`
}

// Status is the running agent's state plus queue counts.
type Status struct {
	Agent      map[string]any `json:"agent"`
	TaskCounts map[string]int `json:"task_counts"`
	Goals      int            `json:"goals"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Status returns the agent state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// ListGoals returns every goal.
func (c *Client) ListGoals(ctx context.Context) ([]Goal, error) {
	var resp []Goal
	err := c.do(ctx, http.MethodGet, "goals", nil, &resp)
	return resp, err
}

// GetGoal fetches a goal by id.
func (c *Client) GetGoal(ctx context.Context, id string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, "goals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateGoal creates a goal. Zero type and priority take the server defaults.
func (c *Client) CreateGoal(ctx context.Context, name string, objectives []string, goalType string, priority int) (Goal, error) {
	body := map[string]any{
		"name":       name,
		"objectives": objectives,
	}
	if goalType != "" {
		body["type"] = goalType
	}
	if priority != 0 {
		body["priority"] = priority
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals", body, &resp)
	return resp, err
}

// UpdateGoalProgress sets one objective's progress.
func (c *Client) UpdateGoalProgress(ctx context.Context, goalID string, index int, progress float64, metrics map[string]float64) (Goal, error) {
	body := map[string]any{
		"objective_index": index,
		"progress":        progress,
	}
	if len(metrics) > 0 {
		body["metrics"] = metrics
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("goals/%s/progress", url.PathEscape(goalID)), body, &resp)
	return resp, err
}

// UpdateGoalMetrics merges goal-level metrics.
func (c *Client) UpdateGoalMetrics(ctx context.Context, goalID string, metrics map[string]float64) (Goal, error) {
	var resp Goal
	endpoint := fmt.Sprintf("goals/%s/metrics", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodPatch, endpoint, metrics, &resp)
	return resp, err
}

// EvaluateGoals returns summaries of active goals.
func (c *Client) EvaluateGoals(ctx context.Context) ([]GoalSummary, error) {
	var resp []GoalSummary
	err := c.do(ctx, http.MethodGet, "goals/evaluate", nil, &resp)
	return resp, err
}

// PriorityObjectives returns incomplete objectives in priority order.
func (c *Client) PriorityObjectives(ctx context.Context, limit int) ([]PriorityObjective, error) {
	endpoint := "goals/priorities"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp []PriorityObjective
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask queues a task.
func (c *Client) CreateTask(ctx context.Context, taskType string, priority int, taskCtx map[string]any) (Task, error) {
	body := map[string]any{
		"type":     taskType,
		"priority": priority,
	}
	if taskCtx != nil {
		body["context"] = taskCtx
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string, limit int) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// EvaluateDecision scores an action type against signals.
func (c *Client) EvaluateDecision(ctx context.Context, action string, signals Signals) (Decision, error) {
	body := map[string]any{
		"action_type": action,
		"signals":     signals,
	}
	var resp Decision
	err := c.do(ctx, http.MethodPost, "decisions/evaluate", body, &resp)
	return resp, err
}

// SendFeedback blends per-criterion performance into the weights.
func (c *Client) SendFeedback(ctx context.Context, feedback map[string]map[string]float64) (Weights, error) {
	var resp Weights
	err := c.do(ctx, http.MethodPost, "decisions/feedback", map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

// Weights returns the current weight table.
func (c *Client) Weights(ctx context.Context) (Weights, error) {
	var resp Weights
	err := c.do(ctx, http.MethodGet, "decisions/weights", nil, &resp)
	return resp, err
}

// Decisions returns recorded decisions, optionally for one action type.
func (c *Client) Decisions(ctx context.Context, action string, limit int) ([]Decision, error) {
	q := url.Values{}
	if action != "" {
		q.Set("action_type", action)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Decision
	err := c.do(ctx, http.MethodGet, withQuery("decisions", q), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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

func (c *Client) base() string {
	prefix := c.BasePath
	if prefix == "" {
		prefix = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(prefix, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
