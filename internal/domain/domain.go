package domain

import "time"

const (
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
)

type Objective struct {
	Description string             `json:"description"`
	Completed   bool               `json:"completed"`
	Progress    float64            `json:"progress" minimum:"0" maximum:"1"`
	Metrics     map[string]float64 `json:"metrics"`
}

type Goal struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Status      string             `json:"status" enum:"active,completed"`
	Priority    int                `json:"priority"`
	Objectives  []Objective        `json:"objectives"`
	Metrics     map[string]float64 `json:"metrics"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers never alias store-owned maps.
func (g Goal) Clone() Goal {
	out := g
	out.Objectives = make([]Objective, len(g.Objectives))
	for i, o := range g.Objectives {
		o.Metrics = cloneMetrics(o.Metrics)
		out.Objectives[i] = o
	}
	out.Metrics = cloneMetrics(g.Metrics)
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Progress is the arithmetic mean of objective progress, 0 with no objectives.
func (g Goal) Progress() float64 {
	if len(g.Objectives) == 0 {
		return 0
	}
	var sum float64
	for _, o := range g.Objectives {
		sum += o.Progress
	}
	return sum / float64(len(g.Objectives))
}

type GoalSummary struct {
	GoalID   string             `json:"goal_id"`
	Name     string             `json:"name"`
	Progress float64            `json:"progress"`
	Metrics  map[string]float64 `json:"metrics"`
	Priority int                `json:"priority"`
}

type PriorityObjective struct {
	GoalID         string  `json:"goal_id"`
	GoalName       string  `json:"goal_name"`
	GoalPriority   int     `json:"goal_priority"`
	ObjectiveIndex int     `json:"objective_index"`
	Description    string  `json:"description"`
	Progress       float64 `json:"progress"`
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

type TaskType string

const (
	TaskGoal            TaskType = "goal_task"
	TaskAnalyzeTrends   TaskType = "analyze_trends"
	TaskGenerateContent TaskType = "generate_content"
)

// TaskTypes lists the closed set of task tags the agent dispatches on.
var TaskTypes = []TaskType{TaskGoal, TaskAnalyzeTrends, TaskGenerateContent}

func (t TaskType) Valid() bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Task struct {
	ID          string         `json:"id"`
	Type        TaskType       `json:"type"`
	Priority    int            `json:"priority"`
	Context     map[string]any `json:"context"`
	Status      TaskStatus     `json:"status" enum:"pending,in_progress,completed,failed"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TaskResult is the outcome handed to the queue when a task finishes.
type TaskResult struct {
	Status    TaskStatus     `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Map flattens the result into the record persisted on the task.
func (r TaskResult) Map() map[string]any {
	out := map[string]any{
		"status":    string(r.Status),
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339),
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Result != nil {
		out["result"] = r.Result
	}
	return out
}

type DecisionOutcome struct {
	ShouldAct  bool    `json:"should_act"`
	Confidence float64 `json:"confidence"`
	Total      float64 `json:"total"`
	Threshold  float64 `json:"threshold"`
	Reasoning  string  `json:"reasoning"`
}

type DecisionRecord struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Action    string             `json:"action_type"`
	Context   map[string]any     `json:"context"`
	Raw       map[string]float64 `json:"raw_scores"`
	Weighted  map[string]float64 `json:"weighted_scores"`
	Decision  DecisionOutcome    `json:"decision"`
}

type ActionResult struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func cloneMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
