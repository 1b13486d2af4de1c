package server

import (
	"time"

	"herald/internal/agent"
	"herald/internal/decision"
	"herald/internal/domain"
	"herald/internal/logging"
)

// Request payloads

type CreateGoalRequest struct {
	Name       string   `json:"name" minLength:"1"`
	Objectives []string `json:"objectives"`
	Type       string   `json:"type,omitempty"`
	Priority   int      `json:"priority,omitempty"`
}

type GoalProgressRequest struct {
	ObjectiveIndex int                `json:"objective_index" minimum:"0"`
	Progress       float64            `json:"progress"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

type CreateTaskRequest struct {
	Type     string         `json:"type" minLength:"1"`
	Priority int            `json:"priority,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

type EvaluateDecisionRequest struct {
	Action  string           `json:"action_type" enum:"content_creation,engagement,trend_analysis"`
	Signals decision.Signals `json:"signals"`
}

type FeedbackRequest struct {
	Feedback map[string]map[string]float64 `json:"feedback"`
}

type TokenRequest struct {
	Subject    string   `json:"subject" minLength:"1"`
	Scopes     []string `json:"scopes,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty" minimum:"0"`
}

// Response payloads

type StatusResponse struct {
	Agent      agent.State    `json:"agent"`
	TaskCounts map[string]int `json:"task_counts"`
	Goals      int            `json:"goals"`
}

type GoalResponse struct {
	domain.Goal
	Progress float64 `json:"progress"`
}

type WeightsResponse struct {
	Weights      map[string]map[string]float64 `json:"weights"`
	Thresholds   map[string]float64            `json:"thresholds"`
	LearningRate float64                       `json:"learning_rate"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type LogsResponse struct {
	Items []logging.Entry `json:"items"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func goalResponse(g domain.Goal) GoalResponse {
	return GoalResponse{Goal: g, Progress: g.Progress()}
}

func mapGoals(items []domain.Goal) []GoalResponse {
	out := make([]GoalResponse, 0, len(items))
	for _, g := range items {
		out = append(out, goalResponse(g))
	}
	return out
}
