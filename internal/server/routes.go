package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"herald/internal/decision"
	"herald/internal/domain"
	"herald/internal/repo"
)

func registerGoals(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GoalResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		return &struct {
			Body []GoalResponse `json:"body"`
		}{Body: mapGoals(cfg.Goals.List())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		g, err := cfg.Goals.CreateGoal(ctx, input.Body.Name, input.Body.Objectives, input.Body.Type, input.Body.Priority)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-summaries",
		Method:      http.MethodGet,
		Path:        "/goals/evaluate",
		Summary:     "Summarize active goals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.GoalSummary `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		return &struct {
			Body []domain.GoalSummary `json:"body"`
		}{Body: cfg.Goals.EvaluateGoals(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "priority-objectives",
		Method:      http.MethodGet,
		Path:        "/goals/priorities",
		Summary:     "Incomplete objectives in priority order",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.PriorityObjective `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		items := cfg.Goals.GetPriorityObjectives(ctx)
		if input.Limit > 0 && len(items) > input.Limit {
			items = items[:input.Limit]
		}
		return &struct {
			Body []domain.PriorityObjective `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		g, err := cfg.Goals.Get(input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal-progress",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/progress",
		Summary:     "Set one objective's progress",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string              `path:"goal_id"`
		Body   GoalProgressRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		g, err := cfg.Goals.UpdateGoalProgress(ctx, input.GoalID, input.Body.ObjectiveIndex, input.Body.Progress, input.Body.Metrics)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal-metrics",
		Method:      http.MethodPatch,
		Path:        "/goals/{goal_id}/metrics",
		Summary:     "Merge goal metrics",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string             `path:"goal_id"`
		Body   map[string]float64 `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		g, err := cfg.Goals.UpdateGoalMetrics(ctx, input.GoalID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})
}

func registerTasks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,in_progress,completed,failed"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		items, err := cfg.Engine.ListTasks(ctx, repo.TaskFilters{
			Status: input.Status,
			Type:   input.Type,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Enqueue a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := cfg.Engine.CreateTask(ctx, domain.TaskType(input.Body.Type), input.Body.Priority, input.Body.Context)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		t, err := cfg.Engine.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List recorded action results",
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
		Kind   string `query:"kind"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ActionResult `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		items, err := cfg.Engine.ListActionResults(ctx, repo.ActionFilters{
			TaskID: input.TaskID,
			Kind:   input.Kind,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ActionResult{}
		}
		return &struct {
			Body []domain.ActionResult `json:"body"`
		}{Body: items}, nil
	})
}

func registerDecisions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-decision",
		Method:      http.MethodPost,
		Path:        "/decisions/evaluate",
		Summary:     "Score an action against signals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body EvaluateDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.DecisionRecord `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		action, err := decision.ParseAction(input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := cfg.Decisions.Evaluate(ctx, action, input.Body.Signals)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DecisionRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decision-feedback",
		Method:      http.MethodPost,
		Path:        "/decisions/feedback",
		Summary:     "Blend outcome feedback into the weights",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body FeedbackRequest `json:"body"`
	}) (*struct {
		Body WeightsResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeWrite); err != nil {
			return nil, err
		}
		fb := decision.Feedback{}
		for name, perf := range input.Body.Feedback {
			fb[decision.ActionType(name)] = perf
		}
		if err := cfg.Decisions.UpdateWeights(ctx, fb); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WeightsResponse `json:"body"`
		}{Body: weightsResponse(cfg.Decisions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decision-weights",
		Method:      http.MethodGet,
		Path:        "/decisions/weights",
		Summary:     "Current weights and thresholds",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WeightsResponse `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		return &struct {
			Body WeightsResponse `json:"body"`
		}{Body: weightsResponse(cfg.Decisions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decision-history",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "Decision history, oldest first",
	}, func(ctx context.Context, input *struct {
		Action string `query:"action_type"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.DecisionRecord `json:"body"`
	}, error) {
		if err := requireScope(ctx, ScopeRead); err != nil {
			return nil, err
		}
		items, err := cfg.Engine.ListDecisions(ctx, repo.DecisionFilters{
			Action: input.Action,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.DecisionRecord{}
		}
		return &struct {
			Body []domain.DecisionRecord `json:"body"`
		}{Body: items}, nil
	})
}

func weightsResponse(e *decision.Engine) WeightsResponse {
	resp := WeightsResponse{
		Weights:      e.Weights(),
		Thresholds:   map[string]float64{},
		LearningRate: e.LearningRate(),
	}
	for _, a := range decision.Actions() {
		if t, err := e.Threshold(a); err == nil {
			resp.Thresholds[string(a)] = t
		}
	}
	return resp
}
