package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"herald/internal/content"
	"herald/internal/decision"
	"herald/internal/domain"
	"herald/internal/logging"
)

func (a *Agent) handleAnalyzeTrends(ctx context.Context, task domain.Task) (map[string]any, error) {
	snap := a.Snapshot()
	rec, err := a.opts.Decisions.Evaluate(ctx, decision.TrendAnalysis, decision.Signals{
		LastAnalysisTime: snap.LastAnalysisTime,
		Trends:           snap.Trends.Flatten(),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate trend analysis: %w", err)
	}
	out := map[string]any{"decision": rec.Decision}
	if !rec.Decision.ShouldAct {
		out["skipped"] = true
		return out, nil
	}
	t, err := a.opts.Trends.MonitorTrends(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze trends: %w", err)
	}
	now := a.clock.Now()
	a.update(func(s *State) {
		s.LastAnalysisTime = &now
		s.Trends = t
		s.TrendsUpdatedAt = &now
	})
	out["trends"] = t
	if err := a.storeAction(ctx, task, string(decision.TrendAnalysis), map[string]any{"trends": t}); err != nil {
		return nil, err
	}
	logging.For(a.log, logging.Trend).Info("trends analyzed", "task_id", task.ID, "categories", len(t))
	return out, nil
}

func (a *Agent) handleGoalTask(ctx context.Context, task domain.Task) (map[string]any, error) {
	var goal domain.GoalSummary
	if raw, ok := task.Context["goal"]; ok {
		if err := remarshal(raw, &goal); err != nil {
			return nil, fmt.Errorf("decode goal: %w", err)
		}
	}
	objective, _ := task.Context["objective"].(string)

	snap := a.Snapshot()
	rec, err := a.opts.Decisions.Evaluate(ctx, decision.ContentCreation, decision.Signals{
		LastActionTime:    snap.LastActionTime,
		Trends:            snap.Trends.Flatten(),
		CurrentFocus:      goal.Name,
		RecentDiscussions: snap.RecentPosts,
		CommunityFocus:    objective,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate content creation: %w", err)
	}
	out := map[string]any{"goal_id": goal.GoalID, "decision": rec.Decision}
	if !rec.Decision.ShouldAct {
		out["skipped"] = true
		return out, nil
	}
	c, err := a.produce(ctx, task, a.opts.DefaultContentType, content.Brief{
		Goal:    goal.Name,
		Focus:   objective,
		Trends:  snap.Trends.Flatten(),
		Context: map[string]any{"goal_id": goal.GoalID, "progress": goal.Progress},
	})
	if err != nil {
		return nil, err
	}
	for k, v := range c {
		out[k] = v
	}
	return out, nil
}

func (a *Agent) handleGenerateContent(ctx context.Context, task domain.Task) (map[string]any, error) {
	contentType, _ := task.Context["content_type"].(string)
	if contentType == "" {
		contentType = a.opts.DefaultContentType
	}
	focus, _ := task.Context["focus"].(string)
	goal, _ := task.Context["goal_name"].(string)
	return a.produce(ctx, task, contentType, content.Brief{
		Goal:    goal,
		Focus:   focus,
		Trends:  a.Snapshot().Trends.Flatten(),
		Context: task.Context,
	})
}

// produce generates, publishes and records one piece of content.
func (a *Agent) produce(ctx context.Context, task domain.Task, contentType string, brief content.Brief) (map[string]any, error) {
	if a.opts.Content == nil {
		return nil, fmt.Errorf("no content generator configured")
	}
	c, err := a.opts.Content.Generate(ctx, contentType, brief)
	if err != nil {
		return nil, err
	}
	rc, err := a.opts.Publisher.Publish(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	now := a.clock.Now()
	a.update(func(s *State) {
		s.LastPostTime = &now
		s.RecentPosts = append(s.RecentPosts, c.Text)
		if n := len(s.RecentPosts); n > recentPostsKept {
			s.RecentPosts = append([]string(nil), s.RecentPosts[n-recentPostsKept:]...)
		}
	})
	payload := c.Map()
	payload["delivery_id"] = rc.DeliveryID
	payload["targets"] = rc.Targets
	if err := a.storeAction(ctx, task, string(decision.ContentCreation), payload); err != nil {
		return nil, err
	}
	logging.For(a.log, logging.Action).Info("content published",
		"task_id", task.ID, "type", c.Type, "targets", rc.Targets)
	return payload, nil
}

func (a *Agent) storeAction(ctx context.Context, task domain.Task, kind string, payload map[string]any) error {
	if a.opts.Memory == nil {
		return nil
	}
	err := a.opts.Memory.StoreActionResult(ctx, domain.ActionResult{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Kind:      kind,
		Status:    string(domain.TaskCompleted),
		Payload:   payload,
		CreatedAt: a.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("store action result: %w", err)
	}
	return nil
}

func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
