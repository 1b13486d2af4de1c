package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"herald/internal/db"
	"herald/internal/domain"
	"herald/internal/engine"
	"herald/internal/goals"
	"herald/internal/migrate"
	"herald/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, domain.TaskAnalyzeTrends, 1, map[string]any{"source": "automatic"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.TaskPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	next, err := env.Engine.NextTask(env.Ctx)
	if err != nil {
		t.Fatalf("next task: %v", err)
	}
	if next.ID != task.ID || next.Status != domain.TaskInProgress || next.StartedAt == nil {
		t.Fatalf("unexpected claimed task: %+v", next)
	}
	if next.Context["source"] != "automatic" {
		t.Fatalf("context not round-tripped: %+v", next.Context)
	}
	res := domain.TaskResult{Status: domain.TaskCompleted, Result: map[string]any{"trends": 3}}
	if err := env.Engine.CompleteTask(env.Ctx, task.ID, res); err != nil {
		t.Fatalf("complete: %v", err)
	}
	done, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.TaskCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed task, got %+v", done)
	}
	if done.Result["status"] != "completed" {
		t.Fatalf("result not stored: %+v", done.Result)
	}
	// terminal tasks cannot move again
	if err := env.Engine.CompleteTask(env.Ctx, task.ID, domain.TaskResult{Status: domain.TaskFailed}); err == nil {
		t.Fatalf("expected transition error")
	}
}

func TestNextTaskOrdering(t *testing.T) {
	env := newTestEnv(t)
	low, _ := env.Engine.CreateTask(env.Ctx, domain.TaskGoal, 1, nil)
	high, _ := env.Engine.CreateTask(env.Ctx, domain.TaskGoal, 3, nil)
	lowSecond, _ := env.Engine.CreateTask(env.Ctx, domain.TaskGoal, 1, nil)

	var got []string
	for i := 0; i < 3; i++ {
		next, err := env.Engine.NextTask(env.Ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		got = append(got, next.ID)
	}
	want := []string{high.ID, low.ID, lowSecond.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
	if _, err := env.Engine.NextTask(env.Ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}
}

func TestCompleteTaskFailure(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, domain.TaskType("dance"), 1, nil)
	if _, err := env.Engine.NextTask(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.CompleteTask(env.Ctx, task.ID, domain.TaskResult{Status: domain.TaskFailed, Error: "unknown task type"}); err != nil {
		t.Fatalf("fail task: %v", err)
	}
	counts, err := env.Engine.CountTasksByStatus(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["failed"] != 1 {
		t.Fatalf("expected one failed task, got %v", counts)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{Type: "task.failed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].EntityID != task.ID {
		t.Fatalf("expected task.failed event, got %+v", evts)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, domain.TaskGoal, 1, nil)
	if err := env.Engine.CompleteTask(env.Ctx, task.ID, domain.TaskResult{Status: domain.TaskCompleted}); err == nil {
		t.Fatalf("expected error completing a pending task")
	}
	if err := env.Engine.CompleteTask(env.Ctx, "missing", domain.TaskResult{Status: domain.TaskCompleted}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.Engine.CompleteTask(env.Ctx, task.ID, domain.TaskResult{Status: domain.TaskPending}); err == nil {
		t.Fatalf("expected invalid result status error")
	}
}

func TestGoalPersistenceRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	store := goals.NewStore(goals.WithPersister(env.Engine))
	a, err := store.CreateGoal(env.Ctx, "A", []string{"x"}, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.CreateGoal(env.Ctx, "B", []string{"y"}, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpdateGoalProgress(env.Ctx, a.ID, 0, 1.0, nil); err != nil {
		t.Fatal(err)
	}

	loaded, err := env.Engine.LoadGoals(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0].ID != a.ID || loaded[1].ID != b.ID {
		t.Fatalf("unexpected goals: %+v", loaded)
	}
	if loaded[0].Status != domain.GoalStatusCompleted || loaded[0].CompletedAt == nil {
		t.Fatalf("completion not persisted: %+v", loaded[0])
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{Type: "goal.completed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one goal.completed event, got %d", len(evts))
	}

	restored := goals.NewStore()
	restored.Load(loaded...)
	if got := restored.EvaluateGoals(env.Ctx); len(got) != 1 || got[0].GoalID != b.ID {
		t.Fatalf("unexpected active goals after restore: %+v", got)
	}
}

func TestDecisionsAndWeights(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.DecisionRecord{
		ID:        "d1",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Action:    "trend_analysis",
		Context:   map[string]any{"trends": []any{"ai"}},
		Raw:       map[string]float64{"urgency": 1, "relevance": 0.8, "impact": 0.7},
		Weighted:  map[string]float64{"urgency": 0.4, "relevance": 0.24, "impact": 0.21},
		Decision:  domain.DecisionOutcome{ShouldAct: true, Confidence: 0.283, Total: 0.85, Threshold: 0.4, Reasoning: "r"},
	}
	if err := env.Engine.RecordDecision(env.Ctx, rec); err != nil {
		t.Fatal(err)
	}
	list, err := env.Engine.ListDecisions(env.Ctx, repo.DecisionFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Decision.ShouldAct || list[0].Raw["relevance"] != 0.8 {
		t.Fatalf("unexpected decisions: %+v", list)
	}

	weights := map[string]map[string]float64{"content_creation": {"timing": 0.4}}
	if err := env.Engine.SaveWeights(env.Ctx, weights); err != nil {
		t.Fatal(err)
	}
	weights["content_creation"]["timing"] = 0.5
	if err := env.Engine.SaveWeights(env.Ctx, weights); err != nil {
		t.Fatal(err)
	}
	loaded, err := env.Engine.LoadWeights(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded["content_creation"]["timing"] != 0.5 {
		t.Fatalf("unexpected weights: %+v", loaded)
	}
}

func TestStoreActionResult(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.StoreActionResult(env.Ctx, domain.ActionResult{
		TaskID:  "t1",
		Kind:    "content",
		Status:  "published",
		Payload: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.ListActionResults(env.Ctx, repo.ActionFilters{TaskID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Payload["text"] != "hello" || got[0].ID == "" {
		t.Fatalf("unexpected action results: %+v", got)
	}
}

func TestRequeueInProgressReturnsOrphansToQueue(t *testing.T) {
	env := newTestEnv(t)
	orphan, _ := env.Engine.CreateTask(env.Ctx, domain.TaskGoal, 2, nil)
	waiting, _ := env.Engine.CreateTask(env.Ctx, domain.TaskAnalyzeTrends, 1, nil)
	if _, err := env.Engine.NextTask(env.Ctx); err != nil {
		t.Fatal(err)
	}

	requeued, err := env.Engine.RequeueInProgress(env.Ctx)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(requeued) != 1 || requeued[0].ID != orphan.ID {
		t.Fatalf("expected orphan to be requeued, got %+v", requeued)
	}
	got, err := env.Engine.GetTask(env.Ctx, orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskPending || got.StartedAt != nil {
		t.Fatalf("expected pending task without start time, got %+v", got)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{Type: "task.requeued"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].EntityID != orphan.ID {
		t.Fatalf("expected task.requeued event, got %+v", evts)
	}

	// the orphan keeps its priority and is claimed again before the waiting task
	next, err := env.Engine.NextTask(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != orphan.ID {
		t.Fatalf("expected orphan first, got %s (waiting %s)", next.ID, waiting.ID)
	}

	if err := env.Engine.CompleteTask(env.Ctx, orphan.ID, domain.TaskResult{Status: domain.TaskCompleted}); err != nil {
		t.Fatal(err)
	}
	requeued, err = env.Engine.RequeueInProgress(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(requeued) != 0 {
		t.Fatalf("expected nothing to requeue, got %+v", requeued)
	}
}
