package goals

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/domain"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
}

type recordingPersister struct {
	saved []domain.Goal
	err   error
}

func (p *recordingPersister) SaveGoal(_ context.Context, g domain.Goal) error {
	p.saved = append(p.saved, g)
	return p.err
}

func TestCreateGoalStartsActiveAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithClock(fixedClock()))

	g, err := s.CreateGoal(ctx, "Grow", []string{"a", "b"}, "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, DefaultType, g.Type)
	assert.Equal(t, 1, g.Priority)
	assert.Equal(t, domain.GoalStatusActive, g.Status)
	require.Len(t, g.Objectives, 2)
	for _, o := range g.Objectives {
		assert.Zero(t, o.Progress)
		assert.False(t, o.Completed)
	}
	assert.Equal(t, map[string]float64{"engagement_rate": 0, "influence_score": 0, "trend_alignment": 0}, g.Metrics)
}

func TestGoalCompletesOnlyWhenAllObjectivesDone(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithClock(fixedClock()))
	g, err := s.CreateGoal(ctx, "Grow", []string{"a", "b"}, "growth", 2)
	require.NoError(t, err)

	g, err = s.UpdateGoalProgress(ctx, g.ID, 0, 1.0, map[string]float64{"posts": 3})
	require.NoError(t, err)
	assert.Equal(t, domain.GoalStatusActive, g.Status)
	assert.True(t, g.Objectives[0].Completed)
	assert.Equal(t, 3.0, g.Objectives[0].Metrics["posts"])

	g, err = s.UpdateGoalProgress(ctx, g.ID, 1, 1.0, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.GoalStatusCompleted, g.Status)
	require.NotNil(t, g.CompletedAt)
	first := *g.CompletedAt

	// progress may regress; the objective follows it but the goal stays completed
	g, err = s.UpdateGoalProgress(ctx, g.ID, 1, 0.2, nil)
	require.NoError(t, err)
	assert.False(t, g.Objectives[1].Completed)
	assert.True(t, g.Objectives[0].Completed)
	assert.Equal(t, domain.GoalStatusCompleted, g.Status)
	assert.Equal(t, first, *g.CompletedAt)
	assert.Empty(t, s.EvaluateGoals(ctx))
}

func TestUpdateGoalProgressNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g, err := s.CreateGoal(ctx, "Grow", []string{"a"}, "", 1)
	require.NoError(t, err)

	_, err = s.UpdateGoalProgress(ctx, "missing", 0, 0.5, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.UpdateGoalProgress(ctx, g.ID, 5, 0.5, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.UpdateGoalProgress(ctx, g.ID, -1, 0.5, nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	after, err := s.Get(g.ID)
	require.NoError(t, err)
	assert.Zero(t, after.Objectives[0].Progress)
}

func TestProgressIsClamped(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g, _ := s.CreateGoal(ctx, "Grow", []string{"a", "b"}, "", 1)

	g, err := s.UpdateGoalProgress(ctx, g.ID, 0, 1.7, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, g.Objectives[0].Progress)
	g, err = s.UpdateGoalProgress(ctx, g.ID, 1, -0.3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, g.Objectives[1].Progress)
}

func TestObjectiveCompletionFollowsProgress(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g, _ := s.CreateGoal(ctx, "Grow", []string{"a", "b"}, "", 1)

	g, err := s.UpdateGoalProgress(ctx, g.ID, 0, 1.0, nil)
	require.NoError(t, err)
	assert.True(t, g.Objectives[0].Completed)

	g, err = s.UpdateGoalProgress(ctx, g.ID, 0, 0.4, nil)
	require.NoError(t, err)
	assert.False(t, g.Objectives[0].Completed)
	assert.Equal(t, domain.GoalStatusActive, g.Status)

	prios := s.GetPriorityObjectives(ctx)
	require.Len(t, prios, 2)
}

func TestUpdateGoalProgressRejectsNonFinite(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g, _ := s.CreateGoal(ctx, "Grow", []string{"a"}, "", 1)
	_, err := s.UpdateGoalProgress(ctx, g.ID, 0, 0.5, nil)
	require.NoError(t, err)

	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := s.UpdateGoalProgress(ctx, g.ID, 0, p, nil)
		assert.True(t, errors.Is(err, ErrInvalidProgress), "progress %v", p)
	}

	after, err := s.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, after.Objectives[0].Progress)
	assert.Equal(t, domain.GoalStatusActive, after.Status)
}

func TestEvaluateGoalsMeanProgressInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a, _ := s.CreateGoal(ctx, "A", []string{"x", "y"}, "", 1)
	b, _ := s.CreateGoal(ctx, "B", nil, "", 3)
	done, _ := s.CreateGoal(ctx, "Done", []string{"z"}, "", 1)

	_, err := s.UpdateGoalProgress(ctx, a.ID, 0, 0.5, nil)
	require.NoError(t, err)
	_, err = s.UpdateGoalProgress(ctx, a.ID, 1, 1.0, nil)
	require.NoError(t, err)
	_, err = s.UpdateGoalProgress(ctx, done.ID, 0, 1.0, nil)
	require.NoError(t, err)

	summaries := s.EvaluateGoals(ctx)
	require.Len(t, summaries, 2)
	assert.Equal(t, a.ID, summaries[0].GoalID)
	assert.InDelta(t, 0.75, summaries[0].Progress, 1e-9)
	assert.Equal(t, b.ID, summaries[1].GoalID)
	assert.Zero(t, summaries[1].Progress)
	assert.Equal(t, 3, summaries[1].Priority)
}

func TestGetPriorityObjectivesOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g1, _ := s.CreateGoal(ctx, "low", []string{"A", "B"}, "", 1)
	g2, _ := s.CreateGoal(ctx, "high", []string{"C"}, "", 2)

	_, err := s.UpdateGoalProgress(ctx, g1.ID, 0, 0.2, nil)
	require.NoError(t, err)
	_, err = s.UpdateGoalProgress(ctx, g1.ID, 1, 0.9, nil)
	require.NoError(t, err)
	_, err = s.UpdateGoalProgress(ctx, g2.ID, 0, 0.5, nil)
	require.NoError(t, err)

	objs := s.GetPriorityObjectives(ctx)
	var got []string
	for _, o := range objs {
		got = append(got, o.Description)
	}
	assert.Equal(t, []string{"C", "A", "B"}, got)
}

func TestPersisterReceivesChanges(t *testing.T) {
	ctx := context.Background()
	p := &recordingPersister{}
	s := NewStore(WithPersister(p))
	g, err := s.CreateGoal(ctx, "Grow", []string{"a"}, "", 1)
	require.NoError(t, err)
	_, err = s.UpdateGoalMetrics(ctx, g.ID, map[string]float64{"engagement_rate": 0.4})
	require.NoError(t, err)
	require.Len(t, p.saved, 2)
	assert.Equal(t, 0.4, p.saved[1].Metrics["engagement_rate"])

	p.err = errors.New("disk full")
	_, err = s.UpdateGoalProgress(ctx, g.ID, 0, 0.5, nil)
	require.Error(t, err)
	after, _ := s.Get(g.ID)
	assert.Equal(t, 0.5, after.Objectives[0].Progress)
}

func TestLoadKeepsOrderAndSkipsDuplicates(t *testing.T) {
	s := NewStore()
	a := domain.Goal{ID: "a", Name: "A", Status: domain.GoalStatusActive, Priority: 1}
	b := domain.Goal{ID: "b", Name: "B", Status: domain.GoalStatusCompleted, Priority: 1}
	s.Load(a, b, a)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Len(t, s.EvaluateGoals(context.Background()), 1)
}

func TestReturnedGoalsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	g, _ := s.CreateGoal(ctx, "Grow", []string{"a"}, "", 1)
	g.Metrics["engagement_rate"] = 9
	g.Objectives[0].Progress = 1

	stored, _ := s.Get(g.ID)
	assert.Zero(t, stored.Metrics["engagement_rate"])
	assert.Zero(t, stored.Objectives[0].Progress)
}
