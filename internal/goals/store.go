// Package goals keeps the agent's goals, their objectives and progress.
package goals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"herald/internal/domain"
)

var (
	ErrNotFound        = errors.New("goal not found")
	ErrInvalidProgress = errors.New("invalid progress: must be a finite number")
)

const DefaultType = "general"

// Persister receives every goal after it changes. The in-memory store stays
// authoritative; a persistence error is reported to the caller.
type Persister interface {
	SaveGoal(ctx context.Context, g domain.Goal) error
}

type Store struct {
	mu      sync.Mutex
	order   []string
	goals   map[string]*domain.Goal
	persist Persister
	now     func() time.Time
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{goals: map[string]*domain.Goal{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores previously persisted goals, keeping their order. Goals whose
// id is already present are skipped.
func (s *Store) Load(goals ...domain.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range goals {
		if _, ok := s.goals[g.ID]; ok {
			continue
		}
		c := g.Clone()
		s.goals[c.ID] = &c
		s.order = append(s.order, c.ID)
	}
}

func (s *Store) CreateGoal(ctx context.Context, name string, objectives []string, goalType string, priority int) (domain.Goal, error) {
	if goalType == "" {
		goalType = DefaultType
	}
	if priority < 1 {
		priority = 1
	}
	g := domain.Goal{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       goalType,
		Status:     domain.GoalStatusActive,
		Priority:   priority,
		Objectives: make([]domain.Objective, 0, len(objectives)),
		Metrics: map[string]float64{
			"engagement_rate": 0,
			"influence_score": 0,
			"trend_alignment": 0,
		},
		CreatedAt: s.now().UTC(),
	}
	for _, desc := range objectives {
		g.Objectives = append(g.Objectives, domain.Objective{Description: desc, Metrics: map[string]float64{}})
	}

	s.mu.Lock()
	s.goals[g.ID] = &g
	s.order = append(s.order, g.ID)
	out := g.Clone()
	s.mu.Unlock()

	return out, s.save(ctx, out)
}

// UpdateGoalProgress sets one objective's progress and merges its metrics.
// An objective is completed while its progress is 1.0. The goal completes the
// first time every objective reaches 1.0 and never reverts to active afterwards.
func (s *Store) UpdateGoalProgress(ctx context.Context, goalID string, index int, progress float64, metrics map[string]float64) (domain.Goal, error) {
	if math.IsNaN(progress) || math.IsInf(progress, 0) {
		return domain.Goal{}, fmt.Errorf("goal %s objective %d progress %v: %w", goalID, index, progress, ErrInvalidProgress)
	}
	s.mu.Lock()
	g, ok := s.goals[goalID]
	if !ok {
		s.mu.Unlock()
		return domain.Goal{}, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	if index < 0 || index >= len(g.Objectives) {
		s.mu.Unlock()
		return domain.Goal{}, fmt.Errorf("goal %s objective %d: %w", goalID, index, ErrNotFound)
	}
	obj := &g.Objectives[index]
	obj.Progress = clamp(progress)
	if obj.Metrics == nil {
		obj.Metrics = map[string]float64{}
	}
	for k, v := range metrics {
		obj.Metrics[k] = v
	}
	obj.Completed = obj.Progress >= 1.0
	if g.Status == domain.GoalStatusActive && allComplete(g.Objectives) {
		g.Status = domain.GoalStatusCompleted
		now := s.now().UTC()
		g.CompletedAt = &now
	}
	out := g.Clone()
	s.mu.Unlock()

	return out, s.save(ctx, out)
}

// UpdateGoalMetrics merges goal-level metrics such as engagement_rate.
func (s *Store) UpdateGoalMetrics(ctx context.Context, goalID string, metrics map[string]float64) (domain.Goal, error) {
	s.mu.Lock()
	g, ok := s.goals[goalID]
	if !ok {
		s.mu.Unlock()
		return domain.Goal{}, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	if g.Metrics == nil {
		g.Metrics = map[string]float64{}
	}
	for k, v := range metrics {
		g.Metrics[k] = v
	}
	out := g.Clone()
	s.mu.Unlock()

	return out, s.save(ctx, out)
}

// EvaluateGoals summarizes every active goal in insertion order.
func (s *Store) EvaluateGoals(ctx context.Context) []domain.GoalSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]domain.GoalSummary, 0, len(s.order))
	for _, id := range s.order {
		g := s.goals[id]
		if g.Status != domain.GoalStatusActive {
			continue
		}
		c := g.Clone()
		res = append(res, domain.GoalSummary{
			GoalID:   c.ID,
			Name:     c.Name,
			Progress: c.Progress(),
			Metrics:  c.Metrics,
			Priority: c.Priority,
		})
	}
	return res
}

// GetPriorityObjectives lists unfinished objectives of active goals, highest
// goal priority first and least progress first within equal priority.
func (s *Store) GetPriorityObjectives(ctx context.Context) []domain.PriorityObjective {
	s.mu.Lock()
	var res []domain.PriorityObjective
	for _, id := range s.order {
		g := s.goals[id]
		if g.Status != domain.GoalStatusActive {
			continue
		}
		for i, o := range g.Objectives {
			if o.Progress >= 1.0 {
				continue
			}
			res = append(res, domain.PriorityObjective{
				GoalID:         g.ID,
				GoalName:       g.Name,
				GoalPriority:   g.Priority,
				ObjectiveIndex: i,
				Description:    o.Description,
				Progress:       o.Progress,
			})
		}
	}
	s.mu.Unlock()

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].GoalPriority != res[j].GoalPriority {
			return res[i].GoalPriority > res[j].GoalPriority
		}
		return 1-res[i].Progress > 1-res[j].Progress
	})
	return res
}

func (s *Store) Get(goalID string) (domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalID]
	if !ok {
		return domain.Goal{}, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return g.Clone(), nil
}

// List returns all goals, active and completed, in insertion order.
func (s *Store) List() []domain.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]domain.Goal, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.goals[id].Clone())
	}
	return res
}

func (s *Store) save(ctx context.Context, g domain.Goal) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveGoal(ctx, g); err != nil {
		return fmt.Errorf("persist goal %s: %w", g.ID, err)
	}
	return nil
}

func allComplete(objs []domain.Objective) bool {
	if len(objs) == 0 {
		return false
	}
	for _, o := range objs {
		if o.Progress < 1.0 {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
