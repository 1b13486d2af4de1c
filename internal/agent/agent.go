// Package agent runs the autonomous loops: goal evaluation, task execution
// and trend monitoring.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"herald/internal/content"
	"herald/internal/decision"
	"herald/internal/domain"
	"herald/internal/logging"
	"herald/internal/metrics"
	"herald/internal/publish"
	"herald/internal/trends"
)

// ErrFatal marks errors that must stop every loop. Anything else is treated
// as transient and retried on the next iteration.
var ErrFatal = errors.New("fatal")

// Fatal wraps err so the loop that returns it shuts the agent down.
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

type Cycle string

const (
	CycleGoal  Cycle = "goal"
	CycleTask  Cycle = "task"
	CycleTrend Cycle = "trend"
)

type Schedule struct {
	Interval time.Duration
	Retry    time.Duration
}

var DefaultSchedules = map[Cycle]Schedule{
	CycleGoal:  {Interval: 60 * time.Second, Retry: 30 * time.Second},
	CycleTask:  {Interval: 5 * time.Second, Retry: 5 * time.Second},
	CycleTrend: {Interval: 30 * time.Second, Retry: 10 * time.Second},
}

const (
	StatusInitializing = "initializing"
	StatusRunning      = "running"
	StatusStopped      = "stopped"
)

type GoalStore interface {
	EvaluateGoals(ctx context.Context) []domain.GoalSummary
	GetPriorityObjectives(ctx context.Context) []domain.PriorityObjective
}

// TaskQueue is the queue contract. NextTask returns ErrQueueEmpty (or an
// error the caller maps to it via IsEmpty) when nothing is pending.
type TaskQueue interface {
	CreateTask(ctx context.Context, taskType domain.TaskType, priority int, taskCtx map[string]any) (domain.Task, error)
	NextTask(ctx context.Context) (domain.Task, error)
	CompleteTask(ctx context.Context, id string, res domain.TaskResult) error
}

type MemoryStore interface {
	StoreActionResult(ctx context.Context, a domain.ActionResult) error
}

type Decider interface {
	Evaluate(ctx context.Context, action decision.ActionType, signals decision.Signals) (domain.DecisionRecord, error)
}

type Generator interface {
	Generate(ctx context.Context, contentType string, brief content.Brief) (content.Content, error)
}

type Options struct {
	Goals     GoalStore
	Tasks     TaskQueue
	Memory    MemoryStore
	Decisions Decider
	Trends    trends.Monitor
	Content   Generator
	Publisher publish.Publisher

	// IsEmpty reports whether a NextTask error means the queue is empty.
	IsEmpty            func(error) bool
	Schedules          map[Cycle]Schedule
	Clock              Clock
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
	Closers            []io.Closer
	DefaultContentType string
}

type CycleStats struct {
	Iterations          int           `json:"iterations"`
	Failures            int           `json:"failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	LastRun             *time.Time    `json:"last_run,omitempty"`
	LastDuration        time.Duration `json:"last_duration"`
}

// State is the shared view of the agent. Each loop writes only its own
// fields; readers take a Snapshot.
type State struct {
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Fatal     string     `json:"fatal_error,omitempty"`

	// goal loop
	ActiveGoals []domain.GoalSummary `json:"active_goals"`

	// task loop
	CurrentTask *domain.Task `json:"current_task,omitempty"`
	// LastActionTime moves after every completed or failed task.
	LastActionTime   *time.Time `json:"last_action_time,omitempty"`
	LastPostTime     *time.Time `json:"last_post_time,omitempty"`
	LastAnalysisTime *time.Time `json:"last_analysis_time,omitempty"`
	RecentPosts      []string   `json:"recent_posts,omitempty"`

	// trend loop
	Trends          trends.Trends `json:"trends,omitempty"`
	TrendsUpdatedAt *time.Time    `json:"trends_updated_at,omitempty"`

	Cycles map[Cycle]CycleStats `json:"cycles"`
}

const recentPostsKept = 5

type handlerFunc func(ctx context.Context, task domain.Task) (map[string]any, error)

type Agent struct {
	opts     Options
	clock    Clock
	log      *slog.Logger
	handlers map[domain.TaskType]handlerFunc

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
	closed bool
}

func New(opts Options) (*Agent, error) {
	switch {
	case opts.Goals == nil:
		return nil, errors.New("agent: goal store is required")
	case opts.Tasks == nil:
		return nil, errors.New("agent: task queue is required")
	case opts.Decisions == nil:
		return nil, errors.New("agent: decision engine is required")
	case opts.Trends == nil:
		return nil, errors.New("agent: trend monitor is required")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Publisher == nil {
		opts.Publisher = publish.LogPublisher{Log: opts.Logger}
	}
	if opts.IsEmpty == nil {
		opts.IsEmpty = func(err error) bool { return errors.Is(err, ErrQueueEmpty) }
	}
	if opts.DefaultContentType == "" {
		opts.DefaultContentType = "post"
	}
	schedules := map[Cycle]Schedule{}
	for c, s := range DefaultSchedules {
		schedules[c] = s
	}
	for c, s := range opts.Schedules {
		if s.Interval > 0 {
			schedules[c] = Schedule{Interval: s.Interval, Retry: s.Retry}
		}
		if schedules[c].Retry <= 0 {
			schedules[c] = Schedule{Interval: schedules[c].Interval, Retry: schedules[c].Interval}
		}
	}
	opts.Schedules = schedules

	a := &Agent{
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger,
		state: State{Status: StatusInitializing, Cycles: map[Cycle]CycleStats{}},
	}
	a.handlers = map[domain.TaskType]handlerFunc{
		domain.TaskGoal:            a.handleGoalTask,
		domain.TaskAnalyzeTrends:   a.handleAnalyzeTrends,
		domain.TaskGenerateContent: a.handleGenerateContent,
	}
	return a, nil
}

// ErrQueueEmpty is what NextTask returns, or wraps, when nothing is pending.
var ErrQueueEmpty = errors.New("task queue empty")

// Run starts the three loops and blocks until Stop, ctx cancellation or a
// fatal error. Auxiliary closers are closed before it returns.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if a.state.Status == StatusRunning {
		a.mu.Unlock()
		return errors.New("agent already running")
	}
	now := a.clock.Now()
	a.cancel = cancel
	a.state.Status = StatusRunning
	a.state.StartedAt = &now
	a.state.StoppedAt = nil
	a.state.Fatal = ""
	a.mu.Unlock()
	a.opts.Metrics.SetRunning(true)

	sys := logging.For(a.log, logging.System)
	sys.Info("agent started",
		"goal_interval", a.opts.Schedules[CycleGoal].Interval,
		"task_interval", a.opts.Schedules[CycleTask].Interval,
		"trend_interval", a.opts.Schedules[CycleTrend].Interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(gctx, CycleGoal, a.goalIteration) })
	g.Go(func() error { return a.loop(gctx, CycleTask, a.taskIteration) })
	g.Go(func() error { return a.loop(gctx, CycleTrend, a.trendIteration) })
	err := g.Wait()

	stopped := a.clock.Now()
	a.mu.Lock()
	a.state.Status = StatusStopped
	a.state.StoppedAt = &stopped
	a.state.CurrentTask = nil
	if err != nil {
		a.state.Fatal = err.Error()
	}
	a.cancel = nil
	a.mu.Unlock()
	a.opts.Metrics.SetRunning(false)

	if err != nil {
		logging.For(a.log, logging.Error).Error("agent stopped on fatal error", "critical", true, "error", err)
	} else {
		sys.Info("agent stopped")
	}
	a.closeAux()
	return err
}

// Stop asks every loop to finish its current iteration and exit.
func (a *Agent) Stop() {
	a.mu.RLock()
	cancel := a.cancel
	a.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Agent) closeAux() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	// closers run in reverse so the log sink registered first closes last
	for i := len(a.opts.Closers) - 1; i >= 0; i-- {
		if err := a.opts.Closers[i].Close(); err != nil {
			logging.For(a.log, logging.System).Warn("close failed", "error", err)
		}
	}
}

// Snapshot returns a copy of the shared state.
func (a *Agent) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.state
	s.ActiveGoals = append([]domain.GoalSummary(nil), a.state.ActiveGoals...)
	s.RecentPosts = append([]string(nil), a.state.RecentPosts...)
	if a.state.CurrentTask != nil {
		t := *a.state.CurrentTask
		s.CurrentTask = &t
	}
	if a.state.Trends != nil {
		s.Trends = trends.Trends{}
		for k, v := range a.state.Trends {
			s.Trends[k] = append([]string(nil), v...)
		}
	}
	s.Cycles = make(map[Cycle]CycleStats, len(a.state.Cycles))
	for k, v := range a.state.Cycles {
		s.Cycles[k] = v
	}
	return s
}

func (a *Agent) update(fn func(s *State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.state)
}

func (a *Agent) loop(ctx context.Context, c Cycle, iter func(context.Context) error) error {
	sched := a.opts.Schedules[c]
	errLog := logging.For(a.log, logging.Error).With("cycle", string(c))
	for {
		if ctx.Err() != nil {
			return nil
		}
		start := a.clock.Now()
		err := a.runIteration(ctx, iter)
		a.record(c, start, err)

		wait := sched.Interval
		if err != nil {
			if errors.Is(err, ErrFatal) {
				return fmt.Errorf("%s cycle: %w", c, err)
			}
			if ctx.Err() != nil {
				return nil
			}
			errLog.Error("cycle iteration failed", "error", err, "retry_in", sched.Retry)
			wait = sched.Retry
		}
		select {
		case <-ctx.Done():
			return nil
		case <-a.clock.After(wait):
		}
	}
}

func (a *Agent) runIteration(ctx context.Context, iter func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Fatal(fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	return iter(ctx)
}

func (a *Agent) record(c Cycle, start time.Time, err error) {
	end := a.clock.Now()
	a.update(func(s *State) {
		st := s.Cycles[c]
		st.Iterations++
		st.LastRun = &start
		st.LastDuration = end.Sub(start)
		if err != nil {
			st.Failures++
			st.ConsecutiveFailures++
			st.LastError = err.Error()
		} else {
			st.ConsecutiveFailures = 0
		}
		s.Cycles[c] = st
	})
	a.opts.Metrics.ObserveCycle(string(c), end.Sub(start), err)
}

func (a *Agent) goalIteration(ctx context.Context) error {
	summaries := a.opts.Goals.EvaluateGoals(ctx)
	focus := map[string]string{}
	for _, o := range a.opts.Goals.GetPriorityObjectives(ctx) {
		if _, ok := focus[o.GoalID]; !ok {
			focus[o.GoalID] = o.Description
		}
	}
	for _, s := range summaries {
		taskCtx := map[string]any{"goal": s}
		if obj := focus[s.GoalID]; obj != "" {
			taskCtx["objective"] = obj
		}
		if _, err := a.opts.Tasks.CreateTask(ctx, domain.TaskGoal, s.Priority, taskCtx); err != nil {
			return fmt.Errorf("create task for goal %s: %w", s.GoalID, err)
		}
	}
	a.update(func(st *State) { st.ActiveGoals = summaries })
	logging.For(a.log, logging.Goal).Info("goals evaluated", "active", len(summaries))
	return nil
}

func (a *Agent) taskIteration(ctx context.Context) error {
	task, err := a.opts.Tasks.NextTask(ctx)
	if err != nil {
		if !a.opts.IsEmpty(err) {
			return fmt.Errorf("next task: %w", err)
		}
		if _, err := a.opts.Tasks.CreateTask(ctx, domain.TaskAnalyzeTrends, 1, map[string]any{"source": "automatic"}); err != nil {
			return fmt.Errorf("create default task: %w", err)
		}
		if task, err = a.opts.Tasks.NextTask(ctx); err != nil {
			return fmt.Errorf("claim default task: %w", err)
		}
	}
	a.update(func(s *State) { s.CurrentTask = &task })
	log := logging.For(a.log, logging.Task).With("task_id", task.ID, "type", string(task.Type))
	log.Info("task started", "priority", task.Priority)

	res, fatal := a.execute(ctx, task)
	// bookkeeping must land even when Stop interrupts the handler
	if err := a.opts.Tasks.CompleteTask(context.WithoutCancel(ctx), task.ID, res); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	done := a.clock.Now()
	a.update(func(s *State) {
		s.CurrentTask = nil
		s.LastActionTime = &done
	})
	if res.Status == domain.TaskFailed {
		log.Warn("task failed", "error", res.Error)
	} else {
		log.Info("task completed")
	}
	return fatal
}

// execute dispatches on the task type. Handler errors become failed results;
// only fatal errors are returned.
func (a *Agent) execute(ctx context.Context, task domain.Task) (domain.TaskResult, error) {
	h, ok := a.handlers[task.Type]
	if !ok {
		return domain.TaskResult{
			Status:    domain.TaskFailed,
			Error:     fmt.Sprintf("unknown task type %q", task.Type),
			Timestamp: a.clock.Now(),
		}, nil
	}
	out, err := h(ctx, task)
	if err != nil {
		res := domain.TaskResult{Status: domain.TaskFailed, Error: err.Error(), Timestamp: a.clock.Now()}
		if errors.Is(err, ErrFatal) {
			return res, err
		}
		return res, nil
	}
	return domain.TaskResult{Status: domain.TaskCompleted, Result: out, Timestamp: a.clock.Now()}, nil
}

func (a *Agent) trendIteration(ctx context.Context) error {
	t, err := a.opts.Trends.MonitorTrends(ctx)
	if err != nil {
		return fmt.Errorf("monitor trends: %w", err)
	}
	now := a.clock.Now()
	a.update(func(s *State) {
		s.Trends = t
		s.TrendsUpdatedAt = &now
	})
	log := logging.For(a.log, logging.Trend)
	cats := make([]string, 0, len(t))
	for c := range t {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		top := t[c]
		if len(top) > 2 {
			top = top[:2]
		}
		log.Info("trending", "category", c, "top", top)
	}
	return nil
}
