// Package engine is the sqlite-backed task queue and memory store. Every
// mutation runs in a transaction together with its event.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herald/internal/domain"
	"herald/internal/events"
	"herald/internal/repo"
)

// TaskObserver is told about every task status change.
type TaskObserver interface {
	ObserveTask(taskType string, status string)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Now      func() time.Time
	Observer TaskObserver
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) observe(t domain.Task) {
	if e.Observer != nil {
		e.Observer.ObserveTask(string(t.Type), string(t.Status))
	}
}

// CreateTask enqueues a pending task. The queue does not interpret the type;
// dispatch decides what an unknown tag means.
func (e Engine) CreateTask(ctx context.Context, taskType domain.TaskType, priority int, taskCtx map[string]any) (domain.Task, error) {
	if taskType == "" {
		return domain.Task{}, errors.New("task type is required")
	}
	if taskCtx == nil {
		taskCtx = map[string]any{}
	}
	now := e.now()
	t := domain.Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Priority:  priority,
		Context:   taskCtx,
		Status:    domain.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.TaskCreated, "task", t.ID, "", events.EventPayload{
		"type":     string(t.Type),
		"priority": t.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.observe(t)
	return t, nil
}

// NextTask claims the highest priority pending task, oldest first, and moves
// it to in_progress. It returns repo.ErrNotFound when the queue is empty.
func (e Engine) NextTask(ctx context.Context) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.NextPendingTx(ctx, tx)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskInProgress); err != nil {
		return domain.Task{}, err
	}
	now := e.now()
	t.Status = domain.TaskInProgress
	t.UpdatedAt = now
	t.StartedAt = &now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.writer().Append(ctx, tx, events.TaskStarted, "task", t.ID, "", events.EventPayload{"type": string(t.Type)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.observe(t)
	return t, nil
}

// RequeueInProgress returns every in_progress task to pending. A task is only
// in_progress while a worker holds it, so at startup any such task was
// orphaned by a previous process that stopped mid-task.
func (e Engine) RequeueInProgress(ctx context.Context) ([]domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	claimed, err := e.Repo.InProgressTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range claimed {
		t := &claimed[i]
		if err := ensureTaskTransition(t.Status, domain.TaskPending); err != nil {
			return nil, err
		}
		t.Status = domain.TaskPending
		t.UpdatedAt = now
		t.StartedAt = nil
		if err := e.Repo.UpdateTask(ctx, tx, *t); err != nil {
			return nil, err
		}
		if err := e.writer().Append(ctx, tx, events.TaskRequeued, "task", t.ID, "", events.EventPayload{"type": string(t.Type)}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, t := range claimed {
		e.observe(t)
	}
	return claimed, nil
}

// CompleteTask records the outcome of an in_progress task.
func (e Engine) CompleteTask(ctx context.Context, id string, res domain.TaskResult) error {
	status := res.Status
	if status != domain.TaskCompleted && status != domain.TaskFailed {
		return fmt.Errorf("task result status must be completed or failed, got %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := ensureTaskTransition(t.Status, status); err != nil {
		return err
	}
	now := e.now()
	if res.Timestamp.IsZero() {
		res.Timestamp = now
	}
	t.Status = status
	t.Result = res.Map()
	t.UpdatedAt = now
	t.CompletedAt = &now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	evt := events.TaskCompleted
	payload := events.EventPayload{"type": string(t.Type)}
	if status == domain.TaskFailed {
		evt = events.TaskFailed
		payload["error"] = res.Error
	}
	if err := e.writer().Append(ctx, tx, evt, "task", t.ID, "", payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.observe(t)
	return nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountTasksByStatus(ctx)
}

func ensureTaskTransition(oldStatus, newStatus domain.TaskStatus) error {
	switch oldStatus {
	case domain.TaskPending:
		if newStatus == domain.TaskInProgress {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskCompleted || newStatus == domain.TaskFailed || newStatus == domain.TaskPending {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}
