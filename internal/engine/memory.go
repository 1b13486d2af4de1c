package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"herald/internal/domain"
	"herald/internal/events"
	"herald/internal/repo"
)

// StoreActionResult appends an action outcome to the memory store.
func (e Engine) StoreActionResult(ctx context.Context, a domain.ActionResult) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActionResultTx(ctx, tx, a); err != nil {
		return fmt.Errorf("insert action result: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.ActionRecorded, "action", a.ID, "", events.EventPayload{
		"kind":    a.Kind,
		"status":  a.Status,
		"task_id": a.TaskID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListActionResults(ctx context.Context, f repo.ActionFilters) ([]domain.ActionResult, error) {
	return e.Repo.ListActionResults(ctx, f)
}

// SaveGoal persists a goal snapshot and logs the change.
func (e Engine) SaveGoal(ctx context.Context, g domain.Goal) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var prevStatus string
	existing := true
	err = tx.QueryRowContext(ctx, `SELECT status FROM goals WHERE id=?`, g.ID).Scan(&prevStatus)
	if errors.Is(err, sql.ErrNoRows) {
		existing = false
	} else if err != nil {
		return err
	}
	if err := e.Repo.UpsertGoalTx(ctx, tx, g); err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	evt := events.GoalUpdated
	switch {
	case !existing:
		evt = events.GoalCreated
	case prevStatus != g.Status && g.Status == domain.GoalStatusCompleted:
		evt = events.GoalCompleted
	}
	if err := e.writer().Append(ctx, tx, evt, "goal", g.ID, "", events.EventPayload{
		"name":     g.Name,
		"status":   g.Status,
		"progress": g.Progress(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) LoadGoals(ctx context.Context) ([]domain.Goal, error) {
	return e.Repo.ListGoals(ctx)
}

func (e Engine) RecordDecision(ctx context.Context, rec domain.DecisionRecord) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDecisionTx(ctx, tx, rec); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.DecisionMade, "decision", rec.ID, "", events.EventPayload{
		"action_type": rec.Action,
		"should_act":  rec.Decision.ShouldAct,
		"confidence":  rec.Decision.Confidence,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListDecisions(ctx context.Context, f repo.DecisionFilters) ([]domain.DecisionRecord, error) {
	return e.Repo.ListDecisions(ctx, f)
}

func (e Engine) SaveWeights(ctx context.Context, weights map[string]map[string]float64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertWeightsTx(ctx, tx, weights, e.now()); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.WeightsUpdated, "decision_weights", "", "", events.EventPayload{"weights": weights}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) LoadWeights(ctx context.Context) (map[string]map[string]float64, error) {
	return e.Repo.LoadWeights(ctx)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
