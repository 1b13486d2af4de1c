package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"herald/internal/domain"
)

// UpsertGoalTx stores the goal snapshot. seq keeps the in-memory insertion order
// and is only assigned on first insert.
func (r Repo) UpsertGoalTx(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	objectives, err := marshalJSON(g.Objectives)
	if err != nil {
		return fmt.Errorf("encode objectives: %w", err)
	}
	metrics, err := marshalJSON(g.Metrics)
	if err != nil {
		return fmt.Errorf("encode goal metrics: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO goals(id,seq,name,type,status,priority,objectives_json,metrics_json,created_at,completed_at)
VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM goals),?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, status=excluded.status, priority=excluded.priority,
objectives_json=excluded.objectives_json, metrics_json=excluded.metrics_json, completed_at=excluded.completed_at`,
		g.ID, g.Name, g.Type, g.Status, g.Priority, objectives, metrics, FormatTime(g.CreatedAt), formatTimePtr(g.CompletedAt))
	return err
}

// ListGoals returns persisted goals in insertion order.
func (r Repo) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,type,status,priority,objectives_json,metrics_json,created_at,completed_at FROM goals ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		var g domain.Goal
		var objectives, metrics, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &g.Type, &g.Status, &g.Priority, &objectives, &metrics, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(objectives), &g.Objectives); err != nil {
			return nil, fmt.Errorf("decode goal %s objectives: %w", g.ID, err)
		}
		if err := json.Unmarshal([]byte(metrics), &g.Metrics); err != nil {
			return nil, fmt.Errorf("decode goal %s metrics: %w", g.ID, err)
		}
		g.CreatedAt = parseTime(createdAt)
		g.CompletedAt = parseTimePtr(completedAt)
		res = append(res, g)
	}
	return res, rows.Err()
}
