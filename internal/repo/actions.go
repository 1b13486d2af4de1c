package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"herald/internal/domain"
)

func (r Repo) InsertActionResultTx(ctx context.Context, tx *sql.Tx, a domain.ActionResult) error {
	if a.Payload == nil {
		a.Payload = map[string]any{}
	}
	payload, err := marshalJSON(a.Payload)
	if err != nil {
		return fmt.Errorf("encode action payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO action_results(id,task_id,kind,status,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, nullable(a.TaskID), a.Kind, a.Status, payload, FormatTime(a.CreatedAt))
	return err
}

type ActionFilters struct {
	TaskID string
	Kind   string
	Limit  int
}

func (r Repo) ListActionResults(ctx context.Context, f ActionFilters) ([]domain.ActionResult, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	query := `SELECT id,COALESCE(task_id,''),kind,status,payload_json,created_at FROM action_results WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionResult
	for rows.Next() {
		var a domain.ActionResult
		var payload, createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Kind, &a.Status, &payload, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("decode action %s payload: %w", a.ID, err)
		}
		a.CreatedAt = parseTime(createdAt)
		res = append(res, a)
	}
	return res, rows.Err()
}
