package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"herald/internal/domain"
)

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.DecisionRecord) error {
	if d.Context == nil {
		d.Context = map[string]any{}
	}
	contextJSON, err := marshalJSON(d.Context)
	if err != nil {
		return fmt.Errorf("encode decision context: %w", err)
	}
	raw, err := marshalJSON(d.Raw)
	if err != nil {
		return err
	}
	weighted, err := marshalJSON(d.Weighted)
	if err != nil {
		return err
	}
	shouldAct := 0
	if d.Decision.ShouldAct {
		shouldAct = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO decisions(id,ts,action_type,context_json,raw_json,weighted_json,should_act,confidence,total,threshold,reasoning)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, FormatTime(d.Timestamp), d.Action, contextJSON, raw, weighted, shouldAct,
		d.Decision.Confidence, d.Decision.Total, d.Decision.Threshold, d.Decision.Reasoning)
	return err
}

type DecisionFilters struct {
	Action string
	Limit  int
}

// ListDecisions returns decision records oldest first.
func (r Repo) ListDecisions(ctx context.Context, f DecisionFilters) ([]domain.DecisionRecord, error) {
	query := `SELECT id,ts,action_type,context_json,raw_json,weighted_json,should_act,confidence,total,threshold,reasoning FROM decisions`
	var args []any
	if f.Action != "" {
		query += ` WHERE action_type=?`
		args = append(args, f.Action)
	}
	query += ` ORDER BY ts DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DecisionRecord
	for rows.Next() {
		var d domain.DecisionRecord
		var ts, contextJSON, raw, weighted string
		var shouldAct int
		if err := rows.Scan(&d.ID, &ts, &d.Action, &contextJSON, &raw, &weighted, &shouldAct,
			&d.Decision.Confidence, &d.Decision.Total, &d.Decision.Threshold, &d.Decision.Reasoning); err != nil {
			return nil, err
		}
		d.Timestamp = parseTime(ts)
		d.Decision.ShouldAct = shouldAct == 1
		if err := json.Unmarshal([]byte(contextJSON), &d.Context); err != nil {
			return nil, fmt.Errorf("decode decision %s context: %w", d.ID, err)
		}
		if err := json.Unmarshal([]byte(raw), &d.Raw); err != nil {
			return nil, fmt.Errorf("decode decision %s raw scores: %w", d.ID, err)
		}
		if err := json.Unmarshal([]byte(weighted), &d.Weighted); err != nil {
			return nil, fmt.Errorf("decode decision %s weighted scores: %w", d.ID, err)
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r Repo) UpsertWeightsTx(ctx context.Context, tx *sql.Tx, weights map[string]map[string]float64, now time.Time) error {
	for action, criteria := range weights {
		for name, w := range criteria {
			if _, err := tx.ExecContext(ctx, `INSERT INTO decision_weights(action_type,criterion,weight,updated_at) VALUES (?,?,?,?)
ON CONFLICT(action_type,criterion) DO UPDATE SET weight=excluded.weight, updated_at=excluded.updated_at`,
				action, name, w, FormatTime(now)); err != nil {
				return fmt.Errorf("upsert weight %s.%s: %w", action, name, err)
			}
		}
	}
	return nil
}

// LoadWeights returns persisted weights; empty when none were learned yet.
func (r Repo) LoadWeights(ctx context.Context) (map[string]map[string]float64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT action_type,criterion,weight FROM decision_weights`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]map[string]float64{}
	for rows.Next() {
		var action, name string
		var w float64
		if err := rows.Scan(&action, &name, &w); err != nil {
			return nil, err
		}
		if res[action] == nil {
			res[action] = map[string]float64{}
		}
		res[action][name] = w
	}
	return res, rows.Err()
}
