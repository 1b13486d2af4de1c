// Package decision scores candidate actions against weighted criteria and
// adapts the weights from outcome feedback.
package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"herald/internal/domain"
)

var (
	ErrUnknownAction      = errors.New("unknown action type")
	ErrUnknownCriterion   = errors.New("unknown criterion")
	ErrInvalidPerformance = errors.New("performance must be within [0,1]")
	ErrInvalidWeight      = errors.New("weight must be a finite number")
)

const DefaultLearningRate = 0.2

// Recorder persists decision records after they are appended to history.
type Recorder interface {
	RecordDecision(ctx context.Context, rec domain.DecisionRecord) error
}

// WeightStore persists the full weight table after each update.
type WeightStore interface {
	SaveWeights(ctx context.Context, weights map[string]map[string]float64) error
}

// Observer is notified of every decision; metrics implement it.
type Observer interface {
	ObserveDecision(action string, shouldAct bool, confidence float64)
}

type Config struct {
	Weights      map[string]map[string]float64
	Thresholds   map[string]float64
	LearningRate float64
	Params       Params
	Now          func() time.Time
	Recorder     Recorder
	WeightStore  WeightStore
	Observer     Observer
}

type Engine struct {
	mu           sync.RWMutex
	weights      map[ActionType]map[string]float64
	thresholds   map[ActionType]float64
	learningRate float64
	params       Params
	history      []domain.DecisionRecord

	now      func() time.Time
	recorder Recorder
	store    WeightStore
	observer Observer
}

// Feedback maps action type to criterion to observed performance in [0,1].
type Feedback map[ActionType]map[string]float64

func New(cfg Config) (*Engine, error) {
	e := &Engine{
		weights:      map[ActionType]map[string]float64{},
		thresholds:   map[ActionType]float64{},
		learningRate: cfg.LearningRate,
		params:       cfg.Params,
		now:          cfg.Now,
		recorder:     cfg.Recorder,
		store:        cfg.WeightStore,
		observer:     cfg.Observer,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.learningRate <= 0 || e.learningRate > 1 {
		e.learningRate = DefaultLearningRate
	}
	for action, ws := range defaultWeights {
		e.weights[action] = copyWeights(ws)
		e.thresholds[action] = defaultThresholds[action]
	}
	if err := e.apply(cfg.Weights); err != nil {
		return nil, err
	}
	for name, t := range cfg.Thresholds {
		action := ActionType(name)
		if _, ok := criteria[action]; !ok {
			return nil, fmt.Errorf("threshold %s: %w", name, ErrUnknownAction)
		}
		e.thresholds[action] = t
	}
	return e, nil
}

// RestoreWeights overlays persisted weights, typically learned in a previous run.
func (e *Engine) RestoreWeights(weights map[string]map[string]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(weights)
}

func (e *Engine) apply(weights map[string]map[string]float64) error {
	for name, ws := range weights {
		action := ActionType(name)
		if _, ok := criteria[action]; !ok {
			return fmt.Errorf("weights %s: %w", name, ErrUnknownAction)
		}
		for c, w := range ws {
			if !knownCriterion(action, c) {
				return fmt.Errorf("weights %s.%s: %w", name, c, ErrUnknownCriterion)
			}
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("weights %s.%s=%v: %w", name, c, w, ErrInvalidWeight)
			}
		}
	}
	for name, ws := range weights {
		for c, w := range ws {
			e.weights[ActionType(name)][c] = w
		}
	}
	return nil
}

// Evaluate scores an action against the signals. Unknown actions fail closed.
// The record is appended to history before it is returned.
func (e *Engine) Evaluate(ctx context.Context, action ActionType, signals Signals) (domain.DecisionRecord, error) {
	cs, ok := criteria[action]
	if !ok {
		return domain.DecisionRecord{}, fmt.Errorf("evaluate %q: %w", action, ErrUnknownAction)
	}
	now := e.now().UTC()
	raw := make(map[string]float64, len(cs))
	for _, c := range cs {
		raw[c.name] = clamp(c.score(e.params, signals, now))
	}
	return e.decide(ctx, action, raw, signals.Snapshot(), now)
}

func (e *Engine) decide(ctx context.Context, action ActionType, raw map[string]float64, snapshot map[string]any, now time.Time) (domain.DecisionRecord, error) {
	cs := criteria[action]

	e.mu.RLock()
	weighted := make(map[string]float64, len(cs))
	var total float64
	for _, c := range cs {
		w := raw[c.name] * e.weights[action][c.name]
		weighted[c.name] = w
		total += w
	}
	threshold := e.thresholds[action]
	e.mu.RUnlock()

	reasons := make([]string, 0, len(cs))
	for _, c := range cs {
		reasons = append(reasons, fmt.Sprintf("%s %s (%.2f)", strength(raw[c.name]), c.name, raw[c.name]))
	}
	rec := domain.DecisionRecord{
		ID:        uuid.NewString(),
		Timestamp: now,
		Action:    string(action),
		Context:   snapshot,
		Raw:       raw,
		Weighted:  weighted,
		Decision: domain.DecisionOutcome{
			ShouldAct:  total >= threshold,
			Confidence: total / float64(len(cs)),
			Total:      total,
			Threshold:  threshold,
			Reasoning:  "Decision based on: " + strings.Join(reasons, ", "),
		},
	}

	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()

	if e.observer != nil {
		e.observer.ObserveDecision(rec.Action, rec.Decision.ShouldAct, rec.Decision.Confidence)
	}
	if e.recorder != nil {
		if err := e.recorder.RecordDecision(ctx, rec); err != nil {
			return rec, fmt.Errorf("record decision: %w", err)
		}
	}
	return rec, nil
}

// UpdateWeights blends each reported performance into its weight:
// w' = w*(1-lr) + p*lr. Feedback is validated as a whole before any weight
// moves; weights are not renormalized.
func (e *Engine) UpdateWeights(ctx context.Context, fb Feedback) error {
	for action, perf := range fb {
		if _, ok := criteria[action]; !ok {
			return fmt.Errorf("feedback %q: %w", action, ErrUnknownAction)
		}
		for c, p := range perf {
			if !knownCriterion(action, c) {
				return fmt.Errorf("feedback %s.%s: %w", action, c, ErrUnknownCriterion)
			}
			if !unitInterval(p) {
				return fmt.Errorf("feedback %s.%s=%v: %w", action, c, p, ErrInvalidPerformance)
			}
		}
	}
	e.mu.Lock()
	lr := e.learningRate
	for action, perf := range fb {
		for c, p := range perf {
			e.weights[action][c] = e.weights[action][c]*(1-lr) + p*lr
		}
	}
	snapshot := e.weightsLocked()
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveWeights(ctx, snapshot); err != nil {
			return fmt.Errorf("save weights: %w", err)
		}
	}
	return nil
}

// Weights returns a copy of the current weight table.
func (e *Engine) Weights() map[string]map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weightsLocked()
}

func (e *Engine) weightsLocked() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(e.weights))
	for action, ws := range e.weights {
		out[string(action)] = copyWeights(ws)
	}
	return out
}

func (e *Engine) Threshold(action ActionType) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.thresholds[action]
	if !ok {
		return 0, fmt.Errorf("threshold %q: %w", action, ErrUnknownAction)
	}
	return t, nil
}

func (e *Engine) LearningRate() float64 {
	return e.learningRate
}

// History returns the decision records in append order.
func (e *Engine) History() []domain.DecisionRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.DecisionRecord(nil), e.history...)
}

// ParseAction validates an action type name.
func ParseAction(name string) (ActionType, error) {
	a := ActionType(name)
	if _, ok := criteria[a]; !ok {
		known := make([]string, 0, len(criteria))
		for k := range criteria {
			known = append(known, string(k))
		}
		sort.Strings(known)
		return "", fmt.Errorf("%q (want one of %s): %w", name, strings.Join(known, ", "), ErrUnknownAction)
	}
	return a, nil
}

// unitInterval rejects NaN and infinities as well as values outside [0,1].
func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func knownCriterion(action ActionType, name string) bool {
	for _, c := range criteria[action] {
		if c.name == name {
			return true
		}
	}
	return false
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
