package decision

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

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	if cfg.Params.DailyPosts == 0 {
		cfg.Params = Params{
			DailyPosts:            4,
			PrimaryThemes:         []string{"ai", "design"},
			InteractionRules:      []string{"stay on topic"},
			TrendAnalysisInterval: 30 * time.Minute,
		}
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func ptr[T any](v T) *T { return &v }

func TestDefaultWeightsAllRawOne(t *testing.T) {
	e := newTestEngine(t, Config{})
	raw := map[string]float64{"timing": 1, "topic_selection": 1, "style_choice": 1, "context_relevance": 1}

	rec, err := e.decide(context.Background(), ContentCreation, raw, map[string]any{}, testNow)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rec.Decision.Total, 1e-9)
	assert.True(t, rec.Decision.ShouldAct)
	assert.InDelta(t, 0.25, rec.Decision.Confidence, 1e-9)
	assert.InDelta(t, 0.3, rec.Weighted["timing"], 1e-9)
}

func TestEvaluateContentCreation(t *testing.T) {
	e := newTestEngine(t, Config{})
	signals := Signals{
		Trends:       []string{"Open AI models", "design revival", "football"},
		CurrentFocus: "launch week",
	}
	rec, err := e.Evaluate(context.Background(), ContentCreation, signals)
	require.NoError(t, err)

	assert.Equal(t, 1.0, rec.Raw["timing"])
	assert.InDelta(t, 2.0/3.0, rec.Raw["topic_selection"], 1e-9)
	assert.Equal(t, 0.8, rec.Raw["style_choice"])
	assert.InDelta(t, 1.0/3.0, rec.Raw["context_relevance"], 1e-9)

	want := 0.3*1 + 0.3*(2.0/3.0) + 0.2*0.8 + 0.2*(1.0/3.0)
	assert.InDelta(t, want, rec.Decision.Total, 1e-9)
	assert.True(t, rec.Decision.ShouldAct)
	assert.Equal(t, 0.6, rec.Decision.Threshold)
	assert.Equal(t,
		"Decision based on: Strong timing (1.00), Moderate topic_selection (0.67), Strong style_choice (0.80), Weak context_relevance (0.33)",
		rec.Decision.Reasoning)
	assert.Equal(t, []string{"Open AI models", "design revival", "football"}, rec.Context["trends"])
}

func TestTimingScalesWithElapsed(t *testing.T) {
	e := newTestEngine(t, Config{})
	last := testNow.Add(-3 * time.Hour) // optimal interval is 6h for 4 daily posts
	rec, err := e.Evaluate(context.Background(), ContentCreation, Signals{LastActionTime: &last})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rec.Raw["timing"], 1e-9)
	assert.Equal(t, 0.5, rec.Raw["topic_selection"])
	assert.Equal(t, 0.5, rec.Raw["style_choice"])
	assert.Equal(t, 0.0, rec.Raw["context_relevance"])
}

func TestEmptySignalsUseNeutralScores(t *testing.T) {
	e := newTestEngine(t, Config{})
	rec, err := e.Evaluate(context.Background(), ContentCreation, Signals{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Raw["context_relevance"])
}

func TestEngagementDefaults(t *testing.T) {
	e := newTestEngine(t, Config{})
	rec, err := e.Evaluate(context.Background(), Engagement, Signals{})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"response_priority": 0.5, "depth_level": 0.7, "style_matching": 0.8}, rec.Raw)

	rec, err = e.Evaluate(context.Background(), Engagement, Signals{Urgency: ptr(1.4), Complexity: ptr(0.1)})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Raw["response_priority"])
	assert.Equal(t, 0.1, rec.Raw["depth_level"])
}

func TestTrendAnalysisUrgency(t *testing.T) {
	e := newTestEngine(t, Config{})
	rec, err := e.Evaluate(context.Background(), TrendAnalysis, Signals{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Raw["urgency"])
	assert.True(t, rec.Decision.ShouldAct)

	recent := testNow.Add(-3 * time.Minute)
	rec, err = e.Evaluate(context.Background(), TrendAnalysis, Signals{LastAnalysisTime: &recent})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rec.Raw["urgency"], 1e-9)
	assert.InDelta(t, 0.04+0.24+0.21, rec.Decision.Total, 1e-9)
	assert.True(t, rec.Decision.ShouldAct)
}

func TestUnknownActionFailsClosed(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.Evaluate(context.Background(), ActionType("dance"), Signals{})
	assert.True(t, errors.Is(err, ErrUnknownAction))
	assert.Empty(t, e.History())
}

func TestUpdateWeightsSmoothing(t *testing.T) {
	e := newTestEngine(t, Config{})
	err := e.UpdateWeights(context.Background(), Feedback{ContentCreation: {"timing": 0.8}})
	require.NoError(t, err)
	w := e.Weights()
	assert.InDelta(t, 0.4, w["content_creation"]["timing"], 1e-9)
	assert.InDelta(t, 0.3, w["content_creation"]["topic_selection"], 1e-9)
}

func TestUpdateWeightsRejectsWholeFeedback(t *testing.T) {
	e := newTestEngine(t, Config{})
	before := e.Weights()

	err := e.UpdateWeights(context.Background(), Feedback{
		ContentCreation: {"timing": 0.8},
		Engagement:      {"charisma": 0.9},
	})
	assert.True(t, errors.Is(err, ErrUnknownCriterion))
	assert.Equal(t, before, e.Weights())

	err = e.UpdateWeights(context.Background(), Feedback{"dance": {"timing": 0.8}})
	assert.True(t, errors.Is(err, ErrUnknownAction))

	err = e.UpdateWeights(context.Background(), Feedback{ContentCreation: {"timing": 1.5}})
	assert.True(t, errors.Is(err, ErrInvalidPerformance))
	assert.Equal(t, before, e.Weights())
}

func TestUpdateWeightsRejectsNonFinitePerformance(t *testing.T) {
	e := newTestEngine(t, Config{})
	before := e.Weights()

	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := e.UpdateWeights(context.Background(), Feedback{ContentCreation: {"timing": p}})
		assert.True(t, errors.Is(err, ErrInvalidPerformance), "performance %v", p)
	}
	assert.Equal(t, before, e.Weights())

	now := time.Now()
	rec, err := e.Evaluate(context.Background(), ContentCreation, Signals{LastActionTime: &now})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(rec.Decision.Total))

	err = e.RestoreWeights(map[string]map[string]float64{"content_creation": {"timing": math.NaN()}})
	assert.True(t, errors.Is(err, ErrInvalidWeight))
	assert.Equal(t, before, e.Weights())
}

type memoryStore struct {
	records []domain.DecisionRecord
	weights map[string]map[string]float64
}

func (m *memoryStore) RecordDecision(_ context.Context, rec domain.DecisionRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) SaveWeights(_ context.Context, w map[string]map[string]float64) error {
	m.weights = w
	return nil
}

func TestHistoryAndPersistence(t *testing.T) {
	store := &memoryStore{}
	e := newTestEngine(t, Config{Recorder: store, WeightStore: store, LearningRate: 0.5})

	_, err := e.Evaluate(context.Background(), TrendAnalysis, Signals{})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), Engagement, Signals{})
	require.NoError(t, err)

	history := e.History()
	require.Len(t, history, 2)
	assert.Equal(t, "trend_analysis", history[0].Action)
	assert.Equal(t, "engagement", history[1].Action)
	assert.Len(t, store.records, 2)

	require.NoError(t, e.UpdateWeights(context.Background(), Feedback{TrendAnalysis: {"impact": 0.1}}))
	assert.InDelta(t, 0.2, store.weights["trend_analysis"]["impact"], 1e-9)
}

func TestConfigOverridesAndValidation(t *testing.T) {
	e := newTestEngine(t, Config{
		Weights:    map[string]map[string]float64{"content_creation": {"timing": 0.5}},
		Thresholds: map[string]float64{"engagement": 0.9},
	})
	w := e.Weights()
	assert.Equal(t, 0.5, w["content_creation"]["timing"])
	assert.Equal(t, 0.3, w["content_creation"]["topic_selection"])
	th, err := e.Threshold(Engagement)
	require.NoError(t, err)
	assert.Equal(t, 0.9, th)

	_, err = New(Config{Weights: map[string]map[string]float64{"content_creation": {"luck": 0.5}}})
	assert.True(t, errors.Is(err, ErrUnknownCriterion))
	_, err = New(Config{Thresholds: map[string]float64{"dance": 0.5}})
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestRestoreWeights(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.RestoreWeights(map[string]map[string]float64{"engagement": {"depth_level": 0.1}}))
	assert.Equal(t, 0.1, e.Weights()["engagement"]["depth_level"])
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("trend_analysis")
	require.NoError(t, err)
	assert.Equal(t, TrendAnalysis, a)
	_, err = ParseAction("nope")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}
