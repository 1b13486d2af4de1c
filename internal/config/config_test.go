package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("Nova")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Nova", cfg.Character.Name)
	assert.Equal(t, 30*time.Minute, cfg.Decision.TrendAnalysisInterval)
	assert.Equal(t, Cycle{Interval: 5 * time.Second, Retry: 5 * time.Second}, cfg.Cycles.Task)
	assert.Equal(t, 0.3, cfg.Decision.Weights["content_creation"]["timing"])
	assert.Len(t, cfg.CoreGoals, 2)
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
character:
  name: Echo
decision:
  thresholds:
    content_creation: 0.7
cycles:
  goal:
    interval: 2m
    retry: 1m
core_goals:
  - name: Only goal
    objectives: [ship]
`))
	require.NoError(t, err)
	assert.Equal(t, "Echo", cfg.Character.Name)
	assert.Equal(t, 0.7, cfg.Decision.Thresholds["content_creation"])
	assert.Equal(t, 0.5, cfg.Decision.Thresholds["engagement"])
	assert.Equal(t, 2*time.Minute, cfg.Cycles.Goal.Interval)
	assert.Equal(t, 30*time.Second, cfg.Cycles.Trend.Interval)
	require.Len(t, cfg.CoreGoals, 1)
	assert.Equal(t, "Only goal", cfg.CoreGoals[0].Name)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"empty name":        func(c *Config) { c.Character.Name = "" },
		"learning rate":     func(c *Config) { c.AdaptationParameters.LearningRate = 1.5 },
		"weight range":      func(c *Config) { c.Decision.Weights["engagement"]["depth_level"] = -0.1 },
		"weight nan":        func(c *Config) { c.Decision.Weights["engagement"]["depth_level"] = math.NaN() },
		"threshold nan":     func(c *Config) { c.Decision.Thresholds["engagement"] = math.NaN() },
		"threshold":         func(c *Config) { c.Decision.Thresholds["engagement"] = 0 },
		"cycle interval":    func(c *Config) { c.Cycles.Trend.Retry = 0 },
		"trend source":      func(c *Config) { c.Trends.Source = "rss" },
		"http without url":  func(c *Config) { c.Trends.Source = "http" },
		"llm provider":      func(c *Config) { c.LLM.Provider = "local" },
		"webhook url":       func(c *Config) { c.Publish.Webhooks = []Webhook{{Name: "x"}} },
		"goal without name": func(c *Config) { c.CoreGoals = []GoalSeed{{Objectives: []string{"a"}}} },
		"daily posts":       func(c *Config) { c.BehavioralPatterns.ContentCreation.DailyPosts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default("herald")
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte("cycles: [unterminated"))
	require.Error(t, err)
	_, err = FromYAML([]byte("cycles:\n  task:\n    interval: soon\n"))
	require.Error(t, err)
}

func TestLoadOptionalAndMarshal(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "herald", cfg.Character.Name)

	_, err = Load(dir)
	require.Error(t, err)

	cfg.Character.Name = "Round"
	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "herald.yml"), data, 0o644))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "Round", loaded.Character.Name)
	assert.Equal(t, cfg.Cycles, loaded.Cycles)
	assert.Equal(t, cfg.Decision.Weights, loaded.Decision.Weights)
}
