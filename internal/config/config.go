package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"herald/internal/db"
)

// Config models herald.yml.
type Config struct {
	Character     Character `yaml:"character"`
	ContentThemes struct {
		Primary   []string `yaml:"primary"`
		Secondary []string `yaml:"secondary,omitempty"`
	} `yaml:"content_themes"`
	InteractionRules   []string `yaml:"interaction_rules"`
	BehavioralPatterns struct {
		ContentCreation struct {
			DailyPosts int `yaml:"daily_posts"`
		} `yaml:"content_creation"`
	} `yaml:"behavioral_patterns"`
	AdaptationParameters struct {
		LearningRate float64 `yaml:"learning_rate"`
	} `yaml:"adaptation_parameters"`
	Decision  Decision   `yaml:"decision"`
	CoreGoals []GoalSeed `yaml:"core_goals"`
	Cycles    Cycles     `yaml:"cycles"`
	Trends    Trends     `yaml:"trends"`
	LLM       LLM        `yaml:"llm"`
	Publish   Publish    `yaml:"publish"`
	Logging   Logging    `yaml:"logging"`
}

type Character struct {
	Name          string              `yaml:"name"`
	Bio           []string            `yaml:"bio"`
	Traits        []string            `yaml:"traits"`
	Style         map[string][]string `yaml:"style"`
	VoicePatterns []string            `yaml:"voice_patterns"`
	Themes        []string            `yaml:"themes"`
	ContentTypes  []string            `yaml:"content_types"`
}

type Decision struct {
	Weights               map[string]map[string]float64 `yaml:"weights"`
	Thresholds            map[string]float64            `yaml:"thresholds"`
	TrendAnalysisInterval time.Duration                 `yaml:"trend_analysis_interval"`
}

type GoalSeed struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Priority   int      `yaml:"priority"`
	Objectives []string `yaml:"objectives"`
}

type Cycle struct {
	Interval time.Duration `yaml:"interval"`
	Retry    time.Duration `yaml:"retry"`
}

type Cycles struct {
	Goal  Cycle `yaml:"goal"`
	Task  Cycle `yaml:"task"`
	Trend Cycle `yaml:"trend"`
}

type Trends struct {
	Source  string              `yaml:"source"`
	URL     string              `yaml:"url,omitempty"`
	Timeout time.Duration       `yaml:"timeout"`
	Rate    float64             `yaml:"rate"`
	Static  map[string][]string `yaml:"static,omitempty"`
}

type LLM struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type Webhook struct {
	Name         string   `yaml:"name"`
	URL          string   `yaml:"url"`
	SecretEnv    string   `yaml:"secret_env,omitempty"`
	ContentTypes []string `yaml:"content_types,omitempty"`
}

type Publish struct {
	Webhooks []Webhook `yaml:"webhooks"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Buffer int    `yaml:"buffer"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with herald config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Character.Name == "" {
		return fmt.Errorf("config.character.name is required")
	}
	if c.BehavioralPatterns.ContentCreation.DailyPosts <= 0 {
		return fmt.Errorf("config.behavioral_patterns.content_creation.daily_posts must be positive")
	}
	lr := c.AdaptationParameters.LearningRate
	if !(lr > 0 && lr <= 1) {
		return fmt.Errorf("config.adaptation_parameters.learning_rate must be in (0,1], got %v", lr)
	}
	for action, criteria := range c.Decision.Weights {
		if action == "" {
			return fmt.Errorf("config.decision.weights has empty action type")
		}
		for name, w := range criteria {
			if name == "" {
				return fmt.Errorf("action %s has empty criterion name", action)
			}
			if !(w >= 0 && w <= 1) {
				return fmt.Errorf("weight %s.%s must be in [0,1], got %v", action, name, w)
			}
		}
	}
	for action, t := range c.Decision.Thresholds {
		if !(t > 0 && t <= 1) {
			return fmt.Errorf("threshold for %s must be in (0,1], got %v", action, t)
		}
	}
	if c.Decision.TrendAnalysisInterval <= 0 {
		return fmt.Errorf("config.decision.trend_analysis_interval must be positive")
	}
	for i, g := range c.CoreGoals {
		if g.Name == "" {
			return fmt.Errorf("config.core_goals[%d].name is required", i)
		}
	}
	for name, cy := range map[string]Cycle{"goal": c.Cycles.Goal, "task": c.Cycles.Task, "trend": c.Cycles.Trend} {
		if cy.Interval <= 0 || cy.Retry <= 0 {
			return fmt.Errorf("config.cycles.%s interval and retry must be positive", name)
		}
	}
	switch c.Trends.Source {
	case "static":
	case "http":
		if c.Trends.URL == "" {
			return fmt.Errorf("config.trends.url is required for http source")
		}
	default:
		return fmt.Errorf("config.trends.source must be static or http, got %q", c.Trends.Source)
	}
	switch c.LLM.Provider {
	case "openai", "template":
	default:
		return fmt.Errorf("config.llm.provider must be openai or template, got %q", c.LLM.Provider)
	}
	for i, wh := range c.Publish.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.publish.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return db.Workspace(workspace).ConfigPath()
}

// GenerateDefault returns default config YAML for a character name.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("herald"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a character.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(name))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections fall back to their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("herald")
	cfg.CoreGoals = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), enc.Close()
}

const defaultTemplate = `character:
  name: %s
  bio:
    - "an autonomous voice following culture as it moves"
  traits: [curious, concise, warm]
  style:
    post: ["short sentences", "one idea per post"]
    thread: ["open with a hook", "number each part"]
  voice_patterns:
    - "observant and quietly confident"
  themes: [technology, culture, design, community]
  content_types: [post, thread, trend_commentary]

content_themes:
  primary: [technology, culture, design]
  secondary: [community]

interaction_rules:
  - "stay on topic"
  - "never argue in replies"

behavioral_patterns:
  content_creation:
    daily_posts: 4

adaptation_parameters:
  learning_rate: 0.2

decision:
  weights:
    content_creation:
      timing: 0.3
      topic_selection: 0.3
      style_choice: 0.2
      context_relevance: 0.2
    engagement:
      response_priority: 0.4
      depth_level: 0.3
      style_matching: 0.3
    trend_analysis:
      urgency: 0.4
      relevance: 0.3
      impact: 0.3
  thresholds:
    content_creation: 0.6
    engagement: 0.5
    trend_analysis: 0.4
  trend_analysis_interval: 30m

core_goals:
  - name: Grow audience
    type: growth
    priority: 2
    objectives:
      - "publish consistently every day"
      - "reach a steady engagement rate"
  - name: Track the conversation
    type: awareness
    priority: 1
    objectives:
      - "comment on emerging trends"

cycles:
  goal:
    interval: 60s
    retry: 30s
  task:
    interval: 5s
    retry: 5s
  trend:
    interval: 30s
    retry: 10s

trends:
  source: static
  timeout: 10s
  rate: 1
  static:
    technology: ["open models", "edge ai", "local-first software"]
    culture: ["slow media", "design revival"]

llm:
  provider: template
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  temperature: 0.8
  max_tokens: 300

publish:
  webhooks: []

logging:
  level: info
  format: text
  buffer: 500
`
