// Package app assembles a runnable agent from a workspace.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"herald/internal/agent"
	"herald/internal/config"
	"herald/internal/content"
	"herald/internal/db"
	"herald/internal/decision"
	"herald/internal/engine"
	"herald/internal/goals"
	"herald/internal/logging"
	"herald/internal/metrics"
	"herald/internal/migrate"
	"herald/internal/publish"
	"herald/internal/repo"
	"herald/internal/trends"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/herald.yml.
	ConfigPath string
	LogOutput  io.Writer
	Getenv     func(string) string
}

// Runtime holds every component of a running agent.
type Runtime struct {
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Goals     *goals.Store
	Decisions *decision.Engine
	Agent     *agent.Agent
	Sink      *logging.Sink
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
}

// Bootstrap opens the workspace, migrates the database and wires the agent.
// Persisted goals and learned weights win over the config seeds.
func Bootstrap(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	rt, err := assemble(ctx, cfg, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

func assemble(ctx context.Context, cfg *config.Config, conn *sql.DB, opts Options) (*Runtime, error) {
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	sink := logging.NewSink(cfg.Logging.Buffer)
	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: opts.LogOutput,
		Sink:   sink,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	eng := engine.New(conn)
	eng.Observer = m

	store := goals.NewStore(goals.WithPersister(eng))
	if err := seedGoals(ctx, eng, store, cfg.CoreGoals); err != nil {
		return nil, err
	}

	dec, err := decision.New(decision.Config{
		Weights:      cfg.Decision.Weights,
		Thresholds:   cfg.Decision.Thresholds,
		LearningRate: cfg.AdaptationParameters.LearningRate,
		Params: decision.Params{
			DailyPosts:            cfg.BehavioralPatterns.ContentCreation.DailyPosts,
			PrimaryThemes:         cfg.ContentThemes.Primary,
			InteractionRules:      cfg.InteractionRules,
			TrendAnalysisInterval: cfg.Decision.TrendAnalysisInterval,
		},
		Recorder:    eng,
		WeightStore: eng,
		Observer:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("decision engine: %w", err)
	}
	learned, err := eng.LoadWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	if err := dec.RestoreWeights(learned); err != nil {
		return nil, fmt.Errorf("restore weights: %w", err)
	}

	pub, closers := buildPublisher(cfg, log, opts.Getenv)
	a, err := agent.New(agent.Options{
		Goals:     store,
		Tasks:     eng,
		Memory:    eng,
		Decisions: dec,
		Trends:    buildMonitor(cfg),
		Content: content.Generator{
			Character: cfg.Character,
			Completer: buildCompleter(cfg, log, opts.Getenv),
		},
		Publisher: pub,
		IsEmpty:   func(err error) bool { return errors.Is(err, repo.ErrNotFound) },
		Schedules: map[agent.Cycle]agent.Schedule{
			agent.CycleGoal:  {Interval: cfg.Cycles.Goal.Interval, Retry: cfg.Cycles.Goal.Retry},
			agent.CycleTask:  {Interval: cfg.Cycles.Task.Interval, Retry: cfg.Cycles.Task.Retry},
			agent.CycleTrend: {Interval: cfg.Cycles.Trend.Interval, Retry: cfg.Cycles.Trend.Retry},
		},
		Logger:             log,
		Metrics:            m,
		Closers:            append([]io.Closer{sink}, closers...),
		DefaultContentType: defaultContentType(cfg),
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Goals:     store,
		Decisions: dec,
		Agent:     a,
		Sink:      sink,
		Logger:    log,
		Registry:  reg,
		Metrics:   m,
	}, nil
}

// Close releases the database. The agent closes its own collaborators when
// Run returns.
func (r *Runtime) Close() error {
	return r.DB.Close()
}

// RequeueOrphans returns tasks left in_progress by a stopped process to the
// queue. Only the process that runs the agent loops may call it; short-lived
// commands share the database with a live agent.
func (r *Runtime) RequeueOrphans(ctx context.Context) (int, error) {
	requeued, err := r.Engine.RequeueInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeue orphaned tasks: %w", err)
	}
	for _, t := range requeued {
		logging.For(r.Logger, logging.Task).Warn("requeued orphaned task", "task_id", t.ID, "type", t.Type)
	}
	return len(requeued), nil
}

// seedGoals restores persisted goals, or creates the configured core goals on
// first start.
func seedGoals(ctx context.Context, eng engine.Engine, store *goals.Store, seeds []config.GoalSeed) error {
	persisted, err := eng.LoadGoals(ctx)
	if err != nil {
		return fmt.Errorf("load goals: %w", err)
	}
	if len(persisted) > 0 {
		store.Load(persisted...)
		return nil
	}
	for _, s := range seeds {
		if _, err := store.CreateGoal(ctx, s.Name, s.Objectives, s.Type, s.Priority); err != nil {
			return fmt.Errorf("seed goal %q: %w", s.Name, err)
		}
	}
	return nil
}

func buildMonitor(cfg *config.Config) trends.Monitor {
	if cfg.Trends.Source == "http" {
		return trends.NewHTTP(cfg.Trends.URL, trends.HTTPOptions{Timeout: cfg.Trends.Timeout, Rate: cfg.Trends.Rate})
	}
	return trends.NewStatic(cfg.Trends.Static)
}

func buildCompleter(cfg *config.Config, log *slog.Logger, getenv func(string) string) content.Completer {
	if cfg.LLM.Provider != "openai" {
		return content.TemplateCompleter{}
	}
	key := getenv(cfg.LLM.APIKeyEnv)
	if strings.TrimSpace(key) == "" {
		logging.For(log, logging.System).Warn("llm api key missing, using template completer", "env", cfg.LLM.APIKeyEnv)
		return content.TemplateCompleter{}
	}
	return content.NewOpenAICompleter(content.OpenAIOptions{
		APIKey:      key,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
}

func buildPublisher(cfg *config.Config, log *slog.Logger, getenv func(string) string) (publish.Publisher, []io.Closer) {
	if len(cfg.Publish.Webhooks) == 0 {
		return publish.LogPublisher{Log: log}, nil
	}
	hooks := make([]publish.Hook, 0, len(cfg.Publish.Webhooks))
	for _, wh := range cfg.Publish.Webhooks {
		h := publish.Hook{Name: wh.Name, URL: wh.URL, ContentTypes: wh.ContentTypes}
		if wh.SecretEnv != "" {
			h.Secret = getenv(wh.SecretEnv)
		}
		hooks = append(hooks, h)
	}
	p := publish.NewWebhookPublisher(hooks, log)
	return p, []io.Closer{p}
}

func defaultContentType(cfg *config.Config) string {
	if len(cfg.Character.ContentTypes) > 0 {
		return cfg.Character.ContentTypes[0]
	}
	return "post"
}
