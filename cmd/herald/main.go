package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"herald/internal/app"
	"herald/internal/config"
	"herald/internal/db"
	"herald/internal/logging"
	"herald/internal/repo"
	"herald/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Herald autonomous posting agent",
	Long: `Herald runs a content agent driven by goals and weighted decisions.
- Workspace: directory holding herald.yml and the herald.db memory.
- Goals: named objectives with progress in [0,1]; a goal completes when every objective does.
- Decisions: each action type scores its criteria, weights them and acts above a threshold.
- Tasks: prioritized work items (goal_task, analyze_trends, generate_content) claimed by the task loop.
- Cycles: the goal, task and trend loops run on independent intervals until stopped.
- Event log: every state change, view with 'herald log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.Workspace(viper.GetString("workspace")).Ensure()
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HERALD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".herald", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/herald.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret for bearer tokens (HERALD_JWT_SECRET)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())

	logCmd := &cobra.Command{Use: "log", Short: "Event log"}
	logCmd.AddCommand(logTailCmd())
	rootCmd.AddCommand(logCmd)
}

func runCmd() *cobra.Command {
	var addr, basePath string
	var noServer bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent loops and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := app.Bootstrap(ctx, runtimeOptions(os.Stderr))
			if err != nil {
				return err
			}
			defer rt.Close()
			log := logging.For(rt.Logger, logging.System)
			if _, err := rt.RequeueOrphans(ctx); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return rt.Agent.Run(ctx)
			})
			if !noServer {
				handler, err := server.New(server.Config{
					Engine:    rt.Engine,
					Goals:     rt.Goals,
					Decisions: rt.Decisions,
					Agent:     rt.Agent,
					Sink:      rt.Sink,
					Gatherer:  rt.Registry,
					BasePath:  basePath,
					Auth: server.AuthConfig{
						JWTSecret: viper.GetString("jwt-secret"),
						APIKey:    viper.GetString("api-key"),
					},
					Logger: rt.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					log.Info("serving api", "addr", addr, "base_path", basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			}
			err = g.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "run the agent loops without the HTTP API")
	cmd.Flags().String("api-key", "", "static API key (HERALD_API_KEY)")
	_ = viper.BindPFlag("api-key", cmd.Flags().Lookup("api-key"))
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show goal progress and task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Engine.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				summaries := rt.Goals.EvaluateGoals(ctx)
				ws := db.Workspace(viper.GetString("workspace"))
				if viper.GetBool("json") {
					return printJSON(map[string]any{"database": ws.DBPath(), "task_counts": counts, "active_goals": summaries})
				}
				fmt.Printf("database: %s\n", ws.DBPath())
				fmt.Printf("tasks: pending=%d in_progress=%d completed=%d failed=%d\n",
					counts["pending"], counts["in_progress"], counts["completed"], counts["failed"])
				tw := newTable()
				tw.AppendHeader(tableRow("Goal", "Name", "Priority", "Progress"))
				for _, s := range summaries {
					tw.AppendRow(tableRow(s.GoalID, s.Name, s.Priority, percent(s.Progress)))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect agent config",
		Long:  "Config is herald.yml in the workspace: character, decision weights and thresholds, core goals, cycle intervals, trend source, llm and publishing targets.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default herald.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path})
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "herald", "character name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate herald.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API bearer token with HERALD_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("HERALD_JWT_SECRET is required to sign tokens")
			}
			token, exp, err := server.SignToken(secret, subject, scopes, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "expires_at": exp})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{server.ScopeRead}, "granted scopes (read, write)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("ID", "Time", "Type", "Entity", "Payload"))
				for _, e := range events {
					tw.AppendRow(tableRow(e.ID, e.TS, e.Type, e.EntityKind+"/"+e.EntityID, truncate(e.Payload, 60)))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func runtimeOptions(logOutput io.Writer) app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		LogOutput:  logOutput,
	}
}

func loadConfig() (*config.Config, error) {
	if p := viper.GetString("config"); p != "" {
		return config.FromFile(p)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

// withRuntime assembles the agent without starting its loops. Logs are
// discarded so table output stays clean.
func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Bootstrap(ctx, runtimeOptions(io.Discard))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
