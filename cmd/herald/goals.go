package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"herald/internal/app"
)

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalShowCmd())
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalProgressCmd())
	goal.AddCommand(goalMetricsCmd())
	goal.AddCommand(goalEvaluateCmd())
	goal.AddCommand(goalPrioritiesCmd())
	return goal
}

func goalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items := rt.Goals.List()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("ID", "Name", "Type", "Status", "Priority", "Objectives", "Progress"))
				for _, g := range items {
					tw.AppendRow(tableRow(g.ID, g.Name, g.Type, g.Status, g.Priority, len(g.Objectives), percent(g.Progress())))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <goal-id>",
		Short: "Show a goal with its objectives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Goals.Get(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("%s  %s [%s] priority=%d progress=%s\n", g.ID, g.Name, g.Status, g.Priority, percent(g.Progress()))
				tw := newTable()
				tw.AppendHeader(tableRow("#", "Objective", "Progress", "Done"))
				for i, o := range g.Objectives {
					tw.AppendRow(tableRow(i, o.Description, percent(o.Progress), o.Completed))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalCreateCmd() *cobra.Command {
	var name, goalType string
	var objectives []string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Goals.CreateGoal(ctx, name, objectives, goalType, priority)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Println(g.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "goal name")
	cmd.Flags().StringArrayVar(&objectives, "objective", nil, "objective description (repeatable)")
	cmd.Flags().StringVar(&goalType, "type", "", "goal type (default general)")
	cmd.Flags().IntVar(&priority, "priority", 0, "goal priority (default 1)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func goalProgressCmd() *cobra.Command {
	var index int
	var progress float64
	var metrics map[string]string
	cmd := &cobra.Command{
		Use:   "progress <goal-id>",
		Short: "Set an objective's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Goals.UpdateGoalProgress(ctx, args[0], index, progress, m)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().IntVar(&index, "objective", 0, "objective index")
	cmd.Flags().Float64Var(&progress, "progress", 0, "progress in [0,1]")
	cmd.Flags().StringToStringVar(&metrics, "metric", nil, "objective metric name=value")
	_ = cmd.MarkFlagRequired("progress")
	return cmd
}

func goalMetricsCmd() *cobra.Command {
	var metrics map[string]string
	cmd := &cobra.Command{
		Use:   "metrics <goal-id>",
		Short: "Merge goal-level metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Goals.UpdateGoalMetrics(ctx, args[0], m)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringToStringVar(&metrics, "metric", nil, "metric name=value")
	return cmd
}

func goalEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Summarize active goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				summaries := rt.Goals.EvaluateGoals(ctx)
				if viper.GetBool("json") {
					return printJSON(summaries)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("Goal", "Name", "Priority", "Progress", "Metrics"))
				for _, s := range summaries {
					tw.AppendRow(tableRow(s.GoalID, s.Name, s.Priority, percent(s.Progress), formatMetrics(s.Metrics)))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalPrioritiesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "priorities",
		Short: "Incomplete objectives, highest priority and least progress first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items := rt.Goals.GetPriorityObjectives(ctx)
				if limit > 0 && len(items) > limit {
					items = items[:limit]
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("Goal", "Priority", "#", "Objective", "Progress"))
				for _, p := range items {
					tw.AppendRow(tableRow(p.GoalName, p.GoalPriority, p.ObjectiveIndex, p.Description, percent(p.Progress)))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max objectives")
	return cmd
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func tableRow(cols ...any) table.Row {
	return table.Row(cols)
}

func parseMetrics(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func formatMetrics(m map[string]float64) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%g", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
