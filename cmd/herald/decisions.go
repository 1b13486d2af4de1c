package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"herald/internal/app"
	"herald/internal/decision"
	"herald/internal/repo"
)

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{
		Use:   "decision",
		Short: "Evaluate and tune decisions",
	}
	dec.AddCommand(decisionEvaluateCmd())
	dec.AddCommand(decisionFeedbackCmd())
	dec.AddCommand(decisionWeightsCmd())
	dec.AddCommand(decisionHistoryCmd())
	return dec
}

func decisionEvaluateCmd() *cobra.Command {
	var s decision.Signals
	var lastAction, lastAnalysis time.Duration
	var urgency, complexity float64
	cmd := &cobra.Command{
		Use:   "evaluate <action-type>",
		Short: "Score an action against the given signals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := decision.ParseAction(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			if cmd.Flags().Changed("last-action") {
				t := now.Add(-lastAction)
				s.LastActionTime = &t
			}
			if cmd.Flags().Changed("last-analysis") {
				t := now.Add(-lastAnalysis)
				s.LastAnalysisTime = &t
			}
			if cmd.Flags().Changed("urgency") {
				s.Urgency = &urgency
			}
			if cmd.Flags().Changed("complexity") {
				s.Complexity = &complexity
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rec, err := rt.Decisions.Evaluate(ctx, action, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("act=%t confidence=%.3f threshold=%.2f\n%s\n",
					rec.Decision.ShouldAct, rec.Decision.Confidence, rec.Decision.Threshold, rec.Decision.Reasoning)
				tw := newTable()
				tw.AppendHeader(tableRow("Criterion", "Raw", "Weighted"))
				for _, c := range decision.Criteria(action) {
					tw.AppendRow(tableRow(c, fmt.Sprintf("%.3f", rec.Raw[c]), fmt.Sprintf("%.3f", rec.Weighted[c])))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&lastAction, "last-action", 0, "time since the last post")
	cmd.Flags().DurationVar(&lastAnalysis, "last-analysis", 0, "time since the last trend analysis")
	cmd.Flags().StringSliceVar(&s.Trends, "trend", nil, "current trends")
	cmd.Flags().StringVar(&s.CurrentFocus, "focus", "", "current focus")
	cmd.Flags().StringSliceVar(&s.RecentDiscussions, "discussion", nil, "recent discussion topics")
	cmd.Flags().StringVar(&s.CommunityFocus, "community-focus", "", "community focus")
	cmd.Flags().Float64Var(&urgency, "urgency", 0, "urgency in [0,1]")
	cmd.Flags().Float64Var(&complexity, "complexity", 0, "complexity in [0,1]")
	return cmd
}

func decisionFeedbackCmd() *cobra.Command {
	var raw map[string]string
	cmd := &cobra.Command{
		Use:     "feedback",
		Short:   "Blend performance feedback into the weights",
		Example: "  herald decision feedback --perf content_creation.timing=0.9 --perf trend_analysis.relevance=0.2",
		RunE:    func(cmd *cobra.Command, args []string) error {
			fb, err := parseFeedback(raw)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Decisions.UpdateWeights(ctx, fb); err != nil {
					return err
				}
				return printWeights(rt)
			})
		},
	}
	cmd.Flags().StringToStringVar(&raw, "perf", nil, "action.criterion=performance in [0,1]")
	_ = cmd.MarkFlagRequired("perf")
	return cmd
}

func decisionWeightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weights",
		Short: "Show current weights and thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return printWeights(rt)
			})
		},
	}
}

func decisionHistoryCmd() *cobra.Command {
	var f repo.DecisionFilters
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListDecisions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(tableRow("Time", "Action", "Act", "Confidence", "Threshold"))
				for _, d := range items {
					tw.AppendRow(tableRow(d.Timestamp.Format(time.RFC3339), d.Action, d.Decision.ShouldAct,
						fmt.Sprintf("%.3f", d.Decision.Confidence), fmt.Sprintf("%.2f", d.Decision.Threshold)))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Action, "action", "", "action type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "max records")
	return cmd
}

func printWeights(rt *app.Runtime) error {
	weights := rt.Decisions.Weights()
	if viper.GetBool("json") {
		return printJSON(map[string]any{"weights": weights, "learning_rate": rt.Decisions.LearningRate()})
	}
	tw := newTable()
	tw.AppendHeader(tableRow("Action", "Criterion", "Weight", "Threshold"))
	for _, action := range decision.Actions() {
		threshold, _ := rt.Decisions.Threshold(action)
		for _, c := range decision.Criteria(action) {
			tw.AppendRow(tableRow(action, c, fmt.Sprintf("%.3f", weights[string(action)][c]), fmt.Sprintf("%.2f", threshold)))
		}
	}
	tw.Render()
	return nil
}

// parseFeedback turns action.criterion=value pairs into a feedback table.
func parseFeedback(raw map[string]string) (decision.Feedback, error) {
	perf, err := parseMetrics(raw)
	if err != nil {
		return nil, err
	}
	fb := decision.Feedback{}
	for key, p := range perf {
		action, criterion, ok := strings.Cut(key, ".")
		if !ok || criterion == "" {
			return nil, fmt.Errorf("feedback key %q must be action.criterion", key)
		}
		a, err := decision.ParseAction(action)
		if err != nil {
			return nil, err
		}
		if fb[a] == nil {
			fb[a] = map[string]float64{}
		}
		fb[a][criterion] = p
	}
	return fb, nil
}
