package decision

import (
	"strings"
	"time"
)

type ActionType string

const (
	ContentCreation ActionType = "content_creation"
	Engagement      ActionType = "engagement"
	TrendAnalysis   ActionType = "trend_analysis"
)

// Signals is the evaluation context. Nil pointers and empty slices mean the
// signal is absent.
type Signals struct {
	LastActionTime    *time.Time `json:"last_action_time,omitempty"`
	LastAnalysisTime  *time.Time `json:"last_analysis_time,omitempty"`
	Trends            []string   `json:"trends,omitempty"`
	CurrentFocus      string     `json:"current_focus,omitempty"`
	RecentDiscussions []string   `json:"recent_discussions,omitempty"`
	CommunityFocus    string     `json:"community_focus,omitempty"`
	Urgency           *float64   `json:"urgency,omitempty"`
	Complexity        *float64   `json:"complexity,omitempty"`
}

func (s Signals) empty() bool {
	return s.LastActionTime == nil && s.LastAnalysisTime == nil && len(s.Trends) == 0 &&
		s.CurrentFocus == "" && len(s.RecentDiscussions) == 0 && s.CommunityFocus == "" &&
		s.Urgency == nil && s.Complexity == nil
}

// Snapshot renders the signals for the decision record.
func (s Signals) Snapshot() map[string]any {
	out := map[string]any{}
	if s.LastActionTime != nil {
		out["last_action_time"] = s.LastActionTime.UTC().Format(time.RFC3339)
	}
	if s.LastAnalysisTime != nil {
		out["last_analysis_time"] = s.LastAnalysisTime.UTC().Format(time.RFC3339)
	}
	if len(s.Trends) > 0 {
		out["trends"] = append([]string(nil), s.Trends...)
	}
	if s.CurrentFocus != "" {
		out["current_focus"] = s.CurrentFocus
	}
	if len(s.RecentDiscussions) > 0 {
		out["recent_discussions"] = append([]string(nil), s.RecentDiscussions...)
	}
	if s.CommunityFocus != "" {
		out["community_focus"] = s.CommunityFocus
	}
	if s.Urgency != nil {
		out["urgency"] = *s.Urgency
	}
	if s.Complexity != nil {
		out["complexity"] = *s.Complexity
	}
	return out
}

// Params are the character-level inputs the scorers read.
type Params struct {
	DailyPosts            int
	PrimaryThemes         []string
	InteractionRules      []string
	TrendAnalysisInterval time.Duration
}

type scorer func(p Params, s Signals, now time.Time) float64

type criterion struct {
	name  string
	score scorer
}

var criteria = map[ActionType][]criterion{
	ContentCreation: {
		{"timing", scoreTiming},
		{"topic_selection", scoreTopic},
		{"style_choice", scoreStyle},
		{"context_relevance", scoreContext},
	},
	Engagement: {
		{"response_priority", func(_ Params, s Signals, _ time.Time) float64 { return orDefault(s.Urgency, 0.5) }},
		{"depth_level", func(_ Params, s Signals, _ time.Time) float64 { return orDefault(s.Complexity, 0.7) }},
		{"style_matching", constant(0.8)},
	},
	TrendAnalysis: {
		{"urgency", scoreUrgency},
		{"relevance", constant(0.8)},
		{"impact", constant(0.7)},
	},
}

var defaultWeights = map[ActionType]map[string]float64{
	ContentCreation: {"timing": 0.3, "topic_selection": 0.3, "style_choice": 0.2, "context_relevance": 0.2},
	Engagement:      {"response_priority": 0.4, "depth_level": 0.3, "style_matching": 0.3},
	TrendAnalysis:   {"urgency": 0.4, "relevance": 0.3, "impact": 0.3},
}

var defaultThresholds = map[ActionType]float64{
	ContentCreation: 0.6,
	Engagement:      0.5,
	TrendAnalysis:   0.4,
}

// Actions lists the closed set of action types in a stable order.
func Actions() []ActionType {
	return []ActionType{ContentCreation, Engagement, TrendAnalysis}
}

// Criteria returns the criterion names for an action in evaluation order.
func Criteria(action ActionType) []string {
	cs := criteria[action]
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.name)
	}
	return out
}

func scoreTiming(p Params, s Signals, now time.Time) float64 {
	if s.LastActionTime == nil {
		return 1.0
	}
	posts := p.DailyPosts
	if posts <= 0 {
		posts = 1
	}
	optimal := 24 * time.Hour / time.Duration(posts)
	return now.Sub(*s.LastActionTime).Seconds() / optimal.Seconds()
}

func scoreTopic(p Params, s Signals, _ time.Time) float64 {
	if len(s.Trends) == 0 || len(p.PrimaryThemes) == 0 {
		return 0.5
	}
	matches := 0
	for _, trend := range s.Trends {
		lt := strings.ToLower(trend)
		for _, theme := range p.PrimaryThemes {
			if strings.Contains(lt, strings.ToLower(theme)) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(len(s.Trends))
}

func scoreStyle(p Params, s Signals, _ time.Time) float64 {
	if s.CurrentFocus != "" && len(p.InteractionRules) > 0 {
		return 0.8
	}
	return 0.5
}

func scoreContext(_ Params, s Signals, _ time.Time) float64 {
	if s.empty() {
		return 0.5
	}
	present := 0
	if len(s.Trends) > 0 {
		present++
	}
	if len(s.RecentDiscussions) > 0 {
		present++
	}
	if s.CommunityFocus != "" {
		present++
	}
	return float64(present) / 3
}

func scoreUrgency(p Params, s Signals, now time.Time) float64 {
	if s.LastAnalysisTime == nil {
		return 1.0
	}
	interval := p.TrendAnalysisInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return now.Sub(*s.LastAnalysisTime).Seconds() / interval.Seconds()
}

func constant(v float64) scorer {
	return func(Params, Signals, time.Time) float64 { return v }
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func strength(score float64) string {
	switch {
	case score > 0.7:
		return "Strong"
	case score > 0.4:
		return "Moderate"
	default:
		return "Weak"
	}
}
