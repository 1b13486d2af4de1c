// Package content turns a brief into a post in the character's voice.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"herald/internal/config"
)

var ErrEmptyCompletion = errors.New("completer returned no content")

// Completer produces text from a system prompt and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Brief struct {
	Goal    string         `json:"goal,omitempty"`
	Focus   string         `json:"focus,omitempty"`
	Trends  []string       `json:"trends,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

type Content struct {
	Text      string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Brief     Brief     `json:"brief"`
	Style     []string  `json:"style,omitempty"`
	Themes    []string  `json:"themes,omitempty"`
}

// Map renders content for task results and action payloads.
func (c Content) Map() map[string]any {
	return map[string]any{
		"content":   c.Text,
		"type":      c.Type,
		"timestamp": c.Timestamp.UTC().Format(time.RFC3339),
		"themes":    c.Themes,
		"style":     c.Style,
	}
}

type Generator struct {
	Character config.Character
	Completer Completer
	Now       func() time.Time
}

var funcs = template.FuncMap{"join": strings.Join}

var (
	systemTmpl = template.Must(template.New("system").Funcs(funcs).Parse(
		`You are {{.Name}}. {{join .Bio " "}}
Traits: {{join .Traits ", "}}.
{{- if .VoicePatterns}}
Voice: {{index .VoicePatterns 0}}{{end}}
Write in character. Keep it short enough to post.`))

	promptTmpl = template.Must(template.New("prompt").Funcs(funcs).Parse(
		`Write a {{.Type}}.
{{- if .Style}}
Style guidelines:
{{range .Style}}- {{.}}
{{end}}{{end}}
{{- if .Brief.Goal}}
Goal: {{.Brief.Goal}}{{end}}
{{- if .Brief.Focus}}
Focus: {{.Brief.Focus}}{{end}}
{{- if .Brief.Trends}}
Current trends: {{join .Brief.Trends ", "}}{{end}}
{{- if .Themes}}
Relevant themes: {{join .Themes ", "}}{{end}}`))
)

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

// Generate produces one piece of content of the given type.
func (g Generator) Generate(ctx context.Context, contentType string, brief Brief) (Content, error) {
	if g.Completer == nil {
		return Content{}, errors.New("content generator has no completer")
	}
	if contentType == "" {
		contentType = "post"
	}
	system, prompt, err := g.Prompts(contentType, brief)
	if err != nil {
		return Content{}, err
	}
	text, err := g.Completer.Complete(ctx, system, prompt)
	if err != nil {
		return Content{}, fmt.Errorf("generate %s: %w", contentType, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Content{}, fmt.Errorf("generate %s: %w", contentType, ErrEmptyCompletion)
	}
	return Content{
		Text:      text,
		Type:      contentType,
		Timestamp: g.now(),
		Brief:     brief,
		Style:     g.Character.Style[contentType],
		Themes:    ExtractThemes(text, g.Character.Themes),
	}, nil
}

// Prompts renders the system and user prompts for a brief.
func (g Generator) Prompts(contentType string, brief Brief) (string, string, error) {
	var sys, prompt bytes.Buffer
	if err := systemTmpl.Execute(&sys, g.Character); err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	data := struct {
		Type   string
		Style  []string
		Brief  Brief
		Themes []string
	}{contentType, g.Character.Style[contentType], brief, g.Character.Themes}
	if err := promptTmpl.Execute(&prompt, data); err != nil {
		return "", "", fmt.Errorf("render prompt: %w", err)
	}
	return sys.String(), prompt.String(), nil
}

// ExtractThemes returns the themes mentioned in text, case-insensitively, in
// theme order.
func ExtractThemes(text string, themes []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, theme := range themes {
		if theme != "" && strings.Contains(lower, strings.ToLower(theme)) {
			out = append(out, theme)
		}
	}
	return out
}
