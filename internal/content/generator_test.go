package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
)

type fakeCompleter struct {
	text   string
	err    error
	system string
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.text, f.err
}

func testCharacter() config.Character {
	return config.Character{
		Name:          "Herald",
		Bio:           []string{"watches culture", "writes briefly"},
		Traits:        []string{"curious", "warm"},
		Style:         map[string][]string{"post": {"short sentences"}},
		VoicePatterns: []string{"quietly confident"},
		Themes:        []string{"Technology", "design", "music"},
	}
}

func TestGenerateBuildsPromptAndExtractsThemes(t *testing.T) {
	fc := &fakeCompleter{text: "  New DESIGN tools meet technology.  "}
	g := Generator{
		Character: testCharacter(),
		Completer: fc,
		Now:       func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	c, err := g.Generate(context.Background(), "post", Brief{Goal: "Grow audience", Focus: "launch", Trends: []string{"edge ai"}})
	require.NoError(t, err)

	assert.Equal(t, "New DESIGN tools meet technology.", c.Text)
	assert.Equal(t, []string{"Technology", "design"}, c.Themes)
	assert.Equal(t, []string{"short sentences"}, c.Style)
	assert.Equal(t, "post", c.Type)

	assert.Contains(t, fc.system, "You are Herald. watches culture writes briefly")
	assert.Contains(t, fc.system, "Voice: quietly confident")
	assert.Contains(t, fc.prompt, "Write a post.")
	assert.Contains(t, fc.prompt, "- short sentences")
	assert.Contains(t, fc.prompt, "Goal: Grow audience")
	assert.Contains(t, fc.prompt, "Current trends: edge ai")

	m := c.Map()
	assert.Equal(t, "2024-01-01T00:00:00Z", m["timestamp"])
}

func TestGenerateErrors(t *testing.T) {
	g := Generator{Character: testCharacter(), Completer: &fakeCompleter{err: errors.New("rate limited")}}
	_, err := g.Generate(context.Background(), "post", Brief{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	g.Completer = &fakeCompleter{text: "   "}
	_, err = g.Generate(context.Background(), "post", Brief{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	_, err = Generator{}.Generate(context.Background(), "post", Brief{})
	assert.Error(t, err)
}

func TestTemplateCompleter(t *testing.T) {
	g := Generator{Character: testCharacter(), Completer: TemplateCompleter{}}
	c, err := g.Generate(context.Background(), "thread", Brief{Focus: "design week", Trends: []string{"music"}})
	require.NoError(t, err)
	assert.Equal(t, "design week | music", c.Text)
	assert.Equal(t, []string{"design", "music"}, c.Themes)
}

func TestOpenAICompleterAgainstStub(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello world"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL, MaxTokens: 120})
	text, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.EqualValues(t, 120, got["max_tokens"])
	assert.EqualValues(t, 0.8, got["temperature"])
}

func TestExtractThemes(t *testing.T) {
	assert.Nil(t, ExtractThemes("nothing here", []string{"ai art"}))
	assert.Equal(t, []string{"ai"}, ExtractThemes("AI everywhere", []string{"", "ai"}))
}
