package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

type summarizerFunc func(ctx context.Context, content string) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

func tavilyServer(t *testing.T, byQuery map[string][]SearchResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		results, ok := byQuery[req.Query]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(tavilyResponse{Query: req.Query, Results: results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func searchConfig(url string) config.SearchConfig {
	cfg := config.Default().Search
	cfg.BaseURL = url
	cfg.APIKey = "tvly-test"
	cfg.Summarize = false
	return cfg
}

func TestTavilySearchDedupesAndFormats(t *testing.T) {
	srv := tavilyServer(t, map[string][]SearchResult{
		"q1": {{Title: "One", URL: "https://a.example/1", Content: "first"}, {Title: "Two", URL: "https://a.example/2", Content: "second"}},
		"q2": {{Title: "One again", URL: "https://a.example/1/", Content: "dup"}, {Title: "Three", URL: "https://a.example/3", Content: "third"}},
	})
	s := NewTavilySearch(searchConfig(srv.URL), nil, zaptest.NewLogger(t))

	out, err := s.Invoke(context.Background(), map[string]interface{}{"queries": []interface{}{"q1", "q2"}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "Search results: \n\n"))
	assert.Equal(t, 3, strings.Count(out, "--- SOURCE "))
	assert.Contains(t, out, "--- SOURCE 1: One ---\nURL: https://a.example/1\n\nSUMMARY:\nfirst")
	assert.Contains(t, out, "--- SOURCE 3: Three ---")
	assert.NotContains(t, out, "dup")
}

func TestTavilySearchPartialAndTotalFailure(t *testing.T) {
	srv := tavilyServer(t, map[string][]SearchResult{
		"good": {{Title: "Ok", URL: "https://ok.example", Content: "fine"}},
		"none": {},
	})
	s := NewTavilySearch(searchConfig(srv.URL), nil, zaptest.NewLogger(t))
	ctx := context.Background()

	out, err := s.Invoke(ctx, map[string]interface{}{"queries": []interface{}{"good", "bad"}})
	require.NoError(t, err)
	assert.Contains(t, out, "SOURCE 1: Ok")

	out, err = s.Invoke(ctx, map[string]interface{}{"queries": []interface{}{"none"}})
	require.NoError(t, err)
	assert.Equal(t, NoResultsMessage, out)

	_, err = s.Invoke(ctx, map[string]interface{}{"queries": []interface{}{"bad"}})
	assert.ErrorContains(t, err, "all 1 search queries failed")

	_, err = s.Invoke(ctx, map[string]interface{}{})
	assert.ErrorIs(t, err, errMissingArg)
}

func TestTavilySearchSummarizesWithFallback(t *testing.T) {
	srv := tavilyServer(t, map[string][]SearchResult{
		"q": {
			{Title: "Fast", URL: "https://f.example", Content: "snippet", RawContent: strings.Repeat("é", 50)},
			{Title: "Slow", URL: "https://s.example", Content: "snippet", RawContent: "slow page"},
			{Title: "NoRaw", URL: "https://n.example", Content: "plain snippet"},
		},
	})
	cfg := searchConfig(srv.URL)
	cfg.Summarize = true
	cfg.MaxContentLength = 10
	cfg.SummarizeTimeout = 50 * time.Millisecond

	var seen []string
	sum := summarizerFunc(func(ctx context.Context, content string) (string, error) {
		if content == "slow page" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		seen = append(seen, content)
		return "condensed", nil
	})
	s := NewTavilySearch(cfg, sum, zaptest.NewLogger(t))

	out, err := s.Invoke(context.Background(), map[string]interface{}{"queries": []interface{}{"q"}})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, strings.Repeat("é", 10), seen[0], "raw content capped in runes")
	assert.Contains(t, out, "SOURCE 1: Fast ---\nURL: https://f.example\n\nSUMMARY:\ncondensed")
	assert.Contains(t, out, "SUMMARY:\nslow page", "timeout falls back to raw content")
	assert.Contains(t, out, "SUMMARY:\nplain snip\n", "snippets share the content cap")
}

func TestTavilySearchCapsSnippetsWithoutSummarization(t *testing.T) {
	srv := tavilyServer(t, map[string][]SearchResult{
		"q": {{Title: "Long", URL: "https://l.example", Content: strings.Repeat("ü", 40)}},
	})
	cfg := searchConfig(srv.URL)
	cfg.MaxContentLength = 16

	out, err := NewTavilySearch(cfg, nil, zaptest.NewLogger(t)).Invoke(context.Background(), map[string]interface{}{"queries": []interface{}{"q"}})
	require.NoError(t, err)

	assert.Contains(t, out, "SUMMARY:\n"+strings.Repeat("ü", 16)+"\n")
	assert.NotContains(t, out, strings.Repeat("ü", 17))
}

func TestFormatResultsCapsSummaries(t *testing.T) {
	results := []SearchResult{{Title: "A", URL: "https://a.example", Content: "short"}}
	out := FormatResults(results, []string{"a much longer summary"}, 6)
	assert.Contains(t, out, "SUMMARY:\na much\n")

	out = FormatResults(results, nil, 0)
	assert.Contains(t, out, "SUMMARY:\nshort\n")
}

func TestModelSummarizer(t *testing.T) {
	model := llm.ChatModelFunc(func(ctx context.Context, req llm.Request) (state.Message, error) {
		require.NotNil(t, req.ResponseSchema)
		assert.Equal(t, "Summary", req.ResponseSchema.Name)
		return state.AssistantMessage(`{"summary": "short", "key_excerpts": "\"quote\""}`), nil
	})
	g := llm.NewGateway(model, config.ModelConfig{Name: "gpt-4.1-mini"}, 1, zaptest.NewLogger(t))

	out, err := NewModelSummarizer(g).Summarize(context.Background(), "long page")
	require.NoError(t, err)
	assert.Equal(t, "<summary>\nshort\n</summary>\n\n<key_excerpts>\n\"quote\"\n</key_excerpts>", out)

	failing := llm.ChatModelFunc(func(ctx context.Context, req llm.Request) (state.Message, error) {
		return state.Message{}, errors.New("down")
	})
	_, err = NewModelSummarizer(llm.NewGateway(failing, config.ModelConfig{Name: "m"}, 1, nil)).Summarize(context.Background(), "x")
	assert.True(t, llm.IsStructuredOutputError(err))
}
