package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

const TavilySearchName = "tavily_search"

// NoResultsMessage is returned when every query came back empty
const NoResultsMessage = "No valid search results found. Please try different search queries or use a different search API."

// SearchResult is one hit from a search provider
type SearchResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

// Summarizer condenses page content. Implementations may be slow; callers bound them with a timeout.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// TavilySearch queries the Tavily API, one request per query, in parallel
type TavilySearch struct {
	cfg        config.SearchConfig
	http       *circuitbreaker.HTTPClient
	summarizer Summarizer
	logger     *zap.Logger
}

// NewTavilySearch creates the search tool. summarizer may be nil.
func NewTavilySearch(cfg config.SearchConfig, summarizer Summarizer, logger *zap.Logger) *TavilySearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Topic == "" {
		cfg.Topic = "general"
	}
	if !cfg.Summarize {
		summarizer = nil
	}
	return &TavilySearch{
		cfg:        cfg,
		http:       circuitbreaker.NewHTTPClient(&http.Client{Timeout: timeout}, "tavily", circuitbreaker.KindSearch, logger),
		summarizer: summarizer,
		logger:     logger,
	}
}

func (s *TavilySearch) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: TavilySearchName,
		Description: "A search engine optimized for comprehensive, accurate, and trusted results. " +
			"Useful for when you need to answer questions about current events.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"queries": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "List of search queries to execute",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return per query",
				},
				"topic": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"general", "news", "finance"},
					"description": "Topic to filter results by",
				},
			},
			"required": []string{"queries"},
		},
	}
}

// Invoke runs every query, deduplicates results by URL and renders them as
// source-delimited blocks. It fails only when every query fails.
func (s *TavilySearch) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	queries, err := queriesArg(args)
	if err != nil {
		return "", err
	}
	maxResults := s.cfg.MaxResults
	if v, ok := args["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}
	topic := s.cfg.Topic
	if v, ok := args["topic"].(string); ok && v != "" {
		topic = v
	}

	perQuery := make([][]SearchResult, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			perQuery[i], errs[i] = s.search(ctx, q, maxResults, topic)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			s.logger.Warn("Search query failed", zap.String("query", queries[i]), zap.Error(err))
		}
	}
	if failed == len(queries) {
		return "", fmt.Errorf("all %d search queries failed: %w", failed, errors.Join(errs...))
	}

	unique := Dedupe(perQuery)
	if len(unique) == 0 {
		return NoResultsMessage, nil
	}
	summaries := s.summarizeAll(ctx, unique)
	return FormatResults(unique, summaries, s.cfg.MaxContentLength), nil
}

// Dedupe flattens per-query results keeping the first occurrence of each URL
func Dedupe(perQuery [][]SearchResult) []SearchResult {
	seen := make(map[string]struct{})
	var out []SearchResult
	for _, results := range perQuery {
		for _, r := range results {
			key := strings.TrimSuffix(strings.TrimSpace(r.URL), "/")
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// FormatResults renders results; summaries[i] replaces the snippet of results[i] when non-empty.
// Every body is capped at maxLen runes; maxLen <= 0 disables the cap.
func FormatResults(results []SearchResult, summaries []string, maxLen int) string {
	var b strings.Builder
	b.WriteString("Search results: \n\n")
	for i, r := range results {
		body := r.Content
		if i < len(summaries) && summaries[i] != "" {
			body = summaries[i]
		}
		body = truncateRunes(body, maxLen)
		fmt.Fprintf(&b, "\n\n--- SOURCE %d: %s ---\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n\n", r.URL)
		fmt.Fprintf(&b, "SUMMARY:\n%s\n\n", body)
		b.WriteString("\n\n" + strings.Repeat("-", 80) + "\n")
	}
	return b.String()
}

func (s *TavilySearch) summarizeAll(ctx context.Context, results []SearchResult) []string {
	summaries := make([]string, len(results))
	if s.summarizer == nil {
		return summaries
	}
	var g errgroup.Group
	for i, r := range results {
		if r.RawContent == "" {
			continue
		}
		g.Go(func() error {
			summaries[i] = s.summarize(ctx, truncateRunes(r.RawContent, s.cfg.MaxContentLength))
			return nil
		})
	}
	_ = g.Wait()
	return summaries
}

// summarize falls back to the raw content on timeout or failure
func (s *TavilySearch) summarize(ctx context.Context, content string) string {
	timeout := s.cfg.SummarizeTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summary, err := s.summarizer.Summarize(ctx, content)
	if err != nil {
		s.logger.Debug("Summarization failed, using raw content", zap.Error(err))
		return content
	}
	return summary
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	Topic             string `json:"topic"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

func (s *TavilySearch) search(ctx context.Context, query string, maxResults int, topic string) ([]SearchResult, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        maxResults,
		Topic:             topic,
		IncludeRawContent: s.summarizer != nil,
	})
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/search"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tavily response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed tavilyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tavily response: %w", err)
	}
	return parsed.Results, nil
}

func queriesArg(args map[string]interface{}) ([]string, error) {
	var out []string
	switch v := args["queries"].(type) {
	case []interface{}:
		for _, q := range v {
			if s, ok := q.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		out = append(out, v)
	}
	if q, ok := args["query"].(string); ok && q != "" {
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: queries", errMissingArg)
	}
	return out, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// webSummary is the structured output of the summarization model
type webSummary struct {
	Summary     string `json:"summary"`
	KeyExcerpts string `json:"key_excerpts"`
}

func (w webSummary) Validate() error {
	if strings.TrimSpace(w.Summary) == "" {
		return errors.New("summary is empty")
	}
	return nil
}

var summarySchema = llm.Schema{
	Name: "Summary",
	Definition: llm.ObjectSchema(
		map[string]string{"summary": "string", "key_excerpts": "string"},
		nil,
	),
}

// ModelSummarizer summarizes pages with the summarization model
type ModelSummarizer struct {
	gateway *llm.Gateway
	now     func() time.Time
}

// NewModelSummarizer builds a summarizer on gateway
func NewModelSummarizer(gateway *llm.Gateway) *ModelSummarizer {
	return &ModelSummarizer{gateway: gateway, now: time.Now}
}

// Summarize implements Summarizer
func (m *ModelSummarizer) Summarize(ctx context.Context, content string) (string, error) {
	msgs := []state.Message{state.UserMessage(prompts.SummarizeWebpage(content, prompts.Today(m.now())))}
	out, err := llm.InvokeStructured[webSummary](ctx, m.gateway, msgs, summarySchema)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<summary>\n%s\n</summary>\n\n<key_excerpts>\n%s\n</key_excerpts>", out.Summary, out.KeyExcerpts), nil
}
