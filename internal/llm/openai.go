package llm

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
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

const maxTransportRetries = 3

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint
type OpenAIClient struct {
	baseURL string
	apiKey  string
	http    *circuitbreaker.HTTPClient
	limiter *rate.Limiter
	pricer  Pricer
	logger  *zap.Logger
	backoff time.Duration
}

// NewOpenAIClient creates a rate limited, breaker protected client
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	hc := circuitbreaker.NewHTTPClient(&http.Client{Timeout: timeout}, "llm", circuitbreaker.KindLLM, logger)
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		backoff: time.Second,
	}
}

// WithPricing records estimated spend for every successful call
func (c *OpenAIClient) WithPricing(p Pricer) *OpenAIClient {
	c.pricer = p
	return c
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string   `json:"type"`
	Function ToolSpec `json:"function"`
}

type responseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name   string                 `json:"name"`
		Schema map[string]interface{} `json:"schema"`
	} `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type apiErrorBody struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"`
}

// Generate sends one chat completion request
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (state.Message, error) {
	body, err := json.Marshal(buildChatRequest(req))
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= maxTransportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return state.Message{}, ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<uint(attempt-1))):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return state.Message{}, fmt.Errorf("rate limiter: %w", err)
		}

		msg, usage, err := c.send(ctx, body)
		if err == nil {
			metrics.RecordLLMRequest(req.Model, "success", time.Since(start).Seconds(), usage.PromptTokens, usage.CompletionTokens)
			if c.pricer != nil {
				if usd, ok := c.pricer.Cost(req.Model, usage.PromptTokens, usage.CompletionTokens); ok {
					metrics.LLMCost.WithLabelValues(req.Model).Add(usd)
				}
			}
			return msg, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		c.logger.Warn("Chat completion failed, retrying",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	status := "error"
	if IsContextLengthExceeded(lastErr) {
		status = "context_overflow"
	}
	metrics.RecordLLMRequest(req.Model, status, time.Since(start).Seconds(), 0, 0)
	return state.Message{}, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable() && !apiErr.Is(ErrContextLengthExceeded)
	}
	// transport failure or malformed body
	return true
}

type usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (c *OpenAIClient) send(ctx context.Context, body []byte) (state.Message, usage, error) {
	url := c.baseURL + "/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return state.Message{}, usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return state.Message{}, usage{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return state.Message{}, usage{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		err = toAPIError(resp.StatusCode, parsed.Error, raw)
		return state.Message{}, usage{}, err
	}
	if decodeErr != nil {
		err = fmt.Errorf("failed to parse response: %w", decodeErr)
		return state.Message{}, usage{}, err
	}
	if len(parsed.Choices) == 0 {
		err = errors.New("no completion returned")
		return state.Message{}, usage{}, err
	}

	msg, err := fromChatMessage(parsed.Choices[0].Message)
	if err != nil {
		return state.Message{}, usage{}, err
	}
	return msg, usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens}, nil
}

func toAPIError(status int, body *apiErrorBody, raw []byte) *APIError {
	e := &APIError{StatusCode: status}
	if body == nil {
		e.Message = strings.TrimSpace(string(raw))
		return e
	}
	e.Message = body.Message
	e.Type = body.Type
	if body.Code != nil {
		e.Code = fmt.Sprint(body.Code)
	}
	return e
}

func buildChatRequest(req Request) chatRequest {
	out := chatRequest{
		Model:     providerModel(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  make([]chatMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		if m.Role == state.RoleTool {
			cm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			var call chatToolCall
			call.ID = tc.ID
			call.Type = "function"
			call.Function.Name = tc.Name
			args, _ := json.Marshal(tc.Args)
			call.Function.Arguments = string(args)
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		if t.Parameters == nil {
			t.Parameters = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out.Tools = append(out.Tools, chatTool{Type: "function", Function: t})
	}
	if req.ResponseSchema != nil {
		rf := &responseFormat{Type: "json_schema"}
		rf.JSONSchema = &struct {
			Name   string                 `json:"name"`
			Schema map[string]interface{} `json:"schema"`
		}{Name: req.ResponseSchema.Name, Schema: req.ResponseSchema.Definition}
		out.ResponseFormat = rf
	}
	return out
}

func fromChatMessage(cm chatMessage) (state.Message, error) {
	msg := state.Message{Role: state.RoleAssistant, Content: cm.Content}
	for _, call := range cm.ToolCalls {
		args := map[string]interface{}{}
		if s := strings.TrimSpace(call.Function.Arguments); s != "" {
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return state.Message{}, fmt.Errorf("tool call %s: invalid arguments: %w", call.Function.Name, err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, state.ToolCall{ID: call.ID, Name: call.Function.Name, Args: args})
	}
	return msg, nil
}

// providerModel drops a "provider:" prefix such as "openai:gpt-4.1"
func providerModel(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}
