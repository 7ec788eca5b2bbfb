package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

// Validator is implemented by structured outputs with constraints beyond the JSON shape
type Validator interface {
	Validate() error
}

// Gateway binds a ChatModel to one stage's model selection and retry budget
type Gateway struct {
	model       ChatModel
	name        string
	maxTokens   int
	maxAttempts int
	logger      *zap.Logger
}

// NewGateway creates a gateway for mc. maxAttempts bounds structured output
// attempts and is clamped to at least one.
func NewGateway(model ChatModel, mc config.ModelConfig, maxAttempts int, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Gateway{
		model:       model,
		name:        mc.Name,
		maxTokens:   mc.MaxTokens,
		maxAttempts: maxAttempts,
		logger:      logger.With(zap.String("model", mc.Name)),
	}
}

// ModelName returns the configured model identifier
func (g *Gateway) ModelName() string { return g.name }

// Invoke requests a plain assistant message
func (g *Gateway) Invoke(ctx context.Context, messages []state.Message) (state.Message, error) {
	return g.generate(ctx, Request{Messages: messages})
}

// InvokeWithTools requests an assistant message that may carry tool calls
func (g *Gateway) InvokeWithTools(ctx context.Context, messages []state.Message, tools []ToolSpec) (state.Message, error) {
	return g.generate(ctx, Request{Messages: messages, Tools: tools})
}

func (g *Gateway) generate(ctx context.Context, req Request) (state.Message, error) {
	req.Model = g.name
	req.MaxTokens = g.maxTokens

	ctx, span := tracing.StartSpan(ctx, "llm.generate",
		attribute.String("llm.model", g.name),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	)
	msg, err := g.model.Generate(ctx, req)
	tracing.EndSpan(span, err)
	if err != nil {
		return state.Message{}, err
	}
	if msg.Role == "" {
		msg.Role = state.RoleAssistant
	}
	return msg, nil
}

// InvokeStructured requests a JSON document decoded into T, retrying until it
// parses (and validates, when T implements Validator) or attempts run out.
func InvokeStructured[T any](ctx context.Context, g *Gateway, messages []state.Message, schema Schema) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		msg, err := g.generate(ctx, Request{Messages: messages, ResponseSchema: &schema})
		if err == nil {
			var out T
			if err = decodeStructured(msg.Content, &out); err == nil {
				return out, nil
			}
		}
		lastErr = err
		metrics.StructuredOutputRetries.WithLabelValues(schema.Name).Inc()
		g.logger.Warn("Structured output attempt failed",
			zap.String("schema", schema.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.maxAttempts),
			zap.Error(err),
		)
	}
	return zero, &StructuredOutputError{Schema: schema.Name, Attempts: g.maxAttempts, Err: lastErr}
}

var errEmptyDocument = errors.New("empty structured output")

func decodeStructured(content string, out interface{}) error {
	doc := extractJSON(content)
	if doc == "" {
		return errEmptyDocument
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate structured output: %w", err)
		}
	}
	return nil
}

// extractJSON strips markdown fences and surrounding prose from a JSON object
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
