package llm

import (
	"context"
	"sort"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

// ToolSpec describes a callable capability bound to a request
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON schema object
}

// Schema asks the model for a JSON document matching Definition
type Schema struct {
	Name       string                 `json:"name"`
	Definition map[string]interface{} `json:"schema"`
}

// Request is a single chat completion request
type Request struct {
	Model          string
	MaxTokens      int
	Messages       []state.Message
	Tools          []ToolSpec
	ResponseSchema *Schema
}

// ChatModel is the provider boundary. Implementations classify context-window
// overflows so that errors.Is(err, ErrContextLengthExceeded) holds.
type ChatModel interface {
	Generate(ctx context.Context, req Request) (state.Message, error)
}

// ChatModelFunc adapts a function to ChatModel
type ChatModelFunc func(ctx context.Context, req Request) (state.Message, error)

func (f ChatModelFunc) Generate(ctx context.Context, req Request) (state.Message, error) {
	return f(ctx, req)
}

// ObjectSchema builds a JSON schema object with string/boolean properties, all required
func ObjectSchema(props map[string]string, descriptions map[string]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	required := make([]string, 0, len(props))
	for name, typ := range props {
		p := map[string]interface{}{"type": typ}
		if d, ok := descriptions[name]; ok {
			p["description"] = d
		}
		properties[name] = p
		required = append(required, name)
	}
	sort.Strings(required)
	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// Pricer estimates the USD cost of a call; *models.Catalog implements it
type Pricer interface {
	Cost(model string, promptTokens, completionTokens int) (float64, bool)
}
