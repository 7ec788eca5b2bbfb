package tools

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
)

// Tool is a named capability a researcher's model may invoke
type Tool interface {
	Spec() llm.ToolSpec
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolExecutionError wraps a failure of a single tool invocation
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Registry holds a fixed set of tools. The completion signal is always present.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry registers ResearchComplete followed by extra, in order.
// A later tool with a duplicate name replaces the earlier one.
func NewRegistry(logger *zap.Logger, extra ...Tool) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{tools: make(map[string]Tool), logger: logger}
	r.add(ResearchComplete{})
	for _, t := range extra {
		if t != nil {
			r.add(t)
		}
	}
	return r
}

func (r *Registry) add(t Tool) {
	name := t.Spec().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Specs returns the bound tool specs in registration order
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec())
	}
	return out
}

// Names returns tool names in registration order
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get looks up a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs one call. Failures become error content in the result; Execute never fails.
func (r *Registry) Execute(ctx context.Context, call state.ToolCall) state.Message {
	content, err := r.invoke(ctx, call)
	metrics.RecordToolCall(call.Name, err != nil)
	if err != nil {
		r.logger.Warn("Tool execution failed",
			zap.String("tool", call.Name),
			zap.String("call_id", call.ID),
			zap.Error(err),
		)
		return state.ToolResult(call, fmt.Sprintf("Error executing tool: %v", err))
	}
	return state.ToolResult(call, content)
}

func (r *Registry) invoke(ctx context.Context, call state.ToolCall) (content string, err error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return "", &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("unknown tool %q", call.Name)}
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tool panicked",
				zap.String("tool", call.Name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	content, err = t.Invoke(ctx, call.Args)
	if err != nil {
		return "", &ToolExecutionError{Tool: call.Name, Err: err}
	}
	return content, nil
}

// ExecuteAll runs every call concurrently and returns results in call order.
// A failing call never cancels or aborts its siblings.
func (r *Registry) ExecuteAll(ctx context.Context, calls []state.ToolCall) []state.Message {
	results := make([]state.Message, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
