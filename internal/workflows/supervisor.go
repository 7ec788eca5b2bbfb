package workflows

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

type supervisorTransition = Transition[supervisorNode, state.SupervisorUpdate]

func (e *Engine) supervisorTools() []llm.ToolSpec {
	return []llm.ToolSpec{tools.ConductResearchSpec(), tools.ResearchComplete{}.Spec(), tools.Think{}.Spec()}
}

// supervise runs the supervisor loop to completion and hands its notes to report synthesis
func (e *Engine) supervise(ctx context.Context, sessionID string, s state.AgentState) (Transition[agentNode, state.AgentUpdate], int) {
	ctx, span := tracing.StartSpan(ctx, "deepresearch.supervisor")
	sup := e.RunSupervisor(ctx, sessionID, state.SupervisorState{
		Messages:      s.SupervisorMessages,
		ResearchBrief: s.ResearchBrief,
	})
	span.SetAttributes(attribute.Int("supervisor.iterations", sup.IterationCount), attribute.Int("supervisor.notes", len(sup.Notes)))
	span.End()

	return Transition[agentNode, state.AgentUpdate]{
		Next: nodeReport,
		Update: state.AgentUpdate{
			ResearchBrief:      state.Ptr(sup.ResearchBrief),
			SupervisorMessages: state.Append([]state.Message{}, sup.Messages),
			Notes:              sup.Notes,
			RawNotes:           sup.RawNotes,
		},
	}, sup.IterationCount
}

// RunSupervisor drives the Supervising/Dispatching loop until Done. It never fails:
// model errors end the loop with whatever notes exist.
func (e *Engine) RunSupervisor(ctx context.Context, sessionID string, s state.SupervisorState) state.SupervisorState {
	node := nodeSupervising
	for node != nodeSupDone {
		var tr supervisorTransition
		switch node {
		case nodeSupervising:
			tr = e.supervisorStep(ctx, sessionID, s)
		case nodeDispatching:
			tr = e.dispatchStep(ctx, sessionID, s)
		default:
			tr = finishSupervisor(s.Messages, state.SupervisorUpdate{})
		}
		s = s.Apply(tr.Update)
		node = tr.Next
	}
	return s
}

// finishSupervisor moves to Done, folding notes from every tool result in the
// thread as it will stand after extra is applied.
func finishSupervisor(current []state.Message, extra state.SupervisorUpdate) supervisorTransition {
	thread := state.Append(state.Replace(current, extra.ResetMessages), extra.Messages)
	extra.Notes = state.Append(extra.Notes, state.ToolResultContents(thread))
	return supervisorTransition{Next: nodeSupDone, Update: extra}
}

func (e *Engine) supervisorStep(ctx context.Context, sessionID string, s state.SupervisorState) supervisorTransition {
	e.emit(sessionID, EventSupervisorThinking, "supervisor", fmt.Sprintf("iteration %d", s.IterationCount+1))
	resp, err := e.research.InvokeWithTools(ctx, s.Messages, e.supervisorTools())
	if err != nil {
		e.logger.Warn("Supervisor model call failed, finishing with existing notes",
			zap.String("session_id", sessionID),
			zap.Int("iteration", s.IterationCount),
			zap.Bool("context_overflow", llm.IsContextLengthExceeded(err)),
			zap.Error(err),
		)
		e.emit(sessionID, EventErrorRecovery, "supervisor", err.Error())
		return finishSupervisor(s.Messages, state.SupervisorUpdate{})
	}
	return supervisorTransition{
		Next: nodeDispatching,
		Update: state.SupervisorUpdate{
			Messages:       []state.Message{resp},
			IterationCount: state.Ptr(s.IterationCount + 1),
		},
	}
}

func (e *Engine) dispatchStep(ctx context.Context, sessionID string, s state.SupervisorState) supervisorTransition {
	last, _ := state.LastMessage(s.Messages)
	if s.IterationCount >= e.cfg.MaxResearcherIterations || !last.HasToolCalls() {
		e.logger.Info("Supervisor finished",
			zap.String("session_id", sessionID),
			zap.Int("iterations", s.IterationCount),
			zap.Bool("iteration_cap", s.IterationCount >= e.cfg.MaxResearcherIterations),
		)
		return finishSupervisor(s.Messages, state.SupervisorUpdate{})
	}

	calls := last.ToolCalls
	results := make([]state.Message, len(calls))
	var accepted []int
	completed := false
	for i, call := range calls {
		switch call.Name {
		case tools.ConductResearchName:
			if len(accepted) < e.cfg.MaxConcurrentResearchUnits {
				accepted = append(accepted, i)
				continue
			}
			metrics.ResearchUnitsOverflowed.Inc()
			results[i] = state.ToolResult(call, OverflowMessage(e.cfg.MaxConcurrentResearchUnits))
		case tools.ResearchCompleteName:
			completed = true
			results[i] = state.ToolResult(call, tools.ResearchCompleteAck)
		default:
			results[i] = e.registry.Execute(ctx, call)
		}
	}
	if overflow := countName(calls, tools.ConductResearchName) - len(accepted); overflow > 0 {
		e.emit(sessionID, EventOverflow, "supervisor",
			fmt.Sprintf("%d research units over the limit of %d", overflow, e.cfg.MaxConcurrentResearchUnits))
	}

	var rawNotes []string
	if len(accepted) > 0 {
		outputs := e.dispatchResearchers(ctx, sessionID, calls, accepted)
		perWorker := make([]string, 0, len(accepted))
		for k, idx := range accepted {
			out := outputs[k]
			content := out.CompressedResearch
			if !out.OK {
				content = CompressionFailedSentinel
			}
			results[idx] = state.ToolResult(calls[idx], content)
			perWorker = append(perWorker, strings.Join(out.RawNotes, "\n"))
		}
		rawNotes = []string{strings.Join(perWorker, "\n")}
	}

	update := state.SupervisorUpdate{Messages: results, RawNotes: rawNotes}
	if completed {
		return finishSupervisor(s.Messages, update)
	}
	return supervisorTransition{Next: nodeSupervising, Update: update}
}

// ResearcherOutput is what one worker hands back to the supervisor
type ResearcherOutput struct {
	CallID             string
	CompressedResearch string
	RawNotes           []string
	OK                 bool // false when the worker produced no compressed research
}

// dispatchResearchers runs one worker per accepted call and waits for all of
// them. Outputs are indexed like accepted; a failing worker never cancels the others.
func (e *Engine) dispatchResearchers(ctx context.Context, sessionID string, calls []state.ToolCall, accepted []int) []ResearcherOutput {
	outputs := make([]ResearcherOutput, len(accepted))
	var g errgroup.Group
	for k, idx := range accepted {
		call := calls[idx]
		metrics.ResearchUnitsDispatched.Inc()
		g.Go(func() error {
			outputs[k] = e.runWorker(ctx, sessionID, call)
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

func (e *Engine) runWorker(ctx context.Context, sessionID string, call state.ToolCall) (out ResearcherOutput) {
	start := time.Now()
	out.CallID = call.ID
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("Researcher panicked",
				zap.String("session_id", sessionID),
				zap.String("call_id", call.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			out = ResearcherOutput{CallID: call.ID}
		}
		status := "success"
		if !out.OK {
			status = "failed"
		}
		metrics.ResearcherDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		e.emit(sessionID, EventAgentCompleted, call.ID, status)
	}()

	topic, err := tools.TopicArg(call.Args)
	if err != nil {
		e.logger.Warn("ConductResearch call without a usable topic", zap.String("call_id", call.ID), zap.Error(err))
		return out
	}
	e.emit(sessionID, EventAgentStarted, call.ID, topic)
	return e.RunResearcher(ctx, sessionID, call.ID, topic)
}

func countName(calls []state.ToolCall, name string) int {
	n := 0
	for _, c := range calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
