package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/models"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/state"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

// Status is the outcome of a session run
type Status string

const (
	StatusClarification Status = "clarification"
	StatusCompleted     Status = "completed"
)

// Result is what a caller of Run observes: a clarifying question or a report
type Result struct {
	SessionID  string           `json:"session_id"`
	Status     Status           `json:"status"`
	Question   string           `json:"question,omitempty"`
	Report     string           `json:"report,omitempty"`
	State      state.AgentState `json:"state"`
	Iterations int              `json:"iterations"`
	Duration   time.Duration    `json:"duration"`
}

// Deps are the collaborators an Engine runs against
type Deps struct {
	Model     llm.ChatModel
	Tools     []tools.Tool // search tools; the completion signal and think_tool are always bound
	Catalog   *models.Catalog
	Publisher Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine runs research sessions under one immutable configuration
type Engine struct {
	cfg       config.ResearchConfig
	research  *llm.Gateway
	compress  *llm.Gateway
	report    *llm.Gateway
	registry  *tools.Registry
	catalog   *models.Catalog
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine validates cfg and binds one gateway per stage
func NewEngine(cfg config.ResearchConfig, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid research config: %w", err)
	}
	if deps.Model == nil {
		return nil, errors.New("chat model is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		research:  llm.NewGateway(deps.Model, cfg.Models.Research, cfg.MaxStructuredOutputRetries, logger),
		compress:  llm.NewGateway(deps.Model, cfg.Models.Compression, cfg.MaxStructuredOutputRetries, logger),
		report:    llm.NewGateway(deps.Model, cfg.Models.FinalReport, cfg.MaxStructuredOutputRetries, logger),
		registry:  tools.NewRegistry(logger, append([]tools.Tool{tools.Think{}}, deps.Tools...)...),
		catalog:   deps.Catalog,
		publisher: deps.Publisher,
		logger:    logger,
		now:       deps.Now,
	}
	if e.catalog == nil {
		e.catalog = models.Default()
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() config.ResearchConfig { return e.cfg }

// Run drives one session over thread (the user-visible conversation, ending
// with the latest user turn). Only the clarification and brief stages, or
// cancellation of ctx, produce an error.
func (e *Engine) Run(ctx context.Context, sessionID string, thread []state.Message) (*Result, error) {
	start := e.now()
	logger := e.logger.With(zap.String("session_id", sessionID))
	ctx, span := tracing.StartSpan(ctx, "deepresearch.session", attribute.String("session.id", sessionID))
	var runErr error
	defer func() { tracing.EndSpan(span, runErr) }()

	metrics.SessionsStarted.Inc()
	e.emit(sessionID, EventWorkflowStarted, "", "Research session started")
	logger.Info("Starting research session", zap.Int("messages", len(thread)))

	s := state.AgentState{Messages: state.Append(nil, thread)}
	var (
		iterations int
		prev       agentNode
	)
	node := nodeClarify
	for node != nodeEnd {
		if err := ctx.Err(); err != nil {
			runErr = err
			metrics.RecordSession("failed", e.now().Sub(start).Seconds(), iterations)
			return nil, err
		}
		var (
			tr  Transition[agentNode, state.AgentUpdate]
			err error
		)
		switch node {
		case nodeClarify:
			tr, err = e.clarify(ctx, sessionID, s)
		case nodeBrief:
			tr, err = e.writeBrief(ctx, sessionID, s)
		case nodeSupervisor:
			tr, iterations = e.supervise(ctx, sessionID, s)
		case nodeReport:
			tr = e.finalReport(ctx, sessionID, s)
		default:
			err = fmt.Errorf("unknown node %q", node)
		}
		if err != nil {
			runErr = err
			logger.Error("Research session failed", zap.String("node", string(node)), zap.Error(err))
			metrics.RecordSession("failed", e.now().Sub(start).Seconds(), iterations)
			e.emit(sessionID, EventWorkflowCompleted, "", "failed: "+err.Error())
			return nil, err
		}
		s = s.Apply(tr.Update)
		prev, node = node, tr.Next
	}
	if err := ctx.Err(); err != nil {
		runErr = err
		metrics.RecordSession("failed", e.now().Sub(start).Seconds(), iterations)
		return nil, err
	}

	res := &Result{
		SessionID:  sessionID,
		Status:     StatusCompleted,
		Report:     s.FinalReport,
		State:      s,
		Iterations: iterations,
		Duration:   e.now().Sub(start),
	}
	if prev == nodeClarify {
		res.Status = StatusClarification
		if last, ok := state.LastMessage(s.Messages); ok {
			res.Question = last.Content
		}
	}
	metrics.RecordSession(string(res.Status), res.Duration.Seconds(), iterations)
	e.emit(sessionID, EventWorkflowCompleted, "", string(res.Status))
	logger.Info("Research session finished",
		zap.String("status", string(res.Status)),
		zap.Int("iterations", iterations),
		zap.Int("report_chars", len(res.Report)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (e *Engine) today() string {
	return prompts.Today(e.now())
}
