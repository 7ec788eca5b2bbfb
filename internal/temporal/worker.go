package temporal

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
)

// Dial connects to the Temporal frontend
func Dial(cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Host,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.Host, err)
	}
	return c, nil
}

// Register adds the research workflow and activities to w
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: ResearchWorkflowName})
	w.RegisterActivityWithOptions(acts.RunResearch, activity.RegisterOptions{Name: RunResearchActivity})
}

// NewWorker builds a worker for queue; the caller runs it
func NewWorker(c client.Client, queue string, acts *Activities) worker.Worker {
	w := worker.New(c, queue, worker.Options{
		MaxConcurrentActivityExecutionSize:     8,
		MaxConcurrentWorkflowTaskExecutionSize: 8,
	})
	Register(w, acts)
	return w
}

// Submit starts a research workflow for input and waits for its response
func Submit(ctx context.Context, c client.Client, queue string, input ResearchInput) (*server.Response, error) {
	opts := client.StartWorkflowOptions{TaskQueue: queue}
	if input.SessionID != "" {
		// one turn per session at a time; later turns reuse the id
		opts.ID = "research-" + input.SessionID
		opts.WorkflowIDReusePolicy = enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE
		opts.WorkflowIDConflictPolicy = enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL
	}
	run, err := c.ExecuteWorkflow(ctx, opts, ResearchWorkflowName, input)
	if err != nil {
		return nil, fmt.Errorf("start research workflow: %w", err)
	}
	var resp server.Response
	if err := run.Get(ctx, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
