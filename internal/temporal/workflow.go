package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
)

// Registered workflow and activity names
const (
	ResearchWorkflowName = "DeepResearchWorkflow"
	RunResearchActivity  = "RunResearch"
)

// ResearchInput is one user turn submitted through Temporal
type ResearchInput struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

// ResearchWorkflow runs a research turn as a single durable activity. The
// engine keeps its own retry policy per stage, so the activity retries only
// infrastructure failures.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (*server.Response, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Research workflow started", "session_id", input.SessionID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})

	var resp server.Response
	if err := workflow.ExecuteActivity(ctx, RunResearchActivity, input).Get(ctx, &resp); err != nil {
		logger.Error("Research activity failed", "session_id", input.SessionID, "error", err)
		return nil, err
	}
	logger.Info("Research workflow completed",
		"session_id", resp.SessionID,
		"status", string(resp.Status),
	)
	return &resp, nil
}
