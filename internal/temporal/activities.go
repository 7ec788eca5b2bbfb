package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
)

const heartbeatInterval = 10 * time.Second

// Activities runs research turns on a worker
type Activities struct {
	svc *server.Service
}

func NewActivities(svc *server.Service) *Activities {
	return &Activities{svc: svc}
}

// turnID is stable across retries of one activity, so an attempt that died
// mid-turn does not leave the session busy for the next one.
func turnID(ctx context.Context) string {
	info := activity.GetInfo(ctx)
	return info.WorkflowExecution.RunID + "/" + info.ActivityID
}

// RunResearch executes one turn, heartbeating while the engine works.
// Failures a retry cannot fix are returned as non-retryable.
func (a *Activities) RunResearch(ctx context.Context, input ResearchInput) (*server.Response, error) {
	if input.SessionID == "" {
		input.SessionID = activity.GetInfo(ctx).WorkflowExecution.ID
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, input.SessionID)
			}
		}
	}()

	resp, err := a.svc.Research(ctx, server.Request{
		SessionID: input.SessionID,
		UserID:    input.UserID,
		Message:   input.Message,
		TurnID:    turnID(ctx),
	})
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, server.ErrEmptyMessage):
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err)
	case llm.IsStructuredOutputError(err):
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "StructuredOutputError", err)
	default:
		return nil, err
	}
}
