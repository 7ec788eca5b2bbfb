package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	internaltemporal "github.com/Kocoro-lab/Shannon/go/deepresearch/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/session"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

var (
	runSessionID   string
	runRaw         bool
	runViaTemporal bool
)

// runCmd researches a single question in the foreground
var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Research a question and print the report",
	Long: `Runs a research session locally and renders the report.

When the engine asks a clarifying question it is read from stdin and the
session continues until a report is produced.

Example:
  deepresearch run "How do solid-state batteries compare to lithium-ion?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "continue an existing session")
	runCmd.Flags().BoolVar(&runRaw, "raw", false, "print plain markdown without progress output")
	runCmd.Flags().BoolVar(&runViaTemporal, "temporal", false, "submit the turn to a Temporal worker")
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r := newRenderer(cmd.OutOrStdout(), runRaw)

	a, err := newApp(ctx, appOptions{publishers: []workflows.Publisher{workflows.PublisherFunc(r.progress)}})
	if err != nil {
		return err
	}
	defer a.Close()

	turn := func(req server.Request) (*server.Response, error) {
		if !runViaTemporal {
			return a.service.Research(ctx, req)
		}
		c, err := internaltemporal.Dial(a.cfg.Temporal, logger)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return internaltemporal.Submit(ctx, c, a.cfg.Temporal.TaskQueue, internaltemporal.ResearchInput{
			SessionID: req.SessionID,
			Message:   req.Message,
		})
	}

	req := server.Request{SessionID: runSessionID, Message: strings.Join(args, " ")}
	stdin := bufio.NewReader(os.Stdin)
	for {
		resp, err := turn(req)
		if err != nil {
			return err
		}
		if resp.Status != session.StatusAwaitingClarification {
			return r.report(resp)
		}
		r.question(resp)
		fmt.Fprint(cmd.ErrOrStderr(), "> ")
		// EOF with a partial line still counts as an answer
		answer, _ := stdin.ReadString('\n')
		if strings.TrimSpace(answer) == "" {
			return fmt.Errorf("no answer given; resume with --session %s", resp.SessionID)
		}
		req = server.Request{SessionID: resp.SessionID, Message: strings.TrimSpace(answer)}
	}
}
