package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	internaltemporal "github.com/Kocoro-lab/Shannon/go/deepresearch/internal/temporal"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker executing research workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		stopWatch := followConfig()
		defer stopWatch()

		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := internaltemporal.Dial(a.cfg.Temporal, logger)
		if err != nil {
			return err
		}
		defer c.Close()

		w := internaltemporal.NewWorker(c, a.cfg.Temporal.TaskQueue, internaltemporal.NewActivities(a.service))
		logger.Info("Temporal worker started", zap.String("queue", a.cfg.Temporal.TaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return fmt.Errorf("temporal worker exited: %w", err)
		}
		return nil
	},
}
