package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
)

var (
	// Global flags
	configPath string
	logLevel   string

	logger  *zap.Logger
	watcher *config.Watcher
)

var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "Multi-agent deep research engine",
	Long: `deepresearch turns a question into a cited markdown report.

A supervisor splits the research brief into topics, parallel researchers
search the web for each one, and a writer composes the final report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		watcher, err = config.NewWatcher(configPath, nil)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg := watcher.Current().Logging
		if logLevel != "" {
			cfg.Level = logLevel
		}
		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.AddCommand(runCmd, serveCmd, mcpCmd, workerCmd)
}

// newLogger builds a zap logger writing to stderr so stdout stays free for
// reports and the MCP stdio transport.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
