package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/db"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/health"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/models"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/session"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

// app holds the long-lived components shared by every command
type app struct {
	cfg     *config.Config
	service *server.Service
	streams *streaming.Manager
	health  *health.Manager

	closers []func()
}

// appOptions adds observers to the engine's event stream
type appOptions struct {
	publishers []workflows.Publisher
}

// newApp wires the stack from the current configuration. Optional backends
// (Redis, database) are only connected when configured.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := watcher.Current()
	a := &app{
		cfg:     cfg,
		streams: streaming.NewManager(streaming.DefaultCapacity, logger),
		health:  health.NewManager(5*time.Second, logger),
	}

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	})

	catalog := models.Default()
	if cfg.ModelsPath != "" {
		if catalog, err = models.Load(cfg.ModelsPath); err != nil {
			a.Close()
			return nil, err
		}
	}

	model := llm.NewOpenAIClient(cfg.LLM, logger).WithPricing(catalog)
	a.health.Register(health.PingChecker{Component: "llm", Critical: false, Ping: func(context.Context) error {
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm api key is not configured")
		}
		return nil
	}})

	var searchTools []tools.Tool
	if cfg.Search.Provider == "tavily" {
		var summarizer tools.Summarizer
		if cfg.Search.Summarize {
			gw := llm.NewGateway(model, cfg.Research.Models.Summarization, cfg.Research.MaxStructuredOutputRetries, logger)
			summarizer = tools.NewModelSummarizer(gw)
		}
		searchTools = append(searchTools, tools.NewTavilySearch(cfg.Search, summarizer, logger))
	}

	var store session.Store = session.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		rs := session.NewRedisStore(rdb, cfg.Redis.TTL, logger)
		store = rs
		a.health.Register(health.PingChecker{Component: "redis", Critical: true, Ping: rs.Ping})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	publishers := workflows.Publishers{a.streams}
	publishers = append(publishers, opts.publishers...)

	var archive server.Archive
	if cfg.Database.Driver != "" {
		client, err := db.Open(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		writer := db.NewEventWriter(client, 1024, 2, logger)
		publishers = append(publishers, writer)
		archive = client
		a.health.Register(health.PingChecker{Component: "database", Critical: true, Ping: client.Ping})
		a.closers = append(a.closers, func() {
			writer.Close()
			_ = client.Close()
		})
	}

	a.service, err = server.NewService(server.Options{
		Sessions: session.NewManager(store, cfg.Redis.TTL, logger),
		Snapshot: watcher.Snapshot,
		Deps: workflows.Deps{
			Model:     model,
			Tools:     searchTools,
			Catalog:   catalog,
			Publisher: publishers,
			Logger:    logger,
		},
		Archive: archive,
		Logger:  logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// followConfig reloads the research configuration when the file changes
func followConfig() func() {
	if configPath == "" {
		return func() {}
	}
	watcher.OnChange(func(cfg *config.Config) {
		logger.Info("Research configuration reloaded",
			zap.Int("max_concurrent_research_units", cfg.Research.MaxConcurrentResearchUnits),
			zap.Int("max_researcher_iterations", cfg.Research.MaxResearcherIterations),
			zap.Int("max_react_tool_calls", cfg.Research.MaxReactToolCalls),
		)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("Config hot-reload disabled", zap.Error(err))
		return func() {}
	}
	return watcher.Stop
}

// Close waits for background turns, then releases resources in reverse order
func (a *app) Close() {
	if a.service != nil {
		a.service.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
