package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called after a new configuration has been accepted
type ChangeHandler func(cfg *Config)

// Watcher keeps the latest valid configuration and reloads it when the file changes.
// Readers take snapshots; a reload never mutates a snapshot already handed out.
type Watcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Config]

	mu       sync.Mutex
	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher loads path once. Start must be called to follow changes.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: filepath.Clean(path), logger: logger}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the latest accepted configuration
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Snapshot returns a copy of the research configuration for one session
func (w *Watcher) Snapshot() ResearchConfig {
	return w.current.Load().Research
}

// OnChange registers a handler invoked after each successful reload
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start watches the config file's directory; editors often replace files
// rather than write them in place.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(fw, w.stopCh, w.doneCh)

	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
	return nil
}

// Stop ends the watch loop and waits for it to exit
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, stopCh, doneCh := w.watcher, w.stopCh, w.doneCh
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	close(stopCh)
	if err := fw.Close(); err != nil {
		w.logger.Warn("Error closing config watcher", zap.Error(err))
	}
	<-doneCh
}

func (w *Watcher) loop(fw *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("Configuration reload rejected, keeping previous",
					zap.String("path", w.path),
					zap.String("op", ev.Op.String()),
					zap.Error(err),
				)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the file; invalid content leaves the previous config in place
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current.Store(cfg)

	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	w.logger.Info("Configuration reloaded",
		zap.String("path", w.path),
		zap.Int("max_concurrent_research_units", cfg.Research.MaxConcurrentResearchUnits),
		zap.Int("max_researcher_iterations", cfg.Research.MaxResearcherIterations),
	)
	return nil
}
