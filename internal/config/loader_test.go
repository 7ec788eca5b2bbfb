package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "deepresearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadConfig tests loading from defaults, files and environment
func TestLoadConfig(t *testing.T) {
	t.Run("Default configuration", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)

		d := Default()
		assert.Equal(t, d.Research, cfg.Research)
		assert.Equal(t, "tavily", cfg.Search.Provider)
		assert.Equal(t, 30*time.Second, cfg.Search.Timeout)
		assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	})

	t.Run("File values", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `
research:
  allow_clarification: false
  max_concurrent_research_units: 3
  models:
    final_report:
      name: claude-sonnet-4
      max_tokens: 4000
search:
  provider: none
  summarize_timeout: 5s
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.False(t, cfg.Research.AllowClarification)
		assert.Equal(t, 3, cfg.Research.MaxConcurrentResearchUnits)
		assert.Equal(t, "claude-sonnet-4", cfg.Research.Models.FinalReport.Name)
		assert.Equal(t, 4000, cfg.Research.Models.FinalReport.MaxTokens)
		// untouched keys keep defaults
		assert.Equal(t, "gpt-4.1-mini", cfg.Research.Models.Summarization.Name)
		assert.Equal(t, "none", cfg.Search.Provider)
		assert.Equal(t, 5*time.Second, cfg.Search.SummarizeTimeout)
	})

	t.Run("Environment variable override", func(t *testing.T) {
		t.Setenv("DEEPRESEARCH_RESEARCH_MAX_REACT_TOOL_CALLS", "4")
		t.Setenv("DEEPRESEARCH_REDIS_ADDR", "redis-test:6380")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Research.MaxReactToolCalls)
		assert.Equal(t, "redis-test:6380", cfg.Redis.Addr)
	})

	t.Run("Invalid guardrail rejected", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "research:\n  max_concurrent_research_units: 0\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("Unsupported provider rejected", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "search:\n  provider: bing\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestResearchConfigValidate(t *testing.T) {
	r := Default().Research
	require.NoError(t, r.Validate())

	bad := r
	bad.CharsPerToken = 0
	assert.Error(t, bad.Validate())

	bad = r
	bad.MaxStructuredOutputRetries = 0
	assert.Error(t, bad.Validate())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "research:\n  max_concurrent_research_units: 2\n")

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	snap := w.Snapshot()
	assert.Equal(t, 2, snap.MaxConcurrentResearchUnits)

	changed := make(chan int, 4)
	w.OnChange(func(c *Config) { changed <- c.Research.MaxConcurrentResearchUnits })

	writeConfig(t, dir, "research:\n  max_concurrent_research_units: 7\n")

	require.Eventually(t, func() bool {
		return w.Current().Research.MaxConcurrentResearchUnits == 7
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 7, <-changed)
	// a snapshot taken before the reload is unaffected
	assert.Equal(t, 2, snap.MaxConcurrentResearchUnits)
}

func TestWatcherKeepsPreviousOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "research:\n  max_researcher_iterations: 4\n")

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	writeConfig(t, dir, "research:\n  max_researcher_iterations: 0\n")
	assert.Error(t, w.Reload())
	assert.Equal(t, 4, w.Current().Research.MaxResearcherIterations)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "deepresearch.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), *cfg); diff != "" {
		t.Errorf("example config drifted from defaults (-want +got):\n%s", diff)
	}
}
