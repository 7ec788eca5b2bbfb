package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLimitLongestMatchWins(t *testing.T) {
	c := Default()

	limit, ok := c.TokenLimit("openai:gpt-4o-mini")
	require.True(t, ok)
	assert.Equal(t, 128000, limit)

	limit, ok = c.TokenLimit("anthropic:claude-sonnet-4-20250514")
	require.True(t, ok)
	assert.Equal(t, 200000, limit)

	_, ok = c.TokenLimit("my-private-model")
	assert.False(t, ok)
	_, ok = c.TokenLimit("")
	assert.False(t, ok)
}

func TestLoadOverridesEmbedded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token_limits:\n  my-private-model: 4096\n  gpt-4o: 64000\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	limit, ok := c.TokenLimit("my-private-model-v2")
	require.True(t, ok)
	assert.Equal(t, 4096, limit)

	limit, _ = c.TokenLimit("gpt-4o")
	assert.Equal(t, 64000, limit)

	limit, _ = c.TokenLimit("gpt-4.1")
	assert.Equal(t, 1047576, limit)
}

func TestParseRejectsNonPositive(t *testing.T) {
	_, err := Parse([]byte("token_limits:\n  broken: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("token_limits: [not, a, map]"))
	assert.Error(t, err)
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	_, ok := c.TokenLimit("gpt-4.1")
	assert.False(t, ok)
}

func TestCostUsesLongestPricedKey(t *testing.T) {
	c := Default()

	cost, ok := c.Cost("openai:gpt-4.1-mini", 1000, 500)
	require.True(t, ok)
	assert.InDelta(t, 0.0004+0.0008, cost, 1e-9)

	cost, ok = c.Cost("gpt-4.1", 2000, 1000)
	require.True(t, ok)
	assert.InDelta(t, 0.004+0.008, cost, 1e-9)

	_, ok = c.Cost("gemini-2.5-pro", 1000, 1000)
	assert.False(t, ok, "known context window without a price")
}

func TestLoadOverridesPricing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing:\n  my-private-model: {input_per_1k: 1, output_per_1k: 2}\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	cost, ok := c.Cost("my-private-model", 1000, 1000)
	require.True(t, ok)
	assert.InDelta(t, 3.0, cost, 1e-9)
	_, ok = c.Cost("gpt-4o", 1, 1)
	assert.True(t, ok)

	_, err = Parse([]byte("pricing:\n  broken: {input_per_1k: -1}\n"))
	assert.Error(t, err)
}
