package models

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalog []byte

type catalogFile struct {
	TokenLimits map[string]int   `yaml:"token_limits"`
	Pricing     map[string]Price `yaml:"pricing"`
}

// Price is the USD cost per 1K tokens of a model
type Price struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Catalog maps model names to their context window in tokens and their price
type Catalog struct {
	keys   []string // longest first so "gpt-4.1-mini" wins over "gpt-4.1"
	limits map[string]int

	priceKeys []string
	prices    map[string]Price
}

// Default returns the embedded catalog
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded models.yaml is invalid: %v", err))
	}
	return c
}

// Load reads path and layers it over the embedded catalog. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models catalog: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return newCatalog(layer(base.limits, override.limits), layer(base.prices, override.prices)), nil
}

func layer[V any](base, override map[string]V) map[string]V {
	merged := make(map[string]V, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// Parse decodes a models.yaml document
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal models catalog: %w", err)
	}
	for k, v := range f.TokenLimits {
		if v <= 0 {
			return nil, fmt.Errorf("model %q: token limit must be positive, got %d", k, v)
		}
	}
	for k, p := range f.Pricing {
		if p.InputPer1K < 0 || p.OutputPer1K < 0 {
			return nil, fmt.Errorf("model %q: prices must not be negative", k)
		}
	}
	return newCatalog(f.TokenLimits, f.Pricing), nil
}

func newCatalog(limits map[string]int, prices map[string]Price) *Catalog {
	c := &Catalog{}
	c.limits, c.keys = lowerKeys(limits)
	c.prices, c.priceKeys = lowerKeys(prices)
	return c
}

// lowerKeys lowercases m's keys and returns them longest first
func lowerKeys[V any](m map[string]V) (map[string]V, []string) {
	out := make(map[string]V, len(m))
	keys := make([]string, 0, len(m))
	for k, v := range m {
		k = strings.ToLower(k)
		out[k] = v
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return out, keys
}

// match returns the longest key contained in model
func match(keys []string, model string) (string, bool) {
	ml := strings.ToLower(model)
	for _, k := range keys {
		if strings.Contains(ml, k) {
			return k, true
		}
	}
	return "", false
}

// TokenLimit returns the context window for model, matching catalog keys as
// substrings so provider prefixes ("openai:gpt-4.1") resolve.
func (c *Catalog) TokenLimit(model string) (int, bool) {
	if c == nil || model == "" {
		return 0, false
	}
	k, ok := match(c.keys, model)
	if !ok {
		return 0, false
	}
	return c.limits[k], true
}

// Cost estimates the USD cost of one call. Unpriced models report false.
func (c *Catalog) Cost(model string, promptTokens, completionTokens int) (float64, bool) {
	if c == nil || model == "" {
		return 0, false
	}
	k, ok := match(c.priceKeys, model)
	if !ok {
		return 0, false
	}
	p := c.prices[k]
	return float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K, true
}
