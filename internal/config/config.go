package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. DEEPRESEARCH_RESEARCH_MAX_REACT_TOOL_CALLS
const EnvPrefix = "DEEPRESEARCH"

// Config is the full service configuration
type Config struct {
	Research   ResearchConfig `mapstructure:"research"`
	Search     SearchConfig   `mapstructure:"search"`
	LLM        LLMConfig      `mapstructure:"llm"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Tracing    TracingConfig  `mapstructure:"tracing"`
	HTTP       HTTPConfig     `mapstructure:"http"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Database   DatabaseConfig `mapstructure:"database"`
	Temporal   TemporalConfig `mapstructure:"temporal"`
	ModelsPath string         `mapstructure:"models_path"`
}

// ResearchConfig is the immutable per-session engine configuration.
// Sessions receive it by value so a reload never changes a running session.
type ResearchConfig struct {
	AllowClarification         bool        `mapstructure:"allow_clarification"`
	MaxStructuredOutputRetries int         `mapstructure:"max_structured_output_retries"`
	MaxConcurrentResearchUnits int         `mapstructure:"max_concurrent_research_units"`
	MaxResearcherIterations    int         `mapstructure:"max_researcher_iterations"`
	MaxReactToolCalls          int         `mapstructure:"max_react_tool_calls"`
	CharsPerToken              int         `mapstructure:"chars_per_token"`
	Models                     StageModels `mapstructure:"models"`
}

// StageModels selects the model used by each stage
type StageModels struct {
	Research      ModelConfig `mapstructure:"research"`
	Summarization ModelConfig `mapstructure:"summarization"`
	Compression   ModelConfig `mapstructure:"compression"`
	FinalReport   ModelConfig `mapstructure:"final_report"`
}

// ModelConfig names a model and its output token budget
type ModelConfig struct {
	Name      string `mapstructure:"name"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// SearchConfig selects and configures the search provider
type SearchConfig struct {
	Provider         string        `mapstructure:"provider"` // tavily | none
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	MaxResults       int           `mapstructure:"max_results"`
	Topic            string        `mapstructure:"topic"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	Summarize        bool          `mapstructure:"summarize"`
	SummarizeTimeout time.Duration `mapstructure:"summarize_timeout"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite3
	DSN    string `mapstructure:"dsn"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Research: ResearchConfig{
			AllowClarification:         true,
			MaxStructuredOutputRetries: 3,
			MaxConcurrentResearchUnits: 5,
			MaxResearcherIterations:    6,
			MaxReactToolCalls:          10,
			CharsPerToken:              4,
			Models: StageModels{
				Research:      ModelConfig{Name: "gpt-4.1", MaxTokens: 10000},
				Summarization: ModelConfig{Name: "gpt-4.1-mini", MaxTokens: 8192},
				Compression:   ModelConfig{Name: "gpt-4.1", MaxTokens: 8192},
				FinalReport:   ModelConfig{Name: "gpt-4.1", MaxTokens: 10000},
			},
		},
		Search: SearchConfig{
			Provider:         "tavily",
			BaseURL:          "https://api.tavily.com",
			MaxResults:       5,
			Topic:            "general",
			MaxContentLength: 50000,
			Summarize:        true,
			SummarizeTimeout: 60 * time.Second,
			Timeout:          30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com/v1",
			Timeout:           5 * time.Minute,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "deepresearch", OTLPEndpoint: "localhost:4317"},
		HTTP:    HTTPConfig{Addr: ":8080", JWTIssuer: "deepresearch"},
		Redis:   RedisConfig{TTL: 24 * time.Hour},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "deepresearch",
		},
	}
}

// setDefaults registers every key so env overrides apply even without a file
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("research.allow_clarification", d.Research.AllowClarification)
	v.SetDefault("research.max_structured_output_retries", d.Research.MaxStructuredOutputRetries)
	v.SetDefault("research.max_concurrent_research_units", d.Research.MaxConcurrentResearchUnits)
	v.SetDefault("research.max_researcher_iterations", d.Research.MaxResearcherIterations)
	v.SetDefault("research.max_react_tool_calls", d.Research.MaxReactToolCalls)
	v.SetDefault("research.chars_per_token", d.Research.CharsPerToken)
	for key, m := range map[string]ModelConfig{
		"research":      d.Research.Models.Research,
		"summarization": d.Research.Models.Summarization,
		"compression":   d.Research.Models.Compression,
		"final_report":  d.Research.Models.FinalReport,
	} {
		v.SetDefault("research.models."+key+".name", m.Name)
		v.SetDefault("research.models."+key+".max_tokens", m.MaxTokens)
	}

	v.SetDefault("search.provider", d.Search.Provider)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.base_url", d.Search.BaseURL)
	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("search.topic", d.Search.Topic)
	v.SetDefault("search.max_content_length", d.Search.MaxContentLength)
	v.SetDefault("search.summarize", d.Search.Summarize)
	v.SetDefault("search.summarize_timeout", d.Search.SummarizeTimeout)
	v.SetDefault("search.timeout", d.Search.Timeout)

	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.requests_per_second", d.LLM.RequestsPerSecond)
	v.SetDefault("llm.burst", d.LLM.Burst)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.jwt_issuer", d.HTTP.JWTIssuer)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("models_path", "")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads path (optional) plus environment overrides.
// An empty path falls back to CONFIG_PATH; a missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if err := c.Research.Validate(); err != nil {
		return err
	}
	switch c.Search.Provider {
	case "tavily", "none", "":
	default:
		return fmt.Errorf("unsupported search provider %q", c.Search.Provider)
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// Validate checks the guardrails are usable
func (r ResearchConfig) Validate() error {
	if r.MaxStructuredOutputRetries < 1 {
		return fmt.Errorf("max_structured_output_retries must be >= 1, got %d", r.MaxStructuredOutputRetries)
	}
	if r.MaxConcurrentResearchUnits < 1 {
		return fmt.Errorf("max_concurrent_research_units must be >= 1, got %d", r.MaxConcurrentResearchUnits)
	}
	if r.MaxResearcherIterations < 1 {
		return fmt.Errorf("max_researcher_iterations must be >= 1, got %d", r.MaxResearcherIterations)
	}
	if r.MaxReactToolCalls < 1 {
		return fmt.Errorf("max_react_tool_calls must be >= 1, got %d", r.MaxReactToolCalls)
	}
	if r.CharsPerToken < 1 {
		return fmt.Errorf("chars_per_token must be >= 1, got %d", r.CharsPerToken)
	}
	return nil
}
