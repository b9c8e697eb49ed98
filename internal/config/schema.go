package config

import (
	"fmt"
	"time"

	"github.com/skillpress/skillpress/internal/stage"
)

// Config holds skillpress configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Provider ProviderCfg         `mapstructure:"provider" yaml:"provider"`
	Pipeline PipelineCfg         `mapstructure:"pipeline" yaml:"pipeline"`
	Stages   map[string]StageCfg `mapstructure:"stages" yaml:"stages"`
	Classify ClassifyCfg         `mapstructure:"classify" yaml:"classify"`
}

// ProviderCfg configures the LLM provider.
type ProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`     // Optional API base override
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute (0 = unlimited)

	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"` // Transport-level timeout
}

// PipelineCfg controls unit splitting and worker scheduling.
type PipelineCfg struct {
	// Stages is the ordered list of enabled stage names. It must be a
	// prefix-preserving subset of the canonical stage order.
	Stages []string `mapstructure:"stages" yaml:"stages"`
	// Concurrency bounds units in flight per stage.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// ChunkRunes is the maximum unit size when splitting source text.
	ChunkRunes int `mapstructure:"chunk_runes" yaml:"chunk_runes"`
}

// StageCfg configures one pipeline stage.
type StageCfg struct {
	// Version participates in cache keys; bump it to invalidate results
	// after a behavior-relevant change.
	Version string `mapstructure:"version" yaml:"version"`

	SystemPrompt   string `mapstructure:"system_prompt" yaml:"system_prompt"`
	PromptTemplate string `mapstructure:"prompt_template" yaml:"prompt_template"` // %s is replaced with unit text

	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`

	LengthSensitive bool    `mapstructure:"length_sensitive" yaml:"length_sensitive"`
	LowWaterRatio   float64 `mapstructure:"low_water_ratio" yaml:"low_water_ratio"`
	HardFloorRatio  float64 `mapstructure:"hard_floor_ratio" yaml:"hard_floor_ratio"`
}

// ClassifyCfg selects the classification strategy.
type ClassifyCfg struct {
	// Strategy is "keyword" or "llm".
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
}

// StageConfigs maps the enabled stage list into validated stage
// configurations, in pipeline order.
func (c *Config) StageConfigs() ([]stage.Config, error) {
	if len(c.Pipeline.Stages) == 0 {
		return nil, fmt.Errorf("pipeline.stages is empty")
	}

	lastIdx := -1
	cfgs := make([]stage.Config, 0, len(c.Pipeline.Stages))
	for _, name := range c.Pipeline.Stages {
		st := stage.Stage(name)
		idx := stage.Index(st)
		if idx < 0 {
			return nil, fmt.Errorf("unknown stage %q in pipeline.stages", name)
		}
		if idx <= lastIdx {
			return nil, fmt.Errorf("pipeline.stages must follow the canonical order %v", stage.Order())
		}
		lastIdx = idx

		sc, ok := c.Stages[name]
		if !ok {
			return nil, fmt.Errorf("stage %q is enabled but not configured", name)
		}

		cfg := stage.Config{
			Stage:           st,
			Version:         sc.Version,
			SystemPrompt:    sc.SystemPrompt,
			PromptTemplate:  sc.PromptTemplate,
			Timeout:         sc.Timeout,
			MaxAttempts:     sc.MaxAttempts,
			BackoffBase:     sc.BackoffBase,
			BackoffMax:      sc.BackoffMax,
			LengthSensitive: sc.LengthSensitive,
			LowWaterRatio:   sc.LowWaterRatio,
			HardFloorRatio:  sc.HardFloorRatio,
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	if _, err := c.StageConfigs(); err != nil {
		return err
	}
	if c.Pipeline.Concurrency < 0 {
		return fmt.Errorf("pipeline.concurrency must not be negative")
	}
	if c.Pipeline.ChunkRunes < 0 {
		return fmt.Errorf("pipeline.chunk_runes must not be negative")
	}
	switch c.Classify.Strategy {
	case "", "keyword", "llm":
	default:
		return fmt.Errorf("classify.strategy must be \"keyword\" or \"llm\", got %q", c.Classify.Strategy)
	}
	switch c.Provider.Type {
	case "", "openai":
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	return nil
}
