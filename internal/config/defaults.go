package config

import "time"

// Default stage prompts. These are starting points; operators tune
// them in config.yaml and bump the stage version when they do.
const (
	classifySystemPrompt = `You label excerpts of tax documentation.
Respond with JSON only: an object with a "labels" array of short kebab-case topic labels.`

	enhanceSystemPrompt = `You are an expert tax editor. Rewrite the excerpt for clarity
while preserving every rule, threshold, dollar amount, form reference, and exception.
Do not summarize. Do not drop content. Output the rewritten text only.`

	enhancePromptTemplate = `Rewrite the following excerpt from a tax manual:

%s`

	generateSystemPrompt = `You write knowledge-base skill documents for tax preparers.
Turn the excerpt into a self-contained reference section in Markdown: a short heading,
the rules as precise bullet points, and any amounts or form references preserved exactly.`

	generatePromptTemplate = `Write the skill section for this excerpt:

%s`

	polishSystemPrompt = `You are a copy editor. Fix grammar, tighten wording, and make
heading style consistent. Change nothing substantive. Output the edited text only.`

	polishPromptTemplate = `Edit the following skill section:

%s`
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderCfg{
			Type:        "openai",
			Model:       "gpt-4o-mini",
			APIKey:      "${OPENAI_API_KEY}",
			RateLimit:   60,
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
		},
		Pipeline: PipelineCfg{
			Stages:      []string{"classify", "enhance", "generate", "polish"},
			Concurrency: 4,
			ChunkRunes:  4000,
		},
		Classify: ClassifyCfg{
			Strategy: "keyword",
		},
		Stages: map[string]StageCfg{
			"classify": {
				Version:      "v1",
				SystemPrompt: classifySystemPrompt,
				Timeout:      60 * time.Second,
				MaxAttempts:  3,
				BackoffBase:  2 * time.Second,
				BackoffMax:   30 * time.Second,
			},
			"enhance": {
				Version:         "v1",
				SystemPrompt:    enhanceSystemPrompt,
				PromptTemplate:  enhancePromptTemplate,
				Timeout:         2 * time.Minute,
				MaxAttempts:     3,
				BackoffBase:     2 * time.Second,
				BackoffMax:      30 * time.Second,
				LengthSensitive: true,
				LowWaterRatio:   0.6,
				HardFloorRatio:  0.3,
			},
			"generate": {
				Version:        "v1",
				SystemPrompt:   generateSystemPrompt,
				PromptTemplate: generatePromptTemplate,
				Timeout:        2 * time.Minute,
				MaxAttempts:    3,
				BackoffBase:    2 * time.Second,
				BackoffMax:     30 * time.Second,
			},
			"polish": {
				Version:         "v1",
				SystemPrompt:    polishSystemPrompt,
				PromptTemplate:  polishPromptTemplate,
				Timeout:         2 * time.Minute,
				MaxAttempts:     3,
				BackoffBase:     2 * time.Second,
				BackoffMax:      30 * time.Second,
				LengthSensitive: true,
				LowWaterRatio:   0.6,
				HardFloorRatio:  0.3,
			},
		},
	}
}
