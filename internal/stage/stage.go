// Package stage defines the ordered pipeline stages, their configuration,
// and the result type shared by the cache store, ledger, and executor.
package stage

import (
	"fmt"
	"time"
)

// Stage identifies one transformation step in the pipeline.
type Stage string

const (
	// StageClassify assigns topic labels to a unit.
	StageClassify Stage = "classify"
	// StageEnhance rewrites the unit text for clarity and completeness.
	StageEnhance Stage = "enhance"
	// StageGenerate produces the skill-document section for a unit.
	StageGenerate Stage = "generate"
	// StagePolish is an optional final cleanup pass.
	StagePolish Stage = "polish"
)

// Order returns the canonical stage sequence. Units advance through
// stages strictly in this order; the ledger enforces it on load.
func Order() []Stage {
	return []Stage{StageClassify, StageEnhance, StageGenerate, StagePolish}
}

// Known reports whether s is a recognized stage name.
func Known(s Stage) bool {
	for _, st := range Order() {
		if st == s {
			return true
		}
	}
	return false
}

// Index returns the position of s in the canonical order, or -1.
func Index(s Stage) int {
	for i, st := range Order() {
		if st == s {
			return i
		}
	}
	return -1
}

// Status represents the state of one (unit, stage) pair.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// Config holds per-stage execution policy. Version participates in the
// cache key, so changing any behavior-relevant setting should bump it.
type Config struct {
	Stage   Stage  `yaml:"stage"`
	Version string `yaml:"version"`

	// Prompting
	SystemPrompt   string `yaml:"system_prompt"`
	PromptTemplate string `yaml:"prompt_template"` // %s is replaced with unit text

	// Provider call policy
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// Retention-ratio policy. Only applied when LengthSensitive is set;
	// classification output is labels, not prose, so ratios are meaningless there.
	LengthSensitive bool    `yaml:"length_sensitive"`
	LowWaterRatio   float64 `yaml:"low_water_ratio"`
	HardFloorRatio  float64 `yaml:"hard_floor_ratio"`
}

// Validate checks the config for obviously broken settings.
func (c Config) Validate() error {
	if !Known(c.Stage) {
		return fmt.Errorf("unknown stage %q", c.Stage)
	}
	if c.Version == "" {
		return fmt.Errorf("stage %s: version is required", c.Stage)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("stage %s: max_attempts must be >= 1", c.Stage)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("stage %s: timeout must be positive", c.Stage)
	}
	if c.LengthSensitive && c.HardFloorRatio > c.LowWaterRatio {
		return fmt.Errorf("stage %s: hard_floor_ratio %.2f exceeds low_water_ratio %.2f",
			c.Stage, c.HardFloorRatio, c.LowWaterRatio)
	}
	return nil
}

// Metrics carries stage-specific quality signals for one result.
type Metrics struct {
	InputRunes     int     `json:"input_runes" yaml:"input_runes"`
	OutputRunes    int     `json:"output_runes" yaml:"output_runes"`
	RetentionRatio float64 `json:"retention_ratio" yaml:"retention_ratio"`
	// Degraded is set when the retention ratio fell below the low-water
	// mark but above the hard floor. The result is still a success; the
	// signal is surfaced, never hidden.
	Degraded bool `json:"degraded" yaml:"degraded"`
}

// Result is the authoritative output of running one stage on one unit.
// At most one Result exists per (unit, stage, config version).
type Result struct {
	UnitID       string    `json:"unit_id"`
	SourceHash   string    `json:"source_hash"`
	Ordinal      int       `json:"ordinal"`
	Stage        Stage     `json:"stage"`
	Status       Status    `json:"status"`
	Output       string    `json:"output,omitempty"`
	Metrics      Metrics   `json:"metrics"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}
