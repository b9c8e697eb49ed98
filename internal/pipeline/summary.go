package pipeline

import (
	"time"

	"github.com/skillpress/skillpress/internal/stage"
)

// StageSummary aggregates what happened at one stage during a run.
type StageSummary struct {
	Stage stage.Stage `json:"stage" yaml:"stage"`

	// Eligible units entered the worker pool for this stage.
	Eligible int `json:"eligible" yaml:"eligible"`
	// AlreadyComplete units were success or skipped before the run began.
	AlreadyComplete int `json:"already_complete" yaml:"already_complete"`
	// Blocked units could not run because an earlier stage has not succeeded.
	Blocked int `json:"blocked" yaml:"blocked"`

	Succeeded   int `json:"succeeded" yaml:"succeeded"`
	Failed      int `json:"failed" yaml:"failed"`
	Skipped     int `json:"skipped" yaml:"skipped"`
	Interrupted int `json:"interrupted" yaml:"interrupted"`
	Degraded    int `json:"degraded" yaml:"degraded"`

	// CacheHits counts units served from the cache store with no
	// provider involvement. ProviderCalls counts individual provider
	// attempts, including retries.
	CacheHits     int `json:"cache_hits" yaml:"cache_hits"`
	ProviderCalls int `json:"provider_calls" yaml:"provider_calls"`
}

// RunSummary is the outcome of one coordinator run.
type RunSummary struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	SourceHash string    `json:"source_hash" yaml:"source_hash"`
	Units      int       `json:"units" yaml:"units"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Stages []*StageSummary `json:"stages" yaml:"stages"`

	// FailedUnits lists units that ended the run with at least one
	// failed stage, sorted by ID.
	FailedUnits []string `json:"failed_units,omitempty" yaml:"failed_units,omitempty"`

	// DemotedOnResume counts dangling success claims the consistency
	// pass demoted before any work started. OrderingViolations counts
	// ledger entries demoted at load for breaking the stage order.
	DemotedOnResume    int `json:"demoted_on_resume" yaml:"demoted_on_resume"`
	OrderingViolations int `json:"ordering_violations" yaml:"ordering_violations"`

	// Canceled is set when the run stopped early on context cancellation.
	Canceled bool `json:"canceled" yaml:"canceled"`
	// Complete is set when every unit finished the final stage with
	// success or skipped.
	Complete bool `json:"complete" yaml:"complete"`
}

// Stage returns the summary for st, if the run reached it.
func (s *RunSummary) Stage(st stage.Stage) *StageSummary {
	for _, ss := range s.Stages {
		if ss.Stage == st {
			return ss
		}
	}
	return nil
}

// TotalCacheHits sums cache hits across stages.
func (s *RunSummary) TotalCacheHits() int {
	n := 0
	for _, ss := range s.Stages {
		n += ss.CacheHits
	}
	return n
}

// TotalProviderCalls sums provider attempts across stages.
func (s *RunSummary) TotalProviderCalls() int {
	n := 0
	for _, ss := range s.Stages {
		n += ss.ProviderCalls
	}
	return n
}

// TotalFailed sums failed units across stages.
func (s *RunSummary) TotalFailed() int {
	n := 0
	for _, ss := range s.Stages {
		n += ss.Failed
	}
	return n
}
