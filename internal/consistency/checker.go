// Package consistency reconciles the progress ledger against the cache
// store. The ledger says what has run; the cache says what was
// produced; this package finds the places where they disagree.
package consistency

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/stage"
)

// StageReport lists the disagreements found for one stage.
type StageReport struct {
	// Missing: ledger says success, cache has no entry. Never trusted;
	// reconciliation demotes these to failed so they reprocess.
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
	// Orphaned: cache has an entry, ledger has no success record.
	// Retained (cheap, harmless) but not authoritative.
	Orphaned []string `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	// Degraded: success with retention below the low-water mark.
	// Reported, left success unless explicitly reprocessed.
	Degraded []string `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Report is the outcome of one scan across all configured stages.
type Report struct {
	Stages map[stage.Stage]*StageReport `json:"stages" yaml:"stages"`
	// Violations carries ordering-invariant demotions found at ledger load.
	Violations []*stage.ConsistencyViolation `json:"-" yaml:"-"`
}

// Clean reports whether the scan found nothing requiring reconciliation.
func (r *Report) Clean() bool {
	for _, sr := range r.Stages {
		if len(sr.Missing) > 0 || len(sr.Orphaned) > 0 {
			return false
		}
	}
	return len(r.Violations) == 0
}

// Checker scans a ledger/cache pair for a fixed set of stage configs.
type Checker struct {
	ledger *ledger.Ledger
	cache  *cache.Store
	cfgs   []stage.Config
	logger *slog.Logger
}

// New creates a checker over the given ledger and cache store.
func New(led *ledger.Ledger, store *cache.Store, cfgs []stage.Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{ledger: led, cache: store, cfgs: cfgs, logger: logger}
}

// Scan compares ledger and cache per stage and returns the report.
// It does not mutate anything; see Reconcile.
func (c *Checker) Scan() (*Report, error) {
	report := &Report{
		Stages:     make(map[stage.Stage]*StageReport, len(c.cfgs)),
		Violations: c.ledger.Violations(),
	}

	for _, cfg := range c.cfgs {
		sr := &StageReport{}
		report.Stages[cfg.Stage] = sr

		// Ledger success claims with no backing cache entry.
		for _, unitID := range c.ledger.UnitsAtStage(cfg.Stage, stage.StatusSuccess) {
			if !c.cache.Exists(unitID, cfg.Stage, cfg.Version) {
				sr.Missing = append(sr.Missing, unitID)
			}
			if rec, ok := c.ledger.Record(unitID, cfg.Stage); ok && rec.Degraded {
				sr.Degraded = append(sr.Degraded, unitID)
			}
		}

		// Cache entries with no ledger success record.
		entries, err := c.cache.Entries(cfg.Stage)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache for stage %s: %w", cfg.Stage, err)
		}
		seen := make(map[string]struct{})
		for _, res := range entries {
			if _, dup := seen[res.UnitID]; dup {
				continue
			}
			seen[res.UnitID] = struct{}{}
			if c.ledger.StatusOf(res.UnitID, cfg.Stage) != stage.StatusSuccess {
				sr.Orphaned = append(sr.Orphaned, res.UnitID)
			}
		}

		sort.Strings(sr.Missing)
		sort.Strings(sr.Orphaned)
		sort.Strings(sr.Degraded)
	}

	return report, nil
}

// Reconcile applies the reconciliation policy to a scan report:
// missing entries are demoted to failed in the ledger (a dangling
// success claim is never trusted); orphaned entries are retained but
// not promoted; degraded entries are left alone.
func (c *Checker) Reconcile(report *Report) error {
	for st, sr := range report.Stages {
		for _, unitID := range sr.Missing {
			c.logger.Warn("demoting dangling success claim",
				"unit_id", unitID, "stage", st)
			if err := c.ledger.Demote(unitID, st, "cache entry missing"); err != nil {
				return fmt.Errorf("failed to demote unit %s stage %s: %w", unitID, st, err)
			}
		}
		if len(sr.Orphaned) > 0 {
			c.logger.Info("orphaned cache entries retained",
				"stage", st, "count", len(sr.Orphaned))
		}
	}
	return nil
}

// CheckAndRepair runs a scan followed by reconciliation, returning the
// pre-reconciliation report. This is the entry point the coordinator
// calls on resume and at each stage barrier.
func (c *Checker) CheckAndRepair() (*Report, error) {
	report, err := c.Scan()
	if err != nil {
		return nil, err
	}
	if err := c.Reconcile(report); err != nil {
		return report, err
	}
	return report, nil
}
