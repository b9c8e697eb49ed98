// Package pipeline coordinates stage execution across units: it owns
// every ledger transition, drives the executor through a bounded worker
// pool, and runs a consistency pass on resume and at each stage
// barrier. The executor owns cache writes; nothing here touches the
// cache except invalidation on force reprocess.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/consistency"
	"github.com/skillpress/skillpress/internal/executor"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// DefaultConcurrency bounds the worker pool when no limit is configured.
const DefaultConcurrency = 4

// Options configures a Coordinator.
type Options struct {
	Ledger *ledger.Ledger
	Cache  *cache.Store

	// Stages is the ordered stage configuration for this run. It must
	// match the order the ledger was opened with.
	Stages []stage.Config
	// Processors maps each configured stage to its processor.
	Processors map[stage.Stage]executor.Processor

	// Concurrency bounds the number of units in flight per stage.
	Concurrency int
	// Force invalidates cached results and resets ledger state before
	// running, reprocessing every unit from scratch.
	Force bool

	Logger *slog.Logger
}

// Coordinator runs the full pipeline over a set of units.
type Coordinator struct {
	ledger  *ledger.Ledger
	cache   *cache.Store
	exec    *executor.Executor
	checker *consistency.Checker
	cfgs    []stage.Config
	procs   map[stage.Stage]executor.Processor

	concurrency int
	force       bool
	logger      *slog.Logger
}

// New validates the options and builds a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	for _, cfg := range opts.Stages {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if opts.Processors[cfg.Stage] == nil {
			return nil, fmt.Errorf("stage %s has no processor", cfg.Stage)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	return &Coordinator{
		ledger:      opts.Ledger,
		cache:       opts.Cache,
		exec:        executor.New(opts.Cache, logger),
		checker:     consistency.New(opts.Ledger, opts.Cache, opts.Stages, logger),
		cfgs:        opts.Stages,
		procs:       opts.Processors,
		concurrency: concurrency,
		force:       opts.Force,
		logger:      logger,
	}, nil
}

// Run processes every unit through every configured stage. Unit-level
// failures do not abort the run; they are reported in the summary and
// block only that unit's later stages. The returned error is reserved
// for infrastructure failures (ledger or cache persistence) that make
// further progress unsafe.
func (c *Coordinator) Run(ctx context.Context, units []unit.Unit) (*RunSummary, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to process")
	}

	summary := &RunSummary{
		RunID:      uuid.NewString(),
		SourceHash: units[0].SourceHash,
		Units:      len(units),
		StartedAt:  time.Now().UTC(),
	}
	log := c.logger.With("run_id", summary.RunID)
	log.Info("pipeline run starting", "units", len(units), "stages", len(c.cfgs))

	if err := c.prepare(units, summary, log); err != nil {
		return summary, err
	}

	// Consistency pass before any work: dangling success claims from a
	// previous run are demoted here so the frontier below picks them up.
	report, err := c.checker.CheckAndRepair()
	if err != nil {
		return summary, fmt.Errorf("consistency check failed: %w", err)
	}
	for _, sr := range report.Stages {
		summary.DemotedOnResume += len(sr.Missing)
	}
	summary.OrderingViolations = len(report.Violations)

	for i, cfg := range c.cfgs {
		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}

		ss := &StageSummary{Stage: cfg.Stage}
		summary.Stages = append(summary.Stages, ss)

		if err := c.runStage(ctx, cfg, units, i == 0, ss, log); err != nil {
			summary.FinishedAt = time.Now().UTC()
			return summary, err
		}

		// Stage barrier: no unit starts stage i+1 until every unit has
		// reached a terminal status at stage i and the ledger and cache
		// have been re-verified against each other.
		if _, err := c.checker.CheckAndRepair(); err != nil {
			summary.FinishedAt = time.Now().UTC()
			return summary, fmt.Errorf("consistency check failed after stage %s: %w", cfg.Stage, err)
		}
	}

	c.finish(units, summary, log)
	return summary, nil
}

// prepare reconciles the ledger with the incoming units: source-hash
// invalidation, registration, and the force-reprocess directive.
func (c *Coordinator) prepare(units []unit.Unit, summary *RunSummary, log *slog.Logger) error {
	if prev := c.ledger.SourceHash(); prev != "" && prev != summary.SourceHash {
		// A changed source produces entirely new unit IDs, so the old
		// entries can never be resumed. Cached results for the old hash
		// are left in place; their keys can no longer be derived.
		log.Warn("source document changed, discarding previous progress",
			"previous_hash", prev, "current_hash", summary.SourceHash)
		if err := c.ledger.Clear(); err != nil {
			return fmt.Errorf("failed to clear ledger: %w", err)
		}
	}
	if err := c.ledger.SetSourceHash(summary.SourceHash); err != nil {
		return fmt.Errorf("failed to record source hash: %w", err)
	}
	if err := c.ledger.Register(units); err != nil {
		return fmt.Errorf("failed to register units: %w", err)
	}

	if c.force {
		log.Info("force reprocess: resetting ledger and invalidating cache")
		if err := c.ledger.ResetAll(); err != nil {
			return fmt.Errorf("failed to reset ledger: %w", err)
		}
		for _, u := range units {
			for _, cfg := range c.cfgs {
				if err := c.cache.Delete(u.ID, cfg.Stage, cfg.Version); err != nil {
					return fmt.Errorf("failed to invalidate cache for unit %s: %w", u.ID, err)
				}
			}
		}
	}
	return nil
}

// runStage executes one stage over the eligible frontier with a
// bounded worker pool.
func (c *Coordinator) runStage(ctx context.Context, cfg stage.Config, units []unit.Unit, first bool, ss *StageSummary, log *slog.Logger) error {
	proc := c.procs[cfg.Stage]
	prev := stage.Stage("")
	if !first {
		prev = c.cfgs[stageIndex(c.cfgs, cfg.Stage)-1].Stage
	}

	var frontier []unit.Unit
	for _, u := range units {
		switch c.ledger.StatusOf(u.ID, cfg.Stage) {
		case stage.StatusSuccess:
			// The consistency pass has already verified the backing cache
			// entry, so a completed pair is a cache hit for this run.
			ss.AlreadyComplete++
			ss.CacheHits++
			continue
		case stage.StatusSkipped:
			ss.AlreadyComplete++
			continue
		}
		if !first {
			prevStatus := c.ledger.StatusOf(u.ID, prev)
			if prevStatus != stage.StatusSuccess && prevStatus != stage.StatusSkipped {
				ss.Blocked++
				continue
			}
		}
		frontier = append(frontier, u)
	}
	ss.Eligible = len(frontier)

	log.Info("stage starting", "stage", cfg.Stage,
		"eligible", ss.Eligible, "already_complete", ss.AlreadyComplete, "blocked", ss.Blocked)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, c.concurrency)

	for _, u := range frontier {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(u unit.Unit) {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.runUnit(ctx, u, cfg, proc, ss, &mu)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	if ctx.Err() != nil {
		log.Warn("stage canceled", "stage", cfg.Stage)
	}
	return firstErr
}

// runUnit drives one (unit, stage) pair through the ledger transitions
// around a single executor run. The returned error is non-nil only for
// ledger persistence failures; stage failures are absorbed into the
// summary.
func (c *Coordinator) runUnit(ctx context.Context, u unit.Unit, cfg stage.Config, proc executor.Processor, ss *StageSummary, mu *sync.Mutex) error {
	if err := c.ledger.MarkStarted(u.ID, cfg.Stage); err != nil {
		var violation *stage.ConsistencyViolation
		if errors.As(err, &violation) {
			// The frontier check raced a demotion; the unit simply does
			// not run this stage in this pass.
			c.logger.Warn("unit not eligible at start", "unit_id", u.ID, "stage", cfg.Stage, "error", err)
			mu.Lock()
			ss.Blocked++
			ss.Eligible--
			mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to mark unit %s started: %w", u.ID, err)
	}

	res, hit, runErr := c.exec.Run(ctx, u, cfg, proc)

	mu.Lock()
	if hit {
		ss.CacheHits++
	} else {
		ss.ProviderCalls += res.AttemptCount
	}
	mu.Unlock()

	switch res.Status {
	case stage.StatusSuccess:
		if err := c.ledger.MarkSuccess(u.ID, cfg.Stage, res.AttemptCount, res.Metrics); err != nil {
			return fmt.Errorf("failed to record success for unit %s: %w", u.ID, err)
		}
		mu.Lock()
		ss.Succeeded++
		if res.Metrics.Degraded {
			ss.Degraded++
		}
		mu.Unlock()

	case stage.StatusSkipped:
		if err := c.ledger.MarkSkipped(u.ID, cfg.Stage); err != nil {
			return fmt.Errorf("failed to record skip for unit %s: %w", u.ID, err)
		}
		mu.Lock()
		ss.Skipped++
		mu.Unlock()

	default:
		if runErr != nil && (errors.Is(runErr, context.Canceled) || ctx.Err() != nil) {
			// Cancellation is not a verdict on the unit: return the pair
			// to pending so the next run retries it cleanly.
			if err := c.ledger.MarkInterrupted(u.ID, cfg.Stage); err != nil {
				return fmt.Errorf("failed to record interruption for unit %s: %w", u.ID, err)
			}
			mu.Lock()
			ss.Interrupted++
			mu.Unlock()
			return nil
		}
		if err := c.ledger.MarkFailed(u.ID, cfg.Stage, res.AttemptCount, runErr); err != nil {
			return fmt.Errorf("failed to record failure for unit %s: %w", u.ID, err)
		}
		mu.Lock()
		ss.Failed++
		mu.Unlock()
	}
	return nil
}

// finish computes run-level outcomes once every stage has drained.
func (c *Coordinator) finish(units []unit.Unit, summary *RunSummary, log *slog.Logger) {
	failed := make(map[string]struct{})
	complete := !summary.Canceled
	final := c.cfgs[len(c.cfgs)-1].Stage

	for _, u := range units {
		for _, cfg := range c.cfgs {
			if c.ledger.StatusOf(u.ID, cfg.Stage) == stage.StatusFailed {
				failed[u.ID] = struct{}{}
			}
		}
		switch c.ledger.StatusOf(u.ID, final) {
		case stage.StatusSuccess, stage.StatusSkipped:
		default:
			complete = false
		}
	}

	summary.FailedUnits = make([]string, 0, len(failed))
	for id := range failed {
		summary.FailedUnits = append(summary.FailedUnits, id)
	}
	sort.Strings(summary.FailedUnits)

	summary.Complete = complete
	summary.FinishedAt = time.Now().UTC()

	log.Info("pipeline run finished",
		"complete", summary.Complete,
		"failed_units", len(summary.FailedUnits),
		"cache_hits", summary.TotalCacheHits(),
		"provider_calls", summary.TotalProviderCalls(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
}

// StageOrder extracts the stage sequence from a config slice.
func StageOrder(cfgs []stage.Config) []stage.Stage {
	order := make([]stage.Stage, len(cfgs))
	for i, cfg := range cfgs {
		order[i] = cfg.Stage
	}
	return order
}

func stageIndex(cfgs []stage.Config, st stage.Stage) int {
	for i, cfg := range cfgs {
		if cfg.Stage == st {
			return i
		}
	}
	return -1
}
