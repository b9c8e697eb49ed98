// Package executor runs one pipeline stage over one unit. It consults
// the cache store before invoking the provider, applies the per-stage
// timeout and retry policy, computes retention metrics, and persists
// successful results back through the cache store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// Processor is the narrow provider-facing contract: transform one unit
// under one stage configuration. Implementations classify failures via
// the stage error taxonomy; anything not marked permanent is retried.
type Processor interface {
	Process(ctx context.Context, u unit.Unit, cfg stage.Config) (string, error)
}

// Executor executes stages against the cache store.
type Executor struct {
	cache  *cache.Store
	logger *slog.Logger
}

// New creates an executor writing through the given cache store.
func New(store *cache.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cache: store, logger: logger}
}

// Run executes one stage for one unit. The returned bool reports a
// cache hit. On a warm cache the provider is never invoked and the
// cached result is returned unchanged, which is what makes repeated
// runs idempotent. The error is non-nil exactly when the result status
// is failed.
func (e *Executor) Run(ctx context.Context, u unit.Unit, cfg stage.Config, proc Processor) (*stage.Result, bool, error) {
	log := e.logger.With("unit_id", u.ID, "stage", cfg.Stage)

	cached, err := e.cache.Get(u.ID, cfg.Stage, cfg.Version)
	if err != nil {
		// A corrupt or unreadable entry must not be reinterpreted as
		// "no cache entry, proceed as if first run": that would silently
		// duplicate expensive provider work.
		res := failedResult(u, cfg, 0, err)
		return res, false, err
	}
	if cached != nil && cached.Status == stage.StatusSuccess {
		log.Debug("cache hit")
		return cached, true, nil
	}

	if strings.TrimSpace(u.RawText) == "" {
		return &stage.Result{
			UnitID:      u.ID,
			SourceHash:  u.SourceHash,
			Ordinal:     u.Ordinal,
			Stage:       cfg.Stage,
			Status:      stage.StatusSkipped,
			CompletedAt: time.Now().UTC(),
		}, false, nil
	}

	inputRunes := len([]rune(u.RawText))
	attempts := 0
	var output string

	retryErr := retry.Do(
		func() error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()

			out, err := proc.Process(callCtx, u, cfg)
			if err != nil {
				// A deadline hit on our per-call timeout is transient
				// unless the provider already classified it.
				if !stage.IsPermanent(err) && !stage.IsTransient(err) {
					if errors.Is(err, context.DeadlineExceeded) {
						err = stage.Transient(err)
					}
				}
				return err
			}

			if cfg.LengthSensitive && cfg.HardFloorRatio > 0 {
				ratio := retention(inputRunes, out)
				if ratio < cfg.HardFloorRatio {
					return stage.Transient(fmt.Errorf(
						"output retention %.2f below hard floor %.2f", ratio, cfg.HardFloorRatio))
				}
			}

			output = out
			return nil
		},
		retry.Attempts(uint(cfg.MaxAttempts)),
		retry.Delay(cfg.BackoffBase),
		retry.MaxDelay(cfg.BackoffMax),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(stage.IsTransient),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if retryErr != nil {
		log.Warn("stage attempt exhausted", "attempts", attempts, "error", retryErr)
		res := failedResult(u, cfg, attempts, retryErr)
		return res, false, retryErr
	}

	metrics := stage.Metrics{
		InputRunes:  inputRunes,
		OutputRunes: len([]rune(output)),
	}
	if cfg.LengthSensitive {
		metrics.RetentionRatio = retention(inputRunes, output)
		if metrics.RetentionRatio < cfg.LowWaterRatio {
			// Quality-degraded but still a success: the signal is
			// recorded, never hidden from the caller.
			metrics.Degraded = true
			log.Warn("output below low-water retention",
				"ratio", metrics.RetentionRatio, "low_water", cfg.LowWaterRatio)
		}
	}

	res := &stage.Result{
		UnitID:       u.ID,
		SourceHash:   u.SourceHash,
		Ordinal:      u.Ordinal,
		Stage:        cfg.Stage,
		Status:       stage.StatusSuccess,
		Output:       output,
		Metrics:      metrics,
		AttemptCount: attempts,
		CompletedAt:  time.Now().UTC(),
	}

	if err := e.cache.Put(res, cfg.Version); err != nil {
		// A result we cannot persist is a failed attempt: trusting it
		// would let the ledger claim success with no backing entry.
		log.Error("failed to persist stage result", "error", err)
		failed := failedResult(u, cfg, attempts, err)
		return failed, false, err
	}

	log.Debug("stage completed", "attempts", attempts, "degraded", metrics.Degraded)
	return res, false, nil
}

func failedResult(u unit.Unit, cfg stage.Config, attempts int, cause error) *stage.Result {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &stage.Result{
		UnitID:       u.ID,
		SourceHash:   u.SourceHash,
		Ordinal:      u.Ordinal,
		Stage:        cfg.Stage,
		Status:       stage.StatusFailed,
		AttemptCount: attempts,
		LastError:    msg,
		CompletedAt:  time.Now().UTC(),
	}
}

func retention(inputRunes int, output string) float64 {
	if inputRunes == 0 {
		return 1.0
	}
	return float64(len([]rune(output))) / float64(inputRunes)
}
