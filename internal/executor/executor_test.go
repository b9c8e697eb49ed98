package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// scriptedProc is a Processor with per-call scripting and a call counter.
type scriptedProc struct {
	calls  atomic.Int64
	output string
	// transientFailures makes the first N calls fail transiently.
	transientFailures int
	// err, if set, is returned on every call.
	err error
	// fn, if set, overrides everything else.
	fn func(call int, u unit.Unit) (string, error)
}

func (p *scriptedProc) Process(_ context.Context, u unit.Unit, _ stage.Config) (string, error) {
	call := int(p.calls.Add(1))
	if p.fn != nil {
		return p.fn(call, u)
	}
	if p.err != nil {
		return "", p.err
	}
	if call <= p.transientFailures {
		return "", stage.Transient(fmt.Errorf("scripted transient failure %d", call))
	}
	out := p.output
	if out == "" {
		out = "processed: " + u.RawText
	}
	return out, nil
}

func testCfg(st stage.Stage) stage.Config {
	return stage.Config{
		Stage:       st,
		Version:     "v1",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

func newTestExecutor(t *testing.T) (*Executor, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(store, nil), store
}

func TestExecutorSuccessFirstAttempt(t *testing.T) {
	exec, store := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")
	proc := &scriptedProc{}

	res, hit, err := exec.Run(context.Background(), u, testCfg(stage.StageEnhance), proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hit {
		t.Error("cold cache reported a hit")
	}
	if res.Status != stage.StatusSuccess || res.AttemptCount != 1 {
		t.Errorf("result = %+v", res)
	}
	if proc.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", proc.calls.Load())
	}
	if !store.Exists(u.ID, stage.StageEnhance, "v1") {
		t.Error("success was not cached")
	}
}

func TestExecutorCacheHitSkipsProvider(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")
	cfg := testCfg(stage.StageEnhance)
	proc := &scriptedProc{}

	if _, _, err := exec.Run(context.Background(), u, cfg, proc); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	res, hit, err := exec.Run(context.Background(), u, cfg, proc)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !hit {
		t.Error("warm cache did not report a hit")
	}
	if res.Status != stage.StatusSuccess {
		t.Errorf("cached status = %s", res.Status)
	}
	if proc.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1 (hit must not invoke provider)", proc.calls.Load())
	}
}

func TestExecutorConfigVersionInvalidatesCache(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")
	proc := &scriptedProc{}

	cfg := testCfg(stage.StageEnhance)
	if _, _, err := exec.Run(context.Background(), u, cfg, proc); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	cfg.Version = "v2"
	_, hit, err := exec.Run(context.Background(), u, cfg, proc)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if hit {
		t.Error("bumped config version served a stale hit")
	}
	if proc.calls.Load() != 2 {
		t.Errorf("provider calls = %d, want 2", proc.calls.Load())
	}
}

func TestExecutorRetriesTransient(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")
	proc := &scriptedProc{transientFailures: 2}

	res, _, err := exec.Run(context.Background(), u, testCfg(stage.StageEnhance), proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != stage.StatusSuccess {
		t.Errorf("status = %s, want success", res.Status)
	}
	if res.AttemptCount != 3 {
		t.Errorf("attempts = %d, want 3", res.AttemptCount)
	}
}

func TestExecutorExhaustsRetries(t *testing.T) {
	exec, store := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")
	proc := &scriptedProc{transientFailures: 10}
	cfg := testCfg(stage.StageEnhance)

	res, _, err := exec.Run(context.Background(), u, cfg, proc)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if res.Status != stage.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.AttemptCount != cfg.MaxAttempts {
		t.Errorf("attempts = %d, want %d", res.AttemptCount, cfg.MaxAttempts)
	}
	if res.LastError == "" {
		t.Error("failed result carries no error message")
	}
	if store.Exists(u.ID, stage.StageEnhance, "v1") {
		t.Error("failure must not be cached")
	}
}

func TestExecutorPermanentFailureNoRetry(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")
	proc := &scriptedProc{err: stage.Permanent(errors.New("schema rejected"))}

	res, _, err := exec.Run(context.Background(), u, testCfg(stage.StageEnhance), proc)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Status != stage.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if proc.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1 (permanent must not retry)", proc.calls.Load())
	}
}

func TestExecutorSkipsEmptyUnit(t *testing.T) {
	exec, store := newTestExecutor(t)
	u := unit.New("srchash", 0, "   \n\t  ")
	proc := &scriptedProc{}

	res, hit, err := exec.Run(context.Background(), u, testCfg(stage.StageEnhance), proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hit {
		t.Error("skip reported as hit")
	}
	if res.Status != stage.StatusSkipped {
		t.Errorf("status = %s, want skipped", res.Status)
	}
	if proc.calls.Load() != 0 {
		t.Error("empty unit should not reach the provider")
	}
	if store.Exists(u.ID, stage.StageEnhance, "v1") {
		t.Error("skip should not be cached")
	}
}

func TestExecutorRetentionLowWater(t *testing.T) {
	exec, _ := newTestExecutor(t)
	input := strings.Repeat("x", 100)
	u := unit.New("srchash", 0, input)

	cfg := testCfg(stage.StageEnhance)
	cfg.LengthSensitive = true
	cfg.LowWaterRatio = 0.6
	cfg.HardFloorRatio = 0.3

	// 50% retention: below low water, above the floor.
	proc := &scriptedProc{output: strings.Repeat("y", 50)}

	res, _, err := exec.Run(context.Background(), u, cfg, proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != stage.StatusSuccess {
		t.Errorf("status = %s, want success (degraded is still success)", res.Status)
	}
	if !res.Metrics.Degraded {
		t.Error("result not flagged degraded")
	}
	if res.Metrics.RetentionRatio != 0.5 {
		t.Errorf("retention = %v, want 0.5", res.Metrics.RetentionRatio)
	}
}

func TestExecutorRetentionHardFloor(t *testing.T) {
	exec, _ := newTestExecutor(t)
	input := strings.Repeat("x", 100)
	u := unit.New("srchash", 0, input)

	cfg := testCfg(stage.StageEnhance)
	cfg.LengthSensitive = true
	cfg.LowWaterRatio = 0.6
	cfg.HardFloorRatio = 0.3

	// 10% retention on every attempt: below the floor, so the stage
	// fails after retries instead of succeeding degraded.
	proc := &scriptedProc{output: strings.Repeat("y", 10)}

	res, _, err := exec.Run(context.Background(), u, cfg, proc)
	if err == nil {
		t.Fatal("expected hard-floor failure")
	}
	if res.Status != stage.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.AttemptCount != cfg.MaxAttempts {
		t.Errorf("attempts = %d, want %d (floor violations retry)", res.AttemptCount, cfg.MaxAttempts)
	}
}

func TestExecutorRetentionNotAppliedWhenInsensitive(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, strings.Repeat("x", 100))

	cfg := testCfg(stage.StageClassify)
	cfg.LowWaterRatio = 0.6
	cfg.HardFloorRatio = 0.3

	// Tiny output, but the stage is not length sensitive.
	proc := &scriptedProc{output: `{"labels":[]}`}

	res, _, err := exec.Run(context.Background(), u, cfg, proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != stage.StatusSuccess || res.Metrics.Degraded {
		t.Errorf("result = %+v", res)
	}
}

func TestExecutorBackoffDelaysNonDecreasing(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")

	cfg := testCfg(stage.StageEnhance)
	cfg.MaxAttempts = 4
	cfg.BackoffBase = 25 * time.Millisecond
	cfg.BackoffMax = time.Second

	// Attempts run sequentially inside Run, so plain appends are safe.
	var calls []time.Time
	proc := &scriptedProc{fn: func(call int, _ unit.Unit) (string, error) {
		calls = append(calls, time.Now())
		if call < 4 {
			return "", stage.Transient(fmt.Errorf("scripted transient failure %d", call))
		}
		return "recovered", nil
	}}

	res, _, err := exec.Run(context.Background(), u, cfg, proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AttemptCount != 4 || len(calls) != 4 {
		t.Fatalf("attempts = %d, recorded calls = %d, want 4", res.AttemptCount, len(calls))
	}

	if first := calls[1].Sub(calls[0]); first < cfg.BackoffBase {
		t.Errorf("first delay %v shorter than backoff base %v", first, cfg.BackoffBase)
	}
	prev := time.Duration(0)
	for i := 1; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		if gap < prev {
			t.Errorf("delay before attempt %d was %v, shorter than the previous delay %v", i+1, gap, prev)
		}
		prev = gap
	}
}

func TestExecutorTimeoutIsTransient(t *testing.T) {
	exec, _ := newTestExecutor(t)
	u := unit.New("srchash", 0, "some tax rules")

	cfg := testCfg(stage.StageEnhance)
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2

	proc := &scriptedProc{fn: func(call int, _ unit.Unit) (string, error) {
		if call == 1 {
			return "", context.DeadlineExceeded
		}
		return "recovered", nil
	}}

	res, _, err := exec.Run(context.Background(), u, cfg, proc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AttemptCount != 2 {
		t.Errorf("attempts = %d, want 2 (deadline should retry)", res.AttemptCount)
	}
}
