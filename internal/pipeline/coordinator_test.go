package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skillpress/skillpress/internal/cache"
	"github.com/skillpress/skillpress/internal/executor"
	"github.com/skillpress/skillpress/internal/ledger"
	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// countingProc is a Processor with a call counter and optional per-unit
// failure scripting.
type countingProc struct {
	calls atomic.Int64
	// failUnits maps unit IDs to the error every call returns for them.
	failUnits map[string]error
}

func (p *countingProc) Process(_ context.Context, u unit.Unit, cfg stage.Config) (string, error) {
	p.calls.Add(1)
	if err, ok := p.failUnits[u.ID]; ok && err != nil {
		return "", err
	}
	return fmt.Sprintf("%s output for %s", cfg.Stage, u.ID), nil
}

func twoStageCfgs() []stage.Config {
	base := stage.Config{
		Version:     "v1",
		Timeout:     5 * time.Second,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
	enhance := base
	enhance.Stage = stage.StageEnhance
	generate := base
	generate.Stage = stage.StageGenerate
	return []stage.Config{enhance, generate}
}

type env struct {
	store  *cache.Store
	ledger *ledger.Ledger
	cfgs   []stage.Config
	units  []unit.Unit
	proc   *countingProc
}

func newEnv(t *testing.T, n int) *env {
	t.Helper()
	dir := t.TempDir()
	cfgs := twoStageCfgs()

	store, err := cache.NewStore(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	led, err := ledger.Open(filepath.Join(dir, "ledger.yaml"), StageOrder(cfgs))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	units := make([]unit.Unit, n)
	for i := range units {
		units[i] = unit.New("srchash", i, fmt.Sprintf("tax rules part %d", i))
	}

	return &env{
		store:  store,
		ledger: led,
		cfgs:   cfgs,
		units:  units,
		proc:   &countingProc{},
	}
}

func (e *env) coordinator(t *testing.T, force bool) *Coordinator {
	t.Helper()
	procs := map[stage.Stage]executor.Processor{
		stage.StageEnhance:  e.proc,
		stage.StageGenerate: e.proc,
	}
	c, err := New(Options{
		Ledger:      e.ledger,
		Cache:       e.store,
		Stages:      e.cfgs,
		Processors:  procs,
		Concurrency: 2,
		Force:       force,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCoordinatorEndToEnd(t *testing.T) {
	e := newEnv(t, 3)

	// First run: every (unit, stage) pair reaches the provider once.
	summary, err := e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if !summary.Complete {
		t.Errorf("first run not complete: %+v", summary)
	}
	if got := summary.TotalProviderCalls(); got != 6 {
		t.Errorf("first run provider calls = %d, want 6", got)
	}
	if got := summary.TotalCacheHits(); got != 0 {
		t.Errorf("first run cache hits = %d, want 0", got)
	}

	// Second run: everything is served from cache, provider untouched.
	e.proc.calls.Store(0)
	summary, err = e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !summary.Complete {
		t.Error("second run not complete")
	}
	if got := summary.TotalCacheHits(); got != 6 {
		t.Errorf("second run cache hits = %d, want 6", got)
	}
	if got := summary.TotalProviderCalls(); got != 0 {
		t.Errorf("second run provider calls = %d, want 0", got)
	}
	if e.proc.calls.Load() != 0 {
		t.Errorf("provider invoked %d times on warm rerun", e.proc.calls.Load())
	}
}

func TestCoordinatorPartialFailure(t *testing.T) {
	e := newEnv(t, 3)
	bad := e.units[1]
	e.proc.failUnits = map[string]error{
		bad.ID: stage.Permanent(fmt.Errorf("malformed response")),
	}

	summary, err := e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete {
		t.Error("run with a failed unit reported complete")
	}
	if len(summary.FailedUnits) != 1 || summary.FailedUnits[0] != bad.ID {
		t.Errorf("failed units = %v, want [%s]", summary.FailedUnits, bad.ID)
	}

	// The failed unit is blocked at the next stage, not attempted there.
	gen := summary.Stage(stage.StageGenerate)
	if gen.Blocked != 1 {
		t.Errorf("generate blocked = %d, want 1", gen.Blocked)
	}
	if gen.Succeeded != 2 {
		t.Errorf("generate succeeded = %d, want 2", gen.Succeeded)
	}
	if got := e.ledger.StatusOf(bad.ID, stage.StageGenerate); got != stage.StatusPending {
		t.Errorf("blocked pair status = %s, want pending", got)
	}

	// Rerun with the provider fixed: only the failed unit's work runs,
	// the rest is served from cache.
	e.proc.failUnits = nil
	e.proc.calls.Store(0)
	summary, err = e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if !summary.Complete {
		t.Error("resume run not complete")
	}
	if got := e.proc.calls.Load(); got != 2 {
		t.Errorf("resume provider calls = %d, want 2 (enhance + generate for one unit)", got)
	}
	if got := summary.TotalCacheHits(); got != 4 {
		t.Errorf("resume cache hits = %d, want 4", got)
	}
}

func TestCoordinatorResumeAfterDanglingSuccess(t *testing.T) {
	e := newEnv(t, 2)

	summary, err := e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if !summary.Complete {
		t.Fatal("first run not complete")
	}

	// Simulate a lost cache entry behind a ledger success claim.
	u := e.units[0]
	if err := e.store.Delete(u.ID, stage.StageEnhance, "v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	e.proc.calls.Store(0)
	summary, err = e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if summary.DemotedOnResume != 1 {
		t.Errorf("demoted on resume = %d, want 1", summary.DemotedOnResume)
	}
	if !summary.Complete {
		t.Error("resume run not complete")
	}
	// Only the demoted pair reprocesses.
	if got := e.proc.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
}

func TestCoordinatorForceReprocess(t *testing.T) {
	e := newEnv(t, 2)

	if _, err := e.coordinator(t, false).Run(context.Background(), e.units); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	e.proc.calls.Store(0)
	summary, err := e.coordinator(t, true).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("force Run: %v", err)
	}
	if !summary.Complete {
		t.Error("force run not complete")
	}
	if got := e.proc.calls.Load(); got != 4 {
		t.Errorf("force run provider calls = %d, want 4 (cache invalidated)", got)
	}
	if got := summary.TotalCacheHits(); got != 0 {
		t.Errorf("force run cache hits = %d, want 0", got)
	}
}

func TestCoordinatorSourceChangeDiscardsProgress(t *testing.T) {
	e := newEnv(t, 2)

	if _, err := e.coordinator(t, false).Run(context.Background(), e.units); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// New source content: new hash, new unit IDs.
	changed := make([]unit.Unit, 2)
	for i := range changed {
		changed[i] = unit.New("newhash", i, fmt.Sprintf("revised rules %d", i))
	}

	e.proc.calls.Store(0)
	summary, err := e.coordinator(t, false).Run(context.Background(), changed)
	if err != nil {
		t.Fatalf("Run after change: %v", err)
	}
	if !summary.Complete {
		t.Error("run after change not complete")
	}
	if got := e.proc.calls.Load(); got != 4 {
		t.Errorf("provider calls = %d, want 4 (old progress discarded)", got)
	}
	if got := e.ledger.SourceHash(); got != "newhash" {
		t.Errorf("ledger source hash = %s, want newhash", got)
	}
	if len(e.ledger.UnitIDs()) != 2 {
		t.Errorf("ledger tracks %d units, want 2", len(e.ledger.UnitIDs()))
	}
}

func TestCoordinatorSkipsEmptyUnits(t *testing.T) {
	e := newEnv(t, 2)
	e.units[1].RawText = ""

	summary, err := e.coordinator(t, false).Run(context.Background(), e.units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Complete {
		t.Error("run with skipped unit should still be complete")
	}
	enh := summary.Stage(stage.StageEnhance)
	if enh.Skipped != 1 || enh.Succeeded != 1 {
		t.Errorf("enhance summary = %+v", enh)
	}
	// The skipped unit advances: generate also skips it (still empty).
	gen := summary.Stage(stage.StageGenerate)
	if gen.Skipped != 1 {
		t.Errorf("generate skipped = %d, want 1", gen.Skipped)
	}
	if got := e.proc.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestCoordinatorOptionValidation(t *testing.T) {
	e := newEnv(t, 1)

	_, err := New(Options{
		Ledger: e.ledger,
		Cache:  e.store,
		Stages: e.cfgs,
		// Missing processors.
	})
	if err == nil {
		t.Error("expected error for missing processors")
	}

	_, err = New(Options{
		Cache:  e.store,
		Stages: e.cfgs,
	})
	if err == nil {
		t.Error("expected error for missing ledger")
	}
}
