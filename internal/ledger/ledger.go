// Package ledger implements the durable progress record: which units
// have completed which stages. The ledger is the single source of truth
// for "what has run"; the cache store is the source of truth for "what
// was produced". It is persisted as a single YAML file rewritten
// atomically on every mutation, and guarded by a file lock so two
// pipeline processes cannot race it.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/skillpress/skillpress/internal/stage"
	"github.com/skillpress/skillpress/internal/unit"
)

// fileVersion is bumped when the on-disk format changes.
const fileVersion = 1

// StageRecord is the per-stage state of one unit.
type StageRecord struct {
	Status         stage.Status `yaml:"status"`
	Attempts       int          `yaml:"attempts,omitempty"`
	LastError      string       `yaml:"last_error,omitempty"`
	Degraded       bool         `yaml:"degraded,omitempty"`
	RetentionRatio float64      `yaml:"retention_ratio,omitempty"`
	UpdatedAt      time.Time    `yaml:"updated_at,omitempty"`
}

// Entry maps one unit to its per-stage records.
type Entry struct {
	Ordinal int                          `yaml:"ordinal"`
	Stages  map[stage.Stage]*StageRecord `yaml:"stages"`
}

type ledgerFile struct {
	Version    int               `yaml:"version"`
	SourceHash string            `yaml:"source_hash,omitempty"`
	UpdatedAt  time.Time         `yaml:"updated_at"`
	Units      map[string]*Entry `yaml:"units"`
}

// Ledger is the in-memory view of the ledger file. All mutations are
// persisted before they are considered applied.
type Ledger struct {
	mu         sync.Mutex
	path       string
	lock       *flock.Flock
	order      []stage.Stage
	sourceHash string
	units      map[string]*Entry

	// violations found at load time: entries whose ordering invariant
	// was broken and were demoted to failed rather than trusted.
	violations []*stage.ConsistencyViolation
	// interrupted counts running entries demoted to pending at load.
	interrupted int
}

// Open loads (or creates) the ledger at path, acquiring an exclusive
// file lock first. Entries violating the stage ordering invariant are
// demoted to failed; entries left running by an interrupted run are
// demoted to pending.
func Open(path string, order []stage.Stage) (*Ledger, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("stage order is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &stage.PersistenceError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &stage.PersistenceError{Op: "lock", Path: path, Err: err}
	}
	if !locked {
		return nil, fmt.Errorf("ledger %s is locked by another process", path)
	}

	l := &Ledger{
		path:  path,
		lock:  lock,
		order: order,
		units: make(map[string]*Entry),
	}

	if err := l.load(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return l, nil
}

// Close releases the ledger's file lock.
func (l *Ledger) Close() error {
	return l.lock.Unlock()
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &stage.PersistenceError{Op: "load", Path: l.path, Err: err}
	}

	var f ledgerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return &stage.PersistenceError{Op: "decode", Path: l.path, Err: err}
	}
	if f.Units != nil {
		l.units = f.Units
	}
	l.sourceHash = f.SourceHash

	l.validate()

	// Persist demotions immediately so a crash during validation
	// handling cannot resurrect the bad state.
	if len(l.violations) > 0 || l.interrupted > 0 {
		return l.persist()
	}
	return nil
}

// validate enforces the ordering invariant: a unit may not be success
// at stage k+1 unless it is success at stage k. Violations are demoted
// to failed and surfaced via Violations. Running entries are demoted to
// pending (the previous run was interrupted mid-attempt).
func (l *Ledger) validate() {
	for unitID, entry := range l.units {
		if entry.Stages == nil {
			entry.Stages = make(map[stage.Stage]*StageRecord)
		}

		prevSuccess := true
		for _, st := range l.order {
			rec, ok := entry.Stages[st]
			if !ok {
				prevSuccess = false
				continue
			}

			if rec.Status == stage.StatusRunning {
				rec.Status = stage.StatusPending
				rec.UpdatedAt = time.Now().UTC()
				l.interrupted++
			}

			if rec.Status == stage.StatusSuccess && !prevSuccess {
				rec.Status = stage.StatusFailed
				rec.LastError = "demoted: earlier stage not complete"
				rec.UpdatedAt = time.Now().UTC()
				l.violations = append(l.violations, &stage.ConsistencyViolation{
					UnitID: unitID,
					Stage:  st,
					Reason: "success recorded before earlier stage completed",
				})
			}

			prevSuccess = rec.Status == stage.StatusSuccess || rec.Status == stage.StatusSkipped
		}
	}
}

func (l *Ledger) persist() error {
	f := ledgerFile{
		Version:    fileVersion,
		SourceHash: l.sourceHash,
		UpdatedAt:  time.Now().UTC(),
		Units:      l.units,
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return &stage.PersistenceError{Op: "encode", Path: l.path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.tmp")
	if err != nil {
		return &stage.PersistenceError{Op: "tempfile", Path: l.path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &stage.PersistenceError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &stage.PersistenceError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return &stage.PersistenceError{Op: "rename", Path: l.path, Err: err}
	}
	return nil
}

// SetSourceHash records the fingerprint of the source document.
func (l *Ledger) SetSourceHash(hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sourceHash == hash {
		return nil
	}
	l.sourceHash = hash
	return l.persist()
}

// SourceHash returns the recorded source fingerprint.
func (l *Ledger) SourceHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sourceHash
}

// Register creates pending entries for units not yet tracked.
func (l *Ledger) Register(units []unit.Unit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	for _, u := range units {
		if _, ok := l.units[u.ID]; ok {
			continue
		}
		l.units[u.ID] = &Entry{
			Ordinal: u.Ordinal,
			Stages:  make(map[stage.Stage]*StageRecord),
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return l.persist()
}

// MarkStarted transitions a (unit, stage) pair to running. It enforces
// mutual exclusion per pair and the ordering invariant: the previous
// stage must be success (or skipped) before this stage may start.
func (l *Ledger) MarkStarted(unitID string, st stage.Stage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not registered", unitID)
	}

	if idx := stageIndex(l.order, st); idx > 0 {
		prev := l.order[idx-1]
		rec := entry.Stages[prev]
		if rec == nil || (rec.Status != stage.StatusSuccess && rec.Status != stage.StatusSkipped) {
			return &stage.ConsistencyViolation{
				UnitID: unitID,
				Stage:  st,
				Reason: fmt.Sprintf("stage %s has not completed", prev),
			}
		}
	} else if idx < 0 {
		return fmt.Errorf("stage %s is not in the configured order", st)
	}

	rec := entry.Stages[st]
	if rec != nil {
		switch rec.Status {
		case stage.StatusRunning:
			return fmt.Errorf("unit %s stage %s is already running", unitID, st)
		case stage.StatusSuccess:
			return fmt.Errorf("unit %s stage %s is already complete", unitID, st)
		}
	}

	entry.Stages[st] = &StageRecord{
		Status:    stage.StatusRunning,
		Attempts:  attemptsOf(rec),
		UpdatedAt: time.Now().UTC(),
	}
	return l.persist()
}

func attemptsOf(rec *StageRecord) int {
	if rec == nil {
		return 0
	}
	return rec.Attempts
}

// MarkSuccess records a completed stage with its quality metrics.
func (l *Ledger) MarkSuccess(unitID string, st stage.Stage, attempts int, m stage.Metrics) error {
	return l.markTerminal(unitID, st, &StageRecord{
		Status:         stage.StatusSuccess,
		Attempts:       attempts,
		Degraded:       m.Degraded,
		RetentionRatio: m.RetentionRatio,
		UpdatedAt:      time.Now().UTC(),
	})
}

// MarkFailed records a failed stage with its last error.
func (l *Ledger) MarkFailed(unitID string, st stage.Stage, attempts int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.markTerminal(unitID, st, &StageRecord{
		Status:    stage.StatusFailed,
		Attempts:  attempts,
		LastError: msg,
		UpdatedAt: time.Now().UTC(),
	})
}

// MarkSkipped records a stage as intentionally not run for this unit.
func (l *Ledger) MarkSkipped(unitID string, st stage.Stage) error {
	return l.markTerminal(unitID, st, &StageRecord{
		Status:    stage.StatusSkipped,
		UpdatedAt: time.Now().UTC(),
	})
}

func (l *Ledger) markTerminal(unitID string, st stage.Stage, rec *StageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not registered", unitID)
	}
	entry.Stages[st] = rec
	return l.persist()
}

// MarkInterrupted returns a running pair to pending without recording
// a failure. The coordinator uses it when a run-level cancellation cuts
// an attempt short: the ledger must not be left with a running entry.
func (l *Ledger) MarkInterrupted(unitID string, st stage.Stage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not registered", unitID)
	}
	rec := entry.Stages[st]
	if rec == nil || rec.Status != stage.StatusRunning {
		return nil
	}
	rec.Status = stage.StatusPending
	rec.UpdatedAt = time.Now().UTC()
	return l.persist()
}

// Demote forces a (unit, stage) record to failed. Used by the
// consistency checker when a success claim has no cache entry backing it.
func (l *Ledger) Demote(unitID string, st stage.Stage, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not registered", unitID)
	}
	rec := entry.Stages[st]
	if rec == nil {
		rec = &StageRecord{}
		entry.Stages[st] = rec
	}
	rec.Status = stage.StatusFailed
	rec.LastError = reason
	rec.UpdatedAt = time.Now().UTC()
	return l.persist()
}

// Reset returns every terminal record for a unit to pending. This is
// the explicit force-reprocess directive; nothing else transitions a
// pair out of success.
func (l *Ledger) Reset(unitID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not registered", unitID)
	}
	entry.Stages = make(map[stage.Stage]*StageRecord)
	return l.persist()
}

// Clear drops every unit entry and the recorded source hash. The
// coordinator calls it when the source document itself has changed:
// unit IDs derive from the source fingerprint, so the old entries can
// never match again.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.units = make(map[string]*Entry)
	l.sourceHash = ""
	return l.persist()
}

// ResetAll clears stage state for every unit (full force reprocess).
func (l *Ledger) ResetAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.units {
		entry.Stages = make(map[stage.Stage]*StageRecord)
	}
	return l.persist()
}

// StatusOf returns the status of a (unit, stage) pair. Unknown units
// and unrecorded stages report pending.
func (l *Ledger) StatusOf(unitID string, st stage.Stage) stage.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return stage.StatusPending
	}
	rec, ok := entry.Stages[st]
	if !ok {
		return stage.StatusPending
	}
	return rec.Status
}

// Record returns a copy of the stage record for a pair, if present.
func (l *Ledger) Record(unitID string, st stage.Stage) (StageRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.units[unitID]
	if !ok {
		return StageRecord{}, false
	}
	rec, ok := entry.Stages[st]
	if !ok {
		return StageRecord{}, false
	}
	return *rec, true
}

// UnitsAtStage returns the IDs of units whose record for st has the
// given status, ordered by ordinal for deterministic iteration.
func (l *Ledger) UnitsAtStage(st stage.Stage, status stage.Status) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	type pair struct {
		id  string
		ord int
	}
	var out []pair
	for id, entry := range l.units {
		rec, ok := entry.Stages[st]
		if !ok {
			if status == stage.StatusPending {
				out = append(out, pair{id, entry.Ordinal})
			}
			continue
		}
		if rec.Status == status {
			out = append(out, pair{id, entry.Ordinal})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ord < out[j].ord })

	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.id
	}
	return ids
}

// UnitIDs returns all registered unit IDs ordered by ordinal.
func (l *Ledger) UnitIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	type pair struct {
		id  string
		ord int
	}
	pairs := make([]pair, 0, len(l.units))
	for id, entry := range l.units {
		pairs = append(pairs, pair{id, entry.Ordinal})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ord < pairs[j].ord })

	ids := make([]string, len(pairs))
	for i, p := range pairs {
		ids[i] = p.id
	}
	return ids
}

// Violations returns the ordering violations found when the ledger was
// loaded. The consistency checker reports these to the operator.
func (l *Ledger) Violations() []*stage.ConsistencyViolation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*stage.ConsistencyViolation, len(l.violations))
	copy(out, l.violations)
	return out
}

// Interrupted returns the count of running entries demoted to pending at load.
func (l *Ledger) Interrupted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted
}

func stageIndex(order []stage.Stage, st stage.Stage) int {
	for i, s := range order {
		if s == st {
			return i
		}
	}
	return -1
}
